// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ).
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/streadway/amqp"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg"
)

var logger = loggo.GetLogger("pulsetrack.msg.amqp")

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection

	mu sync.Mutex // guards ch
	ch *amqp.Channel
}

// New connects to the broker at uri.
func New(uri string) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, errors.Annotate(err, "amqp: dial")
	}

	logger.Infof("connected to message broker")

	return &Amqp{conn: conn}, nil
}

// Setup declares the subject request and tracker event exchanges.
func (r *Amqp) Setup() error {
	// one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return errors.Trace(err)
	}
	defer channel.Close()

	for _, ex := range []string{msg.SubjectRequests, msg.TrackerEvents} {
		if err = channel.ExchangeDeclare(ex, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return errors.Annotatef(err, "amqp: declaring exchange %q", ex)
		}
	}

	return nil
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			logger.Warningf("closing channel: %v", err)
		}

		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, errors.Trace(err)
		}

		r.ch = ch
	}

	return r.ch, nil
}

// EventKey is the routing key of a tracker event.
func EventKey(net string, tx *model.EnrichedTransaction) string {
	return net + ".trans." + tx.ID
}

// RequestKey is the routing key of a subject request.
func RequestKey(net string, req msg.SubjectReq) string {
	act := "listen"
	if req.Act == msg.UNLISTEN {
		act = "unlisten"
	}

	return net + "." + act + "." + req.Subject
}

// SendTrans publishes transaction events to the tracker events exchange.
func (r *Amqp) SendTrans(net string, txs []*model.EnrichedTransaction) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}

	for _, t := range txs {
		doc, err := json.Marshal(t)
		if err != nil {
			return errors.Trace(err)
		}

		m := amqp.Publishing{
			Headers:     amqp.Table{"x-trans-name": net + "." + t.ID},
			Body:        doc,
			ContentType: "application/json",
		}

		if err = ch.Publish(msg.TrackerEvents, EventKey(net, t), false, false, m); err != nil {
			logger.Errorf("[%s] error sending transaction event: %v", net, err)

			return errors.Trace(err)
		}
	}

	return nil
}

// SendRequest publishes a subject request to the subject requests exchange.
func (r *Amqp) SendRequest(net string, req msg.SubjectReq) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return errors.Trace(err)
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-sreq-name": net + "." + req.Subject},
		Body:        doc,
		ContentType: "application/json",
	}

	if err = ch.Publish(msg.SubjectRequests, RequestKey(net, req), false, false, m); err != nil {
		logger.Errorf("[%s] error sending request: %v", net, err)

		return errors.Trace(err)
	}

	return nil
}

// GetReqs consumes requests from the subject requests exchange for network net.
func (r *Amqp) GetReqs(net string, mut *sync.Mutex) (<-chan msg.SubjectReq, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}

	queue := msg.SubjectRequests + net

	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, errors.Annotatef(err, "amqp: declaring queue %q", queue)
	}

	if err = ch.QueueBind(queue, net+".*.*", msg.SubjectRequests, false, nil); err != nil {
		return nil, nil, errors.Annotatef(err, "amqp: binding queue %q", queue)
	}

	deliveries, err := ch.Consume(queue, "tracker-"+net, false, false, false, false, nil)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	reqs := make(chan msg.SubjectReq)
	errs := make(chan error)

	go func() {
		defer close(reqs)
		defer close(errs)

		for d := range deliveries {
			var req msg.SubjectReq
			if err := json.Unmarshal(d.Body, &req); err != nil {
				errs <- errors.Annotate(err, "amqp: decoding request")
				// a malformed request will never decode, drop it
				_ = d.Nack(false, false)

				continue
			}

			reqs <- req
			mut.Lock() // wait for the tracker to finish processing the request

			if err := d.Ack(false); err != nil {
				logger.Warningf("[%s] ack failed: %v", net, err)
			}
		}
	}()

	return reqs, errs, nil
}
