// Package kafka implements the message broker interface for Kafka.
//
// Each network uses two topics, <net>.sr for subject requests and <net>.te for tracker events. Requests are read by a
// consumer group and committed once handled.
package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/segmentio/kafka-go"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg"
)

var logger = loggo.GetLogger("pulsetrack.msg.kafka")

// DefaultGroupID is the consumer group of the request readers.
const DefaultGroupID = "pulsetrack-tracker"

// Topic returns the topic of kind (msg.SubjectRequests or msg.TrackerEvents) for network net.
func Topic(net, kind string) string {
	return net + "." + kind
}

// Kafka implements msg.Broker.
type Kafka struct {
	brokers []string
	groupID string
	writer  *kafka.Writer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	readers []*kafka.Reader
}

// New returns a broker writing to and reading from the given bootstrap brokers.
func New(brokers []string, groupID string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}

	if groupID == "" {
		groupID = DefaultGroupID
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Kafka{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Setup is a no-op: topics are created on first write.
func (k *Kafka) Setup() error {
	logger.Infof("using kafka brokers %v", k.brokers)

	return nil
}

// Close stops the readers and flushes the writer.
func (k *Kafka) Close() error {
	k.cancel()

	k.mu.Lock()
	for _, r := range k.readers {
		if err := r.Close(); err != nil {
			logger.Warningf("closing reader: %v", err)
		}
	}
	k.readers = nil
	k.mu.Unlock()

	return errors.Trace(k.writer.Close())
}

// SendTrans writes the transactions to the tracker events topic, keyed by transaction id.
func (k *Kafka) SendTrans(net string, txs []*model.EnrichedTransaction) error {
	msgs := make([]kafka.Message, 0, len(txs))

	for _, t := range txs {
		doc, err := json.Marshal(t)
		if err != nil {
			return errors.Trace(err)
		}

		msgs = append(msgs, kafka.Message{
			Topic: Topic(net, msg.TrackerEvents),
			Key:   []byte(t.ID),
			Value: doc,
		})
	}

	if err := k.writer.WriteMessages(k.ctx, msgs...); err != nil {
		logger.Errorf("[%s] error sending %d transaction events: %v", net, len(msgs), err)

		return errors.Annotate(err, "kafka: write")
	}

	return nil
}

// SendRequest writes a subject request keyed by subject, so requests for one subject stay ordered.
func (k *Kafka) SendRequest(net string, req msg.SubjectReq) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return errors.Trace(err)
	}

	m := kafka.Message{Topic: Topic(net, msg.SubjectRequests), Key: []byte(req.Subject), Value: doc}

	if err := k.writer.WriteMessages(k.ctx, m); err != nil {
		return errors.Annotate(err, "kafka: write")
	}

	return nil
}

// GetReqs reads the subject requests topic of network net. A request is committed once the consumer unlocks mut.
func (k *Kafka) GetReqs(net string, mut *sync.Mutex) (<-chan msg.SubjectReq, <-chan error, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: k.brokers,
		GroupID: k.groupID,
		Topic:   Topic(net, msg.SubjectRequests),
	})

	k.mu.Lock()
	k.readers = append(k.readers, r)
	k.mu.Unlock()

	reqs := make(chan msg.SubjectReq)
	errs := make(chan error)

	go func() {
		defer close(reqs)
		defer close(errs)

		for {
			m, err := r.FetchMessage(k.ctx)
			if err != nil {
				if k.ctx.Err() == nil {
					logger.Errorf("[%s] reading requests: %v", net, err)
				}

				return
			}

			var req msg.SubjectReq
			if err := json.Unmarshal(m.Value, &req); err != nil {
				errs <- errors.Annotate(err, "kafka: decoding request")
			} else {
				reqs <- req
				mut.Lock() // wait for the tracker to finish processing the request
			}

			if err := r.CommitMessages(k.ctx, m); err != nil {
				logger.Warningf("[%s] commit failed: %v", net, err)
			}
		}
	}()

	return reqs, errs, nil
}
