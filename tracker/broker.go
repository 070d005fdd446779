package tracker

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg"
)

// ManageRequests starts a go routine applying the subject requests consumed from the broker until ctx is done or the
// broker closes the request channels.
func (t *Tracker) ManageRequests(ctx context.Context, mb msg.Broker) error {
	mut := new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := mb.GetReqs(t.cfg.Net, mut)
	if err != nil {
		return errors.Annotate(err, "tracker: cannot get requests")
	}

	go func() {
		logger.Infof("[%s] start listening to subject requests", t.cfg.Net)
		defer logger.Infof("[%s] stop listening to subject requests", t.cfg.Net)

		for reqCh != nil || errCh != nil {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-reqCh:
				if !ok {
					reqCh = nil

					continue
				}

				t.apply(ctx, req)
				mut.Unlock()
			case err, ok := <-errCh:
				if !ok {
					errCh = nil

					continue
				}

				logger.Warningf("[%s] request error: %v", t.cfg.Net, err)
			}
		}
	}()

	return nil
}

func (t *Tracker) apply(ctx context.Context, req msg.SubjectReq) {
	logger.Debugf("[%s] received request %+v", t.cfg.Net, req)

	if !req.Valid(t.cfg.Net) {
		logger.Warningf("[%s] ignoring request with net %q, subject %q and action %d", t.cfg.Net, req.Net, req.Subject,
			req.Act)

		return
	}

	var err error
	if req.Act == msg.LISTEN {
		err = t.AddSubject(ctx, req.Subject)
	} else {
		err = t.RemoveSubject(ctx, req.Subject)
	}

	if err != nil {
		logger.Errorf("[%s] request for %s failed: %v", t.cfg.Net, req.Subject, err)
	}
}

// Publisher returns an observer publishing every emitted transaction to the broker.
func Publisher(mb msg.Broker, net string) Observer {
	return ObserverFuncs{
		Transaction: func(tx *model.EnrichedTransaction) {
			if err := mb.SendTrans(net, []*model.EnrichedTransaction{tx}); err != nil {
				logger.Errorf("[%s] cannot publish %s: %v", net, tx.ID, err)
			}
		},
	}
}
