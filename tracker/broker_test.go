package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg"
)

// fakeBroker delivers queued requests with the same mutex handshake as the real brokers.
type fakeBroker struct {
	queue []msg.SubjectReq
	acked chan msg.SubjectReq

	mu   sync.Mutex
	sent []*model.EnrichedTransaction
}

func (b *fakeBroker) Setup() error { return nil }

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) SendRequest(string, msg.SubjectReq) error { return nil }

func (b *fakeBroker) GetReqs(_ string, mut *sync.Mutex) (<-chan msg.SubjectReq, <-chan error, error) {
	reqs := make(chan msg.SubjectReq)
	errs := make(chan error)

	go func() {
		defer close(reqs)
		defer close(errs)

		for _, r := range b.queue {
			reqs <- r
			mut.Lock()
			b.acked <- r
		}
	}()

	return reqs, errs, nil
}

func (b *fakeBroker) SendTrans(_ string, txs []*model.EnrichedTransaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, txs...)

	return nil
}

func TestManageRequests(t *testing.T) {
	f := newFixture(t, Config{})

	b := &fakeBroker{
		queue: []msg.SubjectReq{
			{Net: "testnet", Subject: "alice", Act: msg.LISTEN},
			{Net: "testnet", Subject: "bob", Act: msg.LISTEN},
			{Net: "othernet", Subject: "carol", Act: msg.LISTEN},
			{Net: "testnet", Subject: "bad", Act: msg.LISTEN},
			{Net: "testnet", Subject: "alice", Act: msg.UNLISTEN},
		},
		acked: make(chan msg.SubjectReq, 5),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.tr.ManageRequests(ctx, b))

	for i := range b.queue {
		select {
		case <-b.acked:
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d not acknowledged", i)
		}
	}

	assert.Equal(t, []string{"bob"}, f.tr.Subjects())
}

func TestPublisher(t *testing.T) {
	f := newFixture(t, Config{})
	b := &fakeBroker{}

	f.tr.Observe(Publisher(b, "testnet"))

	f.tx("t1", 1, "usdc")
	f.s.h.OnRawEvent(model.RawEvent{Signature: "t1"})
	f.rec.wait(t, 1)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()

		return len(b.sent) == 1 && b.sent[0].ID == "t1"
	}, time.Second, 5*time.Millisecond)
}
