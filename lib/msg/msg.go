// Package msg defines the interface for different message brokers.
//
// Two topic exchanges carry the traffic of every network:
//
//   - sr ("subject requests"): operators and other services publish subject requests to this exchange
//   - te ("tracker events"): the tracker publishes the enriched transactions it emits to this exchange
package msg

import (
	"sync"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

// Exchange (AMQP) and topic suffix (Kafka) names.
const (
	SubjectRequests = "sr"
	TrackerEvents   = "te"
)

// Actions to be applied to subjects.
const (
	LISTEN   = 0
	UNLISTEN = 1
)

// SubjectReq asks the tracker of network Net to start or stop tracking Subject.
type SubjectReq struct {
	Net     string `json:"net"`
	Subject string `json:"subject"`
	Act     int    `json:"act"` // action to be applied
}

// Valid reports whether the request is well formed for network net.
func (r SubjectReq) Valid(net string) bool {
	return r.Net == net && r.Subject != "" && (r.Act == LISTEN || r.Act == UNLISTEN)
}

// Broker is implemented by every message broker.
type Broker interface {
	Setup() error
	Close() error

	// SendRequest publishes a subject request.
	SendRequest(net string, r SubjectReq) error
	// GetReqs consumes the subject requests of network net. The caller locks mut before calling and unlocks it after
	// handling each request; the broker acknowledges a request only once it gets hold of mut.
	GetReqs(net string, mut *sync.Mutex) (<-chan SubjectReq, <-chan error, error)
	// SendTrans publishes emitted transactions.
	SendTrans(net string, txs []*model.EnrichedTransaction) error
}
