// Package chain defines the interface required to turn a network's raw notifications into normalized transactions.
package chain

import (
	"github.com/juju/errors"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/chain/solana"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

// ErrUnsupported is returned by New for networks without a normalizer.
var ErrUnsupported = errors.New("chain: network not supported")

// Normalizer decodes raw notifications of one network. Implementations are pure and safe for concurrent use.
type Normalizer interface {
	Name() string
	Normalize(raw *model.RawEvent) (*model.NormalizedTransaction, error)
	ValidateAddress(addr string) error
}

// New returns the normalizer for the named network.
func New(name string) (Normalizer, error) {
	switch name {
	case solana.Name, "mainnet", "devnet":
		return solana.Normalizer{}, nil
	default:
		return nil, errors.Annotatef(ErrUnsupported, "%q", name)
	}
}
