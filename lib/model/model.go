// Package model contains the provider agnostic types that flow through the tracker pipeline.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a transaction as reported by the network.
type Status uint8

// Transaction statuses.
const (
	StatusSuccess Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}

	return "failed"
}

// MarshalText renders the status in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "success" or "failed".
func (s *Status) UnmarshalText(b []byte) error {
	if string(b) == "success" {
		*s = StatusSuccess
	} else {
		*s = StatusFailed
	}

	return nil
}

// AssetDelta is the change of a token balance owned by Owner, expressed in UI units (raw amount scaled by the mint
// decimals). Amount is signed: negative for outgoing transfers.
type AssetDelta struct {
	Owner    string          `json:"owner"`
	AssetID  string          `json:"assetId"`
	Amount   decimal.Decimal `json:"amount"`
	Decimals int32           `json:"decimals"`
}

// BalanceDelta is the change of the native balance of an account in native units (lamports).
type BalanceDelta struct {
	Account  string `json:"account"`
	Lamports int64  `json:"lamports"`
}

// NormalizedTransaction is the decoded, provider agnostic transaction record. It is derived deterministically from a
// raw stream event and is never modified once built.
type NormalizedTransaction struct {
	ID            string         `json:"id"`
	Slot          uint64         `json:"slot"`
	Subjects      []string       `json:"subjects"`
	AssetDeltas   []AssetDelta   `json:"assetDeltas,omitempty"`
	BalanceDeltas []BalanceDelta `json:"balanceDeltas,omitempty"`
	Programs      []string       `json:"programs,omitempty"`
	Timestamp     time.Time      `json:"timestamp"` // zero when the network did not report a block time
	Status        Status         `json:"status"`
	Error         string         `json:"error,omitempty"`
}

// AssetIDs returns the distinct asset ids referenced by the transaction, in order of first appearance.
func (t *NormalizedTransaction) AssetIDs() []string {
	seen := make(map[string]struct{}, len(t.AssetDeltas))
	ids := make([]string, 0, len(t.AssetDeltas))

	for _, d := range t.AssetDeltas {
		if _, ok := seen[d.AssetID]; ok {
			continue
		}

		seen[d.AssetID] = struct{}{}
		ids = append(ids, d.AssetID)
	}

	return ids
}

// AssetMetadata is the externally fetched description of an asset.
type AssetMetadata struct {
	AssetID   string          `json:"assetId"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	PriceUSD  decimal.Decimal `json:"priceUsd"`
	HasPrice  bool            `json:"hasPrice"` // providers do not price every asset
	LogoURL   string          `json:"logoUrl,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// EnrichedAsset is an asset delta together with its metadata, if it could be fetched, and its value in USD, if it
// could be computed.
type EnrichedAsset struct {
	AssetDelta
	Metadata *AssetMetadata   `json:"metadata,omitempty"`
	USDValue *decimal.Decimal `json:"usdValue,omitempty"`
}

// EnrichedTransaction is the unit delivered to consumers and kept in the bounded history.
type EnrichedTransaction struct {
	NormalizedTransaction
	Assets     []EnrichedAsset  `json:"assets,omitempty"`
	USDValue   *decimal.Decimal `json:"usdValue,omitempty"` // sum of the asset values that could be computed
	Seq        uint64           `json:"seq"`                // arrival sequence within the tracker
	ReceivedAt time.Time        `json:"receivedAt"`
}

// FilterLists are the program allowlist and the address denylist of the relevance filter.
type FilterLists struct {
	Allowlist []string `json:"allowlist" yaml:"allowlist"`
	Denylist  []string `json:"denylist" yaml:"denylist"`
}
