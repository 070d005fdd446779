// Package solana normalizes Solana transaction notifications.
package solana

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	sol "github.com/gagliardetto/solana-go"
	"github.com/juju/errors"
	"github.com/shopspring/decimal"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

// Name of the network.
const Name = "solana"

// Error codes.
var (
	ErrMalformed      = errors.New("solana: malformed notification")
	ErrInvalidAddress = errors.New("solana: invalid address")
)

// Normalizer implements chain.Normalizer for Solana.
type Normalizer struct{}

// Name implements chain.Normalizer.
func (Normalizer) Name() string { return Name }

// ValidateAddress implements chain.Normalizer.
func (Normalizer) ValidateAddress(addr string) error {
	return ValidateAddress(addr)
}

// Normalize implements chain.Normalizer.
func (Normalizer) Normalize(raw *model.RawEvent) (*model.NormalizedTransaction, error) {
	return Normalize(raw)
}

// ValidateAddress checks that addr is a base58 encoded public key.
func ValidateAddress(addr string) error {
	if _, err := sol.PublicKeyFromBase58(addr); err != nil {
		return errors.Annotatef(ErrInvalidAddress, "%q: %v", addr, err)
	}

	return nil
}

type assetKey struct {
	owner, mint string
}

// Normalize derives the normalized transaction from a raw notification. The result only depends on raw.
func Normalize(raw *model.RawEvent) (*model.NormalizedTransaction, error) {
	if raw == nil || raw.Signature == "" {
		return nil, errors.Annotate(ErrMalformed, "missing signature")
	}

	if _, err := sol.SignatureFromBase58(raw.Signature); err != nil {
		return nil, errors.Annotatef(ErrMalformed, "signature %q: %v", raw.Signature, err)
	}

	tx := &model.NormalizedTransaction{
		ID:     raw.Signature,
		Slot:   raw.Slot,
		Status: model.StatusSuccess,
	}

	if raw.Failed() {
		tx.Status = model.StatusFailed
		tx.Error = string(raw.Err)
	}

	if raw.BlockTime > 0 {
		tx.Timestamp = time.Unix(raw.BlockTime, 0).UTC()
	}

	subjects := mapset.NewThreadUnsafeSet[string]()

	// native balances, aggregated per account in order of appearance
	lamports := map[string]int64{}

	var accounts []string

	for _, a := range raw.Accounts {
		if a.Address == "" {
			return nil, errors.Annotate(ErrMalformed, "account change without address")
		}

		if _, ok := lamports[a.Address]; !ok {
			accounts = append(accounts, a.Address)
		}

		lamports[a.Address] += int64(a.Post) - int64(a.Pre)
	}

	for _, addr := range accounts {
		if d := lamports[addr]; d != 0 {
			tx.BalanceDeltas = append(tx.BalanceDeltas, model.BalanceDelta{Account: addr, Lamports: d})
			subjects.Add(addr)
		}
	}

	// token balances, aggregated per (owner, mint) in order of appearance
	amounts := map[assetKey]decimal.Decimal{}
	decimals := map[assetKey]int32{}

	var keys []assetKey

	for _, t := range raw.Tokens {
		if t.Mint == "" || t.Decimals < 0 {
			return nil, errors.Annotatef(ErrMalformed, "token change of account %q", t.Account)
		}

		owner := t.Owner
		if owner == "" {
			owner = t.Account
		}

		pre, err := rawAmount(t.Pre)
		if err != nil {
			return nil, err
		}

		post, err := rawAmount(t.Post)
		if err != nil {
			return nil, err
		}

		k := assetKey{owner: owner, mint: t.Mint}
		if _, ok := amounts[k]; !ok {
			keys = append(keys, k)
			amounts[k] = decimal.Zero
			decimals[k] = t.Decimals
		}

		amounts[k] = amounts[k].Add(post.Sub(pre).Shift(-t.Decimals))
	}

	for _, k := range keys {
		amt := amounts[k]
		if amt.IsZero() {
			continue
		}

		tx.AssetDeltas = append(tx.AssetDeltas, model.AssetDelta{
			Owner:    k.owner,
			AssetID:  k.mint,
			Amount:   amt,
			Decimals: decimals[k],
		})

		if k.owner != "" {
			subjects.Add(k.owner)
		}
	}

	tx.Subjects = subjects.ToSlice()
	sort.Strings(tx.Subjects)

	seen := mapset.NewThreadUnsafeSet[string]()

	for _, p := range raw.Programs {
		if p != "" && seen.Add(p) {
			tx.Programs = append(tx.Programs, p)
		}
	}

	return tx, nil
}

// rawAmount parses an unscaled integer amount; empty means zero.
func rawAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return decimal.Zero, errors.Annotatef(ErrMalformed, "amount %q", s)
	}

	return d, nil
}
