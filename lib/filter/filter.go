// Package filter decides which normalized transactions are worth enriching and delivering.
//
// The five checks run in a fixed order and stop at the first rejection:
//
//	age       now - timestamp <= MaxAge
//	amount    some asset or native delta reaches MinAmount
//	program   some program of the transaction is allowlisted
//	denylist  some participant is not denylisted
//	status    the transaction succeeded and moved something
//
// Missing data passes: a transaction without timestamp passes the age check, one without deltas passes the amount
// check, one without program ids or with an empty allowlist passes the program check and one without participants
// passes the denylist check.
package filter

import (
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
	"github.com/shopspring/decimal"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

var logger = loggo.GetLogger("pulsetrack.filter")

// Default configuration values.
const (
	DefaultMaxAge         = 10 * time.Minute
	DefaultNativeDecimals = 9
)

// Check names one of the filter predicates.
type Check string

// Checks in evaluation order.
const (
	CheckAge      Check = "age"
	CheckAmount   Check = "amount"
	CheckProgram  Check = "program"
	CheckDenylist Check = "denylist"
	CheckStatus   Check = "status"
)

// Disabled switches individual checks off. The zero value runs all of them.
type Disabled struct {
	Age      bool `json:"age" yaml:"age"`
	Amount   bool `json:"amount" yaml:"amount"`
	Program  bool `json:"program" yaml:"program"`
	Denylist bool `json:"denylist" yaml:"denylist"`
	Status   bool `json:"status" yaml:"status"`
}

// Config of the filter.
type Config struct {
	MaxAge         time.Duration   `json:"maxAge" yaml:"maxAge"`
	MinAmount      decimal.Decimal `json:"minAmount" yaml:"minAmount"`
	NativeDecimals int32           `json:"nativeDecimals" yaml:"nativeDecimals"`
	Disabled       Disabled        `json:"disabled" yaml:"disabled"`
	Allowlist      []string        `json:"allowlist" yaml:"allowlist"`
	Denylist       []string        `json:"denylist" yaml:"denylist"`
}

// Filter is the relevance filter. It is safe for concurrent use; list changes only affect later evaluations.
type Filter struct {
	maxAge         time.Duration
	minAmount      decimal.Decimal
	nativeDecimals int32
	disabled       Disabled
	clock          clock.Clock

	listMu sync.RWMutex // guards the set pointers, swapped whole by SetLists
	allow  mapset.Set[string]
	deny   mapset.Set[string]
}

// New returns a filter.
func New(cfg Config, clk clock.Clock) *Filter {
	if clk == nil {
		clk = clock.WallClock
	}

	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	if cfg.NativeDecimals <= 0 {
		cfg.NativeDecimals = DefaultNativeDecimals
	}

	return &Filter{
		maxAge:         cfg.MaxAge,
		minAmount:      cfg.MinAmount.Abs(),
		nativeDecimals: cfg.NativeDecimals,
		disabled:       cfg.Disabled,
		clock:          clk,
		allow:          mapset.NewSet(cfg.Allowlist...),
		deny:           mapset.NewSet(cfg.Denylist...),
	}
}

// ShouldInclude reports whether tx passes every enabled check.
func (f *Filter) ShouldInclude(tx *model.NormalizedTransaction) bool {
	_, ok := f.Evaluate(tx)

	return ok
}

// Evaluate is ShouldInclude that also names the check that rejected tx.
func (f *Filter) Evaluate(tx *model.NormalizedTransaction) (Check, bool) {
	f.listMu.RLock()
	allow, deny := f.allow, f.deny
	f.listMu.RUnlock()

	switch {
	case !f.disabled.Age && !f.age(tx):
		return CheckAge, false
	case !f.disabled.Amount && !f.amount(tx):
		return CheckAmount, false
	case !f.disabled.Program && !allowedProgram(tx, allow):
		return CheckProgram, false
	case !f.disabled.Denylist && !denylist(tx, deny):
		return CheckDenylist, false
	case !f.disabled.Status && !status(tx):
		return CheckStatus, false
	}

	return "", true
}

func (f *Filter) age(tx *model.NormalizedTransaction) bool {
	if tx.Timestamp.IsZero() {
		return true
	}

	return f.clock.Now().Sub(tx.Timestamp) <= f.maxAge
}

func (f *Filter) amount(tx *model.NormalizedTransaction) bool {
	if len(tx.AssetDeltas) == 0 && len(tx.BalanceDeltas) == 0 {
		return true
	}

	for _, d := range tx.AssetDeltas {
		if d.Amount.Abs().GreaterThanOrEqual(f.minAmount) {
			return true
		}
	}

	for _, d := range tx.BalanceDeltas {
		if decimal.New(d.Lamports, -f.nativeDecimals).Abs().GreaterThanOrEqual(f.minAmount) {
			return true
		}
	}

	return false
}

func allowedProgram(tx *model.NormalizedTransaction, allow mapset.Set[string]) bool {
	if len(tx.Programs) == 0 || allow.Cardinality() == 0 {
		return true
	}

	for _, p := range tx.Programs {
		if allow.Contains(p) {
			return true
		}
	}

	return false
}

func denylist(tx *model.NormalizedTransaction, deny mapset.Set[string]) bool {
	participants := Participants(tx)
	if len(participants) == 0 {
		return true
	}

	for _, p := range participants {
		if !deny.Contains(p) {
			return true
		}
	}

	return false
}

func status(tx *model.NormalizedTransaction) bool {
	return tx.Status == model.StatusSuccess && (len(tx.AssetDeltas) > 0 || len(tx.BalanceDeltas) > 0)
}

// Participants returns the distinct addresses involved in tx: its subjects, asset owners and accounts with a native
// balance change.
func Participants(tx *model.NormalizedTransaction) []string {
	s := mapset.NewThreadUnsafeSet(tx.Subjects...)

	for _, d := range tx.AssetDeltas {
		if d.Owner != "" {
			s.Add(d.Owner)
		}
	}

	for _, d := range tx.BalanceDeltas {
		s.Add(d.Account)
	}

	out := s.ToSlice()
	sort.Strings(out)

	return out
}

// AddToAllowlist allowlists a program id.
func (f *Filter) AddToAllowlist(program string) {
	f.listMu.Lock()
	defer f.listMu.Unlock()

	if f.allow.Add(program) {
		logger.Infof("[%s] program allowlisted", program)
	}
}

// RemoveFromAllowlist removes a program id from the allowlist.
func (f *Filter) RemoveFromAllowlist(program string) {
	f.listMu.Lock()
	defer f.listMu.Unlock()

	f.allow.Remove(program)
}

// AddToDenylist denylists an address.
func (f *Filter) AddToDenylist(addr string) {
	f.listMu.Lock()
	defer f.listMu.Unlock()

	if f.deny.Add(addr) {
		logger.Infof("[%s] address denylisted", addr)
	}
}

// RemoveFromDenylist removes an address from the denylist.
func (f *Filter) RemoveFromDenylist(addr string) {
	f.listMu.Lock()
	defer f.listMu.Unlock()

	f.deny.Remove(addr)
}

// Lists returns sorted copies of both lists.
func (f *Filter) Lists() model.FilterLists {
	f.listMu.RLock()
	defer f.listMu.RUnlock()

	l := model.FilterLists{Allowlist: f.allow.ToSlice(), Denylist: f.deny.ToSlice()}

	sort.Strings(l.Allowlist)
	sort.Strings(l.Denylist)

	return l
}

// SetLists replaces both lists, typically with the persisted ones at startup. Evaluations see either the old lists
// or the new ones.
func (f *Filter) SetLists(l model.FilterLists) {
	allow, deny := mapset.NewSet(l.Allowlist...), mapset.NewSet(l.Denylist...)

	f.listMu.Lock()
	f.allow, f.deny = allow, deny
	f.listMu.Unlock()
}
