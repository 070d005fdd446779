package filter

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFilter(cfg Config) *Filter {
	return New(cfg, testclock.NewClock(now))
}

func transfer(amount string) *model.NormalizedTransaction {
	return &model.NormalizedTransaction{
		ID:          "tx",
		Subjects:    []string{"alice", "bob"},
		AssetDeltas: []model.AssetDelta{{Owner: "alice", AssetID: "usdc", Amount: decimal.RequireFromString(amount)}},
		Timestamp:   now.Add(-time.Minute),
		Programs:    []string{"token"},
		Status:      model.StatusSuccess,
	}
}

func TestDefaultsArePermissive(t *testing.T) {
	f := newFilter(Config{})

	tx := transfer("0.000001")
	tx.Timestamp = time.Time{}
	tx.Programs = nil
	assert.True(t, f.ShouldInclude(tx))

	// Nothing to judge the amount or the participants by, but the status check still wants a delta.
	bare := &model.NormalizedTransaction{ID: "bare", Status: model.StatusSuccess}
	check, ok := f.Evaluate(bare)
	assert.False(t, ok)
	assert.Equal(t, CheckStatus, check)

	f = newFilter(Config{Disabled: Disabled{Status: true}})
	assert.True(t, f.ShouldInclude(bare))
}

func TestAge(t *testing.T) {
	f := newFilter(Config{MaxAge: 5 * time.Minute})

	tx := transfer("1")
	tx.Timestamp = now.Add(-5 * time.Minute)
	assert.True(t, f.ShouldInclude(tx))

	tx.Timestamp = now.Add(-5*time.Minute - time.Second)
	check, ok := f.Evaluate(tx)
	assert.False(t, ok)
	assert.Equal(t, CheckAge, check)

	f = newFilter(Config{MaxAge: 5 * time.Minute, Disabled: Disabled{Age: true}})
	assert.True(t, f.ShouldInclude(tx))
}

func TestAmount(t *testing.T) {
	f := newFilter(Config{MinAmount: decimal.RequireFromString("10")})

	assert.True(t, f.ShouldInclude(transfer("10")))
	assert.True(t, f.ShouldInclude(transfer("-25.5")))

	check, ok := f.Evaluate(transfer("9.99"))
	assert.False(t, ok)
	assert.Equal(t, CheckAmount, check)

	// 12 SOL in lamports rescues a small token move.
	tx := transfer("1")
	tx.BalanceDeltas = []model.BalanceDelta{{Account: "bob", Lamports: -12_000_000_000}}
	assert.True(t, f.ShouldInclude(tx))

	tx.BalanceDeltas[0].Lamports = 9_000_000_000
	assert.False(t, f.ShouldInclude(tx))
}

func TestProgramAllowlist(t *testing.T) {
	f := newFilter(Config{Allowlist: []string{"swap"}})

	tx := transfer("1")
	check, ok := f.Evaluate(tx)
	assert.False(t, ok)
	assert.Equal(t, CheckProgram, check)

	tx.Programs = []string{"token", "swap"}
	assert.True(t, f.ShouldInclude(tx))

	tx.Programs = nil
	assert.True(t, f.ShouldInclude(tx), "no program data passes")

	f.RemoveFromAllowlist("swap")
	tx.Programs = []string{"token"}
	assert.True(t, f.ShouldInclude(tx), "empty allowlist passes")
}

func TestDenylist(t *testing.T) {
	f := newFilter(Config{Denylist: []string{"alice", "bob"}})

	tx := transfer("1")
	check, ok := f.Evaluate(tx)
	assert.False(t, ok)
	assert.Equal(t, CheckDenylist, check)

	tx.Subjects = append(tx.Subjects, "carol")
	assert.True(t, f.ShouldInclude(tx))
}

func TestFailedAlwaysExcluded(t *testing.T) {
	f := newFilter(Config{Disabled: Disabled{Age: true, Amount: true, Program: true, Denylist: true}})

	tx := transfer("1000000")
	tx.Status = model.StatusFailed
	assert.False(t, f.ShouldInclude(tx))

	f = newFilter(Config{})
	assert.False(t, f.ShouldInclude(tx))
}

func TestPure(t *testing.T) {
	f := newFilter(Config{MinAmount: decimal.RequireFromString("2"), Denylist: []string{"bob"}})

	for _, tx := range []*model.NormalizedTransaction{transfer("1"), transfer("3")} {
		first := f.ShouldInclude(tx)
		assert.Equal(t, first, f.ShouldInclude(tx))
	}
}

func TestMutatorsApplyToLaterEvaluations(t *testing.T) {
	f := newFilter(Config{})
	tx := transfer("1")

	require.True(t, f.ShouldInclude(tx))

	f.AddToDenylist("alice")
	f.AddToDenylist("bob")
	assert.False(t, f.ShouldInclude(tx))

	f.RemoveFromDenylist("bob")
	assert.True(t, f.ShouldInclude(tx))

	f.AddToAllowlist("swap")
	assert.False(t, f.ShouldInclude(tx))

	assert.Equal(t, model.FilterLists{Allowlist: []string{"swap"}, Denylist: []string{"alice"}}, f.Lists())

	f.SetLists(model.FilterLists{Denylist: []string{"x", "y"}})
	assert.Equal(t, model.FilterLists{Allowlist: []string{}, Denylist: []string{"x", "y"}}, f.Lists())
}

func TestSetListsSwapsWhole(t *testing.T) {
	f := newFilter(Config{Denylist: []string{"alice", "bob"}})
	tx := transfer("1")

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}

			l := model.FilterLists{Denylist: []string{"alice", "bob"}}
			if i%2 == 0 {
				l.Denylist = append(l.Denylist, "carol")
			}

			f.SetLists(l)
		}
	}()

	// Both participants are denylisted before, during and after every swap.
	for i := 0; i < 10000; i++ {
		check, ok := f.Evaluate(tx)
		if ok || check != CheckDenylist {
			close(stop)
			<-done
			t.Fatalf("evaluation %d saw a partial list: %q %v", i, check, ok)
		}
	}

	close(stop)
	<-done
}

func TestParticipants(t *testing.T) {
	tx := &model.NormalizedTransaction{
		Subjects:      []string{"b"},
		AssetDeltas:   []model.AssetDelta{{Owner: "c"}, {Owner: ""}},
		BalanceDeltas: []model.BalanceDelta{{Account: "a"}, {Account: "b"}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, Participants(tx))
}
