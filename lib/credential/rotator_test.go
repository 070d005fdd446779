package credential

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextEmptyPool(t *testing.T) {
	r := New(nil, Config{}, testclock.NewClock(time.Now()))

	_, err := r.Next()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewIgnoresDuplicates(t *testing.T) {
	r := New([]string{"a", "", "b", "a"}, Config{}, testclock.NewClock(time.Now()))
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Add("b"))
	assert.True(t, r.Add("c"))
	assert.Equal(t, 3, r.Len())
}

// Three forced reconnects over a pool of two visit both credentials in least recently used order.
func TestNextRoundRobin(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := New([]string{"tokenA", "tokenB"}, Config{}, clk)

	var got []string

	r.OnRotate(func() {
		tok, err := r.Next()
		require.NoError(t, err)

		got = append(got, tok)
	})

	for i := 0; i < 3; i++ {
		r.Rotate()
		clk.Advance(time.Second)
	}

	assert.Equal(t, []string{"tokenA", "tokenB", "tokenA"}, got)
}

func TestNextRoundRobinWithoutTimeAdvance(t *testing.T) {
	r := New([]string{"tokenA", "tokenB"}, Config{}, testclock.NewClock(time.Now()))

	var got []string

	for i := 0; i < 4; i++ {
		tok, err := r.Next()
		require.NoError(t, err)

		got = append(got, tok)
	}

	assert.Equal(t, []string{"tokenA", "tokenB", "tokenA", "tokenB"}, got)
}

func TestFallbackRoundRobinWithoutTimeAdvance(t *testing.T) {
	cfg := Config{FailureThreshold: 1, FailureCooldown: 10 * time.Minute, RotateInterval: -1}
	r := New([]string{"tokenA", "tokenB"}, cfg, testclock.NewClock(time.Now()))

	for i := 0; i < 2; i++ {
		_, err := r.Next()
		require.NoError(t, err)
	}

	for _, tok := range []string{"tokenA", "tokenB"} {
		r.MarkFailed(tok)
		r.MarkFailed(tok)
	}

	var got []string

	for i := 0; i < 4; i++ {
		tok, err := r.Next()
		require.NoError(t, err)

		got = append(got, tok)
	}

	assert.Equal(t, []string{"tokenA", "tokenB", "tokenA", "tokenB"}, got)
}

func TestCooldownSkipsFailingCredential(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	cfg := Config{FailureThreshold: 1, FailureCooldown: 10 * time.Minute, FailureReset: time.Minute, RotateInterval: -1}
	r := New([]string{"tokenA", "tokenB"}, cfg, clk)

	tok, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "tokenA", tok)

	r.MarkFailed("tokenA")
	r.MarkFailed("tokenA")

	// tokenA is above the threshold and was used recently: tokenB wins every time.
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)

		tok, err = r.Next()
		require.NoError(t, err)
		assert.Equal(t, "tokenB", tok)
	}

	// The reset timer armed by the first failure zeroes the count.
	clk.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return r.Status()[0].ConsecutiveFailures == 0
	}, time.Second, 5*time.Millisecond)

	tok, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "tokenA", tok)
}

func TestResetTimerNotPushedBack(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := New([]string{"tokenA"}, Config{FailureReset: time.Minute, RotateInterval: -1}, clk)

	r.MarkFailed("tokenA")
	clk.Advance(50 * time.Second)
	r.MarkFailed("tokenA")
	assert.Equal(t, 2, r.Status()[0].ConsecutiveFailures)

	// One minute after the first failure, not the second.
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return r.Status()[0].ConsecutiveFailures == 0
	}, time.Second, 5*time.Millisecond)
}

func TestAllCoolingDownFallsBackToLRU(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	cfg := Config{FailureThreshold: 1, FailureCooldown: time.Hour, FailureReset: 2 * time.Hour, RotateInterval: -1}
	r := New([]string{"tokenA", "tokenB"}, cfg, clk)

	_, _ = r.Next() // tokenA
	clk.Advance(time.Second)
	_, _ = r.Next() // tokenB

	for _, tok := range []string{"tokenA", "tokenB"} {
		r.MarkFailed(tok)
		r.MarkFailed(tok)
	}

	clk.Advance(time.Second)

	tok, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "tokenA", tok)
}

func TestPeriodicRotation(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := New([]string{"tokenA"}, Config{RotateInterval: 5 * time.Minute}, clk)

	var calls int32

	r.OnRotate(func() { atomic.AddInt32(&calls, 1) })
	r.Start()

	require.NoError(t, clk.WaitAdvance(5*time.Minute, time.Second, 1))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, clk.WaitAdvance(5*time.Minute, time.Second, 1))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestStatusMasksTokens(t *testing.T) {
	r := New([]string{"abcdefghij", "xyz"}, Config{}, testclock.NewClock(time.Now()))

	st := r.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "abc***hij", st[0].Token)
	assert.Equal(t, "***", st[1].Token)
}
