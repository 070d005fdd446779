// Package credential keeps the pool of access tokens used to authenticate the streaming connection. It chooses the
// least recently used healthy token, cools down tokens that keep failing and periodically asks its owners to rotate.
package credential

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("pulsetrack.credential")

// ErrUnavailable is returned by Next when the pool is empty. Callers must not try to connect.
var ErrUnavailable = errors.New("credential: no credentials available")

// Default configuration values.
const (
	DefaultFailureThreshold = 3
	DefaultFailureCooldown  = time.Minute
	DefaultFailureReset     = 5 * time.Minute
	DefaultRotateInterval   = 5 * time.Minute
)

// Config tunes the rotator. Zero values take the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures a credential tolerates before cooling down.
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`
	// FailureCooldown is how long after its last use a failing credential is skipped.
	FailureCooldown time.Duration `json:"failureCooldown" yaml:"failureCooldown"`
	// FailureReset is how long after the first failure the failure count returns to zero.
	FailureReset time.Duration `json:"failureReset" yaml:"failureReset"`
	// RotateInterval is the period of the proactive rotation. Negative disables it.
	RotateInterval time.Duration `json:"rotateInterval" yaml:"rotateInterval"`
}

func (c *Config) init() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}

	if c.FailureCooldown <= 0 {
		c.FailureCooldown = DefaultFailureCooldown
	}

	if c.FailureReset <= 0 {
		c.FailureReset = DefaultFailureReset
	}

	if c.RotateInterval == 0 {
		c.RotateInterval = DefaultRotateInterval
	}
}

type entry struct {
	token      string
	lastUsedAt time.Time
	useSeq     uint64 // breaks ties between uses stamped at the same instant
	failures   int
	reset      clock.Timer // pending failure reset, nil when none
}

// Status is a read-only view of a credential. The token is masked.
type Status struct {
	Token               string    `json:"token"`
	LastUsedAt          time.Time `json:"lastUsedAt"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CooldownUntil       time.Time `json:"cooldownUntil,omitempty"`
}

// Rotator owns the credential pool. It is safe for concurrent use so several connections can share one.
type Rotator struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	entries   []*entry
	uses      uint64
	listeners []func()
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New returns a rotator over tokens. Empty and repeated tokens are ignored.
func New(tokens []string, cfg Config, clk clock.Clock) *Rotator {
	if clk == nil {
		clk = clock.WallClock
	}

	cfg.init()

	r := &Rotator{cfg: cfg, clock: clk}
	for _, t := range tokens {
		r.addLocked(t)
	}

	return r
}

// Add puts a new token in the pool, for instance after the connection gave up for lack of healthy credentials.
func (r *Rotator) Add(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addLocked(token)
}

func (r *Rotator) addLocked(token string) bool {
	if token == "" {
		return false
	}

	for _, e := range r.entries {
		if e.token == token {
			return false
		}
	}

	r.entries = append(r.entries, &entry{token: token})

	return true
}

// Len returns the pool size.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Next picks the least recently used credential that is not cooling down and stamps it as used. When every credential
// is cooling down it still returns the least recently used one so the connection stays live.
func (r *Rotator) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return "", ErrUnavailable
	}

	now := r.clock.Now()

	var best, fallback *entry

	for _, e := range r.entries {
		if fallback == nil || e.usedBefore(fallback) {
			fallback = e
		}

		if r.coolingDown(e, now) {
			continue
		}

		if best == nil || e.usedBefore(best) {
			best = e
		}
	}

	if best == nil {
		logger.Warningf("all %d credentials are cooling down, using least recently used", len(r.entries))

		best = fallback
	}

	r.uses++
	best.lastUsedAt = now
	best.useSeq = r.uses

	return best.token, nil
}

func (e *entry) usedBefore(o *entry) bool {
	if !e.lastUsedAt.Equal(o.lastUsedAt) {
		return e.lastUsedAt.Before(o.lastUsedAt)
	}

	return e.useSeq < o.useSeq
}

func (r *Rotator) coolingDown(e *entry, now time.Time) bool {
	return e.failures > r.cfg.FailureThreshold && now.Sub(e.lastUsedAt) < r.cfg.FailureCooldown
}

// MarkFailed records a failure of token. The first failure arms a timer that zeroes the count after FailureReset;
// later failures do not push that timer back.
func (r *Rotator) MarkFailed(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.token != token {
			continue
		}

		e.failures++
		logger.Debugf("[%s] credential failure %d", mask(token), e.failures)

		if e.reset == nil {
			target := e
			target.reset = r.clock.AfterFunc(r.cfg.FailureReset, func() {
				r.mu.Lock()
				defer r.mu.Unlock()

				target.failures = 0
				target.reset = nil
			})
		}

		return
	}
}

// OnRotate registers f to be called on every rotation. Connections use it to reconnect with a fresh credential.
func (r *Rotator) OnRotate(f func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, f)
	r.mu.Unlock()
}

// Rotate asks every listener to cycle its credential, spreading load across the pool even without failures.
func (r *Rotator) Rotate() {
	r.mu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.Unlock()

	logger.Debugf("rotating credentials for %d listeners", len(listeners))

	for _, f := range listeners {
		f()
	}
}

// Start launches the periodic rotation. It is a no-op when already started or when rotation is disabled.
func (r *Rotator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil || r.cfg.RotateInterval < 0 {
		return
	}

	stop := make(chan struct{})
	r.stop = stop

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-stop:
				return
			case <-r.clock.After(r.cfg.RotateInterval):
				r.Rotate()
			}
		}
	}()
}

// Stop ends the periodic rotation and cancels the pending failure resets. Failure counts are kept.
func (r *Rotator) Stop() {
	r.mu.Lock()

	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}

	for _, e := range r.entries {
		if e.reset != nil {
			e.reset.Stop()
			e.reset = nil
		}
	}

	r.mu.Unlock()

	r.wg.Wait()
}

// Status returns a snapshot of the pool.
func (r *Rotator) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]Status, 0, len(r.entries))

	for _, e := range r.entries {
		s := Status{Token: mask(e.token), LastUsedAt: e.lastUsedAt, ConsecutiveFailures: e.failures}
		if e.failures > r.cfg.FailureThreshold {
			s.CooldownUntil = e.lastUsedAt.Add(r.cfg.FailureCooldown)
		}

		res = append(res, s)
	}

	return res
}

func mask(token string) string {
	if len(token) <= 6 { //nolint:gomnd // keep short tokens fully hidden
		return "***"
	}

	return token[:3] + "***" + token[len(token)-3:]
}
