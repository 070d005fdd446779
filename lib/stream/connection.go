// Package stream owns the live socket to the notification provider: it authenticates with a credential from the
// rotator, keeps the connection alive with heartbeats, reconnects with exponential backoff and replays subscriptions
// every time the connection opens.
package stream

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

var logger = loggo.GetLogger("pulsetrack.stream")

// Errors returned or surfaced by the connection.
var (
	ErrNoCredentials = errors.New("stream: no credentials available")
	ErrDisconnected  = errors.New("stream: disconnected by owner")
	ErrRotated       = errors.New("stream: closed to rotate credential")
	ErrStale         = errors.New("stream: connection attempt superseded")

	// ErrReconnectExhausted is not returned by the connection; owners surface it with OnReconnectExhausted.
	ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")
)

// State of a connection.
type State int

// Connection states. Reconnecting is Idle with a retry scheduled.
const (
	Idle State = iota
	Connecting
	Open
	Closing
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SubscribeStatus tells whether a subscription change went on the wire or waits for the next Open.
type SubscribeStatus int

// Subscription statuses.
const (
	Sent SubscribeStatus = iota
	Deferred
)

// CredentialSource hands out credentials and takes failure reports. *credential.Rotator implements it.
type CredentialSource interface {
	Next() (string, error)
	MarkFailed(token string)
}

// Handler receives the connection events. Calls are made from the connection goroutines, never with internal locks
// held.
type Handler interface {
	OnConnected()
	OnDisconnected(reason error)
	OnRawEvent(ev model.RawEvent)
	OnError(kind model.ErrorKind, err error)
	OnReconnectExhausted()
}

// Connection is one logical stream connection.
type Connection struct {
	cfg     Config
	dialer  Dialer
	creds   CredentialSource
	handler Handler
	clock   clock.Clock

	mu      sync.Mutex
	state   State
	gen     uint64 // bumped by Connect, Reconnect and Disconnect to invalidate older attempts
	t       Transport
	token   string
	attempt int
	active  mapset.Set[string]
	pending mapset.Set[string]
	retry   clock.Timer
	cancel  context.CancelFunc // stops the heartbeat of the current transport

	writeMu sync.Mutex
}

// New returns an idle connection.
func New(cfg Config, dialer Dialer, creds CredentialSource, handler Handler, clk clock.Clock) *Connection {
	if clk == nil {
		clk = clock.WallClock
	}

	cfg.init()

	return &Connection{
		cfg:     cfg,
		dialer:  dialer,
		creds:   creds,
		handler: handler,
		clock:   clk,
		active:  mapset.NewThreadUnsafeSet[string](),
		pending: mapset.NewThreadUnsafeSet[string](),
	}
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Subscriptions returns sorted snapshots of the active and pending subject sets.
func (c *Connection) Subscriptions() (active, pending []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	active = c.active.ToSlice()
	pending = c.pending.ToSlice()

	sort.Strings(active)
	sort.Strings(pending)

	return active, pending
}

// Connect opens the connection. It is a no-op while connecting or open. A failed attempt is retried in the
// background with backoff; the returned error only reports the first attempt. After reconnects were exhausted,
// Connect starts again from attempt zero.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()

	if c.state == Open || c.state == Connecting {
		c.mu.Unlock()

		return nil
	}

	gen := c.bumpLocked()
	c.attempt = 0
	c.mu.Unlock()

	return c.open(ctx, gen)
}

// Reconnect replaces a live transport with a new one using a fresh credential. It is the hook for proactive
// rotation; the replaced credential is not marked failed.
func (c *Connection) Reconnect() error {
	c.mu.Lock()

	if c.state != Open {
		c.mu.Unlock()

		return nil
	}

	gen := c.bumpLocked()
	t := c.detachLocked()
	c.state = Connecting
	c.mu.Unlock()

	logger.Debugf("reconnecting to rotate credential")

	if t != nil {
		_ = t.Close(CloseNormalClosure, "rotate")
	}

	c.handler.OnDisconnected(ErrRotated)

	return c.open(context.Background(), gen)
}

// Disconnect closes the connection, cancels every timer and forgets all subscriptions. It is idempotent and leaves
// the connection ready for a new Connect.
func (c *Connection) Disconnect() {
	c.mu.Lock()

	live := c.state != Idle
	gen := c.bumpLocked()
	c.state = Closing
	t := c.detachLocked()
	c.active.Clear()
	c.pending.Clear()
	c.attempt = 0
	c.mu.Unlock()

	if t != nil {
		_ = t.Close(CloseNormalClosure, "disconnect")
	}

	c.mu.Lock()
	if c.gen == gen {
		c.state = Idle
	}
	c.mu.Unlock()

	if live {
		logger.Infof("disconnected")
		c.handler.OnDisconnected(ErrDisconnected)
	}
}

// Subscribe asks for notifications about subject. While the connection is not open the intent is queued and
// Deferred is returned; it is sent when the connection opens.
func (c *Connection) Subscribe(subject string) SubscribeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open || c.t == nil {
		if !c.active.Contains(subject) {
			c.pending.Add(subject)
		}

		return Deferred
	}

	if c.active.Contains(subject) {
		return Sent
	}

	if err := c.send(c.t, encode(TypeSubscribe, subject)); err != nil {
		// The read loop sees the broken transport and reconnects, which replays pending subjects.
		logger.Warningf("[%s] subscribe failed, deferring: %v", subject, err)
		c.pending.Add(subject)

		return Deferred
	}

	c.pending.Remove(subject)
	c.active.Add(subject)

	return Sent
}

// Unsubscribe stops notifications about subject. Subscriptions do not outlive the server side connection, so when
// the connection is not open dropping the subject from both sets is all there is to do.
func (c *Connection) Unsubscribe(subject string) SubscribeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasActive := c.active.Contains(subject)
	c.active.Remove(subject)
	c.pending.Remove(subject)

	if c.state != Open || c.t == nil {
		return Deferred
	}

	if wasActive {
		if err := c.send(c.t, encode(TypeUnsubscribe, subject)); err != nil {
			logger.Warningf("[%s] unsubscribe failed: %v", subject, err)
		}
	}

	return Sent
}

// open performs one connection attempt for generation gen.
func (c *Connection) open(ctx context.Context, gen uint64) error {
	token, err := c.creds.Next()
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = Idle
		}
		c.mu.Unlock()

		logger.Errorf("cannot connect: %v", err)
		c.handler.OnError(model.AuthError, ErrNoCredentials)

		return ErrNoCredentials
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		return ErrStale
	}

	c.state = Connecting
	c.token = token
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	t, err := c.dialer.Dial(dctx, token)
	timedOut := dctx.Err() == context.DeadlineExceeded
	cancel()

	if err != nil {
		kind := model.TransportError
		if errors.Is(err, ErrUnauthorized) {
			kind = model.AuthError
		}

		if kind == model.AuthError || timedOut {
			c.creds.MarkFailed(token)
		}

		if t != nil {
			_ = t.Close(CloseGoingAway, "handshake failed")
		}

		logger.Warningf("connection attempt failed: %v", err)
		c.handler.OnError(kind, err)
		c.failed(gen)

		return errors.Annotate(err, "stream: connect")
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()

		_ = t.Close(CloseNormalClosure, "superseded")

		return ErrStale
	}

	sctx, scancel := context.WithCancel(context.Background())
	c.t = t
	c.cancel = scancel
	c.state = Open
	c.attempt = 0

	// Subscriptions die with the server side connection: replay everything we know about.
	subjects := c.active.Union(c.pending).ToSlice()
	sort.Strings(subjects)
	c.active = mapset.NewThreadUnsafeSet(subjects...)
	c.pending.Clear()

	for _, s := range subjects {
		if err := c.send(t, encode(TypeSubscribe, s)); err != nil {
			logger.Warningf("[%s] resubscribe failed: %v", s, err)

			break
		}
	}
	c.mu.Unlock()

	logger.Infof("connected, %d subscriptions replayed", len(subjects))

	go c.readLoop(t)
	go c.heartbeat(sctx, t)

	c.handler.OnConnected()

	return nil
}

// failed schedules the next attempt after a failed or lost connection of generation gen.
func (c *Connection) failed(gen uint64) {
	c.mu.Lock()

	if c.gen != gen {
		c.mu.Unlock()

		return
	}

	if c.attempt >= c.cfg.MaxAttempts {
		c.state = Idle
		c.mu.Unlock()

		logger.Errorf("giving up after %d reconnect attempts", c.cfg.MaxAttempts)
		c.handler.OnReconnectExhausted()

		return
	}

	delay := c.cfg.Backoff(c.attempt)
	c.attempt++
	c.state = Reconnecting
	c.retry = c.clock.AfterFunc(delay, func() { c.retryOpen(gen) })
	attempt := c.attempt
	c.mu.Unlock()

	logger.Infof("reconnect attempt %d in %v", attempt, delay)
}

func (c *Connection) retryOpen(gen uint64) {
	c.mu.Lock()

	if c.gen != gen || c.state != Reconnecting {
		c.mu.Unlock()

		return
	}

	c.retry = nil
	c.mu.Unlock()

	_ = c.open(context.Background(), gen)
}

func (c *Connection) readLoop(t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.lost(t, err)

			return
		}

		c.handleMessage(t, data)
	}
}

// lost handles the end of transport t.
func (c *Connection) lost(t Transport, err error) {
	c.mu.Lock()

	if c.t != t {
		// Closed on purpose by Disconnect or Reconnect.
		c.mu.Unlock()

		return
	}

	c.detachLocked()
	gen := c.gen

	var ce *CloseError
	if errors.As(err, &ce) && ce.Code == CloseNormalClosure {
		c.state = Idle
		c.mu.Unlock()

		logger.Infof("server closed the connection normally")
		c.handler.OnDisconnected(err)

		return
	}

	c.mu.Unlock()

	logger.Warningf("connection lost: %v", err)
	c.handler.OnDisconnected(err)
	c.handler.OnError(model.TransportError, err)
	c.failed(gen)
}

func (c *Connection) handleMessage(t Transport, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warningf("dropping malformed frame: %v", err)
		c.handler.OnError(model.ProtocolError, errors.Annotate(err, "stream: decode frame"))

		return
	}

	switch env.Type {
	case TypeNotification:
		var ev model.RawEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			logger.Warningf("dropping malformed notification: %v", err)
			c.handler.OnError(model.ProtocolError, errors.Annotate(err, "stream: decode notification"))

			return
		}

		c.handler.OnRawEvent(ev)
	case TypeSubscriptionAck:
		logger.Debugf("[%s] subscription confirmed", env.Subject)
	case TypePong:
	case TypeError:
		c.serverError(t, &ServerError{Code: env.Code, Message: env.Message})
	default:
		logger.Warningf("dropping frame of unknown type %q", env.Type)
		c.handler.OnError(model.ProtocolError, errors.Errorf("stream: unknown frame type %q", env.Type))
	}
}

func (c *Connection) serverError(t Transport, se *ServerError) {
	if !se.CredentialRelated() {
		logger.Warningf("server error: %v", se)
		c.handler.OnError(model.ProtocolError, se)

		return
	}

	c.mu.Lock()
	current := c.t == t
	token := c.token
	c.mu.Unlock()

	if !current {
		return
	}

	logger.Warningf("credential rejected: %v", se)
	c.creds.MarkFailed(token)
	c.handler.OnError(model.AuthError, se)

	if err := c.Reconnect(); err != nil {
		logger.Warningf("rotation after credential error failed: %v", err)
	}
}

// heartbeat sends a ping every HeartbeatInterval. No pong is awaited: the transport close is the liveness signal.
func (c *Connection) heartbeat(ctx context.Context, t Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.cfg.HeartbeatInterval):
			if err := c.send(t, encode(TypePing, "")); err != nil {
				logger.Warningf("heartbeat failed: %v", err)
				// Unblock the read loop so it reports the loss.
				_ = t.Close(CloseGoingAway, "heartbeat failed")

				return
			}
		}
	}
}

func (c *Connection) send(t Transport, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return t.WriteMessage(msg)
}

// bumpLocked invalidates pending attempts and timers and returns the new generation.
func (c *Connection) bumpLocked() uint64 {
	c.gen++

	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}

	return c.gen
}

// detachLocked forgets the current transport and stops its heartbeat. The caller closes the returned transport.
func (c *Connection) detachLocked() Transport {
	t := c.t
	c.t = nil

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	return t
}
