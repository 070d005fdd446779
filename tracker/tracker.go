// Package tracker runs the pipeline of one network: it owns the stream connection and the tracked subjects, turns raw
// notifications into enriched transactions and hands them to the registered observers.
package tracker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/chain"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/filter"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/metrics"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/stream"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/tracker/history"
)

var logger = loggo.GetLogger("pulsetrack.tracker")

// DefaultMaxInFlight bounds the transactions being enriched at the same time.
const DefaultMaxInFlight = 64

// ErrInvalidSubject is returned for subjects that are not valid addresses of the network.
var ErrInvalidSubject = errors.New("tracker: invalid subject")

// Stream is the connection the tracker drives. *stream.Connection implements it.
type Stream interface {
	Connect(ctx context.Context) error
	Reconnect() error
	Disconnect()
	Subscribe(subject string) stream.SubscribeStatus
	Unsubscribe(subject string) stream.SubscribeStatus
	State() stream.State
	Subscriptions() (active, pending []string)
}

// Enricher returns the metadata of an asset or nil when it is not available. *enrich.Cache implements it.
type Enricher interface {
	Get(ctx context.Context, assetID string) *model.AssetMetadata
}

// Config of a tracker.
type Config struct {
	Net             string `json:"net" yaml:"net"`
	HistoryCapacity int    `json:"historyCapacity" yaml:"historyCapacity"`
	MaxInFlight     int    `json:"maxInFlight" yaml:"maxInFlight"`
	// Unordered emits transactions as soon as they are enriched instead of in arrival order.
	Unordered bool `json:"unordered" yaml:"unordered"`
}

// Option customizes a tracker.
type Option func(*Tracker)

// WithStore persists subjects and filter lists in db.
func WithStore(db store.DB) Option {
	return func(t *Tracker) { t.db = db }
}

// WithMetrics records the pipeline counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.m = m }
}

// WithClock sets the clock stamping received transactions.
func WithClock(clk clock.Clock) Option {
	return func(t *Tracker) { t.clock = clk }
}

// Tracker is the orchestrator of one network.
type Tracker struct {
	cfg    Config
	conn   Stream
	filter *filter.Filter
	enr    Enricher
	norm   chain.Normalizer
	db     store.DB
	m      *metrics.Metrics
	clock  clock.Clock
	hist   *history.History

	subMu    sync.Mutex // serializes subject changes
	subjects mapset.Set[string]

	runMu    sync.Mutex
	ctx      context.Context // cancelled by Stop to cut enrichment short
	cancel   context.CancelFunc
	stopping bool // set by Stop, no enrichment starts while it holds
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	seqMu sync.Mutex
	seq   uint64

	deliverMu sync.Mutex
	next      uint64                                // next sequence number to emit in strict mode
	parked    map[uint64]*model.EnrichedTransaction // enriched ahead of their turn
	emitted   atomic.Uint64

	obsMu     sync.RWMutex
	obsID     int
	observers []observerEntry
}

// New returns a stopped tracker. connect builds the stream connection that reports to the given handler.
func New(cfg Config, connect func(stream.Handler) Stream, f *filter.Filter, enr Enricher, norm chain.Normalizer,
	opts ...Option) *Tracker {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	if cfg.Net == "" {
		cfg.Net = norm.Name()
	}

	t := &Tracker{
		cfg:      cfg,
		filter:   f,
		enr:      enr,
		norm:     norm,
		clock:    clock.WallClock,
		hist:     history.New(cfg.HistoryCapacity),
		subjects: mapset.NewSet[string](),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		next:     1,
		parked:   map[uint64]*model.EnrichedTransaction{},
	}

	for _, o := range opts {
		o(t)
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.conn = connect(t)

	return t
}

// Net returns the network name.
func (t *Tracker) Net() string { return t.cfg.Net }

// Start loads the persisted subjects and filter lists, queues the subscriptions and connects. Failures of the first
// connection attempt are retried in the background; only a missing credential is returned.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	if t.ctx.Err() != nil {
		t.ctx, t.cancel = context.WithCancel(context.Background())
	}
	t.stopping = false
	t.runMu.Unlock()

	if t.db != nil {
		if err := t.load(ctx); err != nil {
			return err
		}
	}

	t.subMu.Lock()
	for _, s := range t.subjects.ToSlice() {
		t.conn.Subscribe(s)
	}
	t.subMu.Unlock()

	logger.Infof("[%s] starting with %d subjects", t.cfg.Net, t.subjects.Cardinality())

	err := t.conn.Connect(ctx)
	if errors.Is(err, stream.ErrNoCredentials) {
		return errors.Trace(err)
	}

	if err != nil {
		logger.Warningf("[%s] first connection attempt failed: %v", t.cfg.Net, err)
	}

	return nil
}

func (t *Tracker) load(ctx context.Context) error {
	subjects, err := t.db.GetSubjects(ctx, t.cfg.Net)
	if err != nil {
		return errors.Annotate(err, "tracker: loading subjects")
	}

	t.subjects.Append(subjects...)
	t.m.Subjects(t.subjects.Cardinality())

	lists, err := t.db.LoadLists(ctx, t.cfg.Net)

	switch {
	case err == nil:
		t.filter.SetLists(lists)
	case errors.Is(err, store.ErrDataNotFound):
	default:
		return errors.Annotate(err, "tracker: loading filter lists")
	}

	return nil
}

// Stop disconnects the stream and waits for the transactions in flight. Those still being enriched are emitted with
// whatever metadata was already available.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	t.stopping = true
	t.cancel()
	t.runMu.Unlock()

	t.conn.Disconnect()
	t.wg.Wait()

	logger.Infof("[%s] stopped", t.cfg.Net)
}

// Connect restarts a stream that gave up reconnecting. It is a no-op while the stream is connecting or open.
func (t *Tracker) Connect(ctx context.Context) error {
	return errors.Trace(t.conn.Connect(ctx))
}

// Reconnect swaps the stream credential. It is wired to the credential rotator.
func (t *Tracker) Reconnect() {
	if err := t.conn.Reconnect(); err != nil {
		logger.Warningf("[%s] reconnect: %v", t.cfg.Net, err)
	}
}

// AddSubject starts tracking subject. Adding a tracked subject is a no-op.
func (t *Tracker) AddSubject(ctx context.Context, subject string) error {
	if err := t.norm.ValidateAddress(subject); err != nil {
		return errors.Annotatef(ErrInvalidSubject, "%q: %v", subject, err)
	}

	t.subMu.Lock()
	defer t.subMu.Unlock()

	if !t.subjects.Add(subject) {
		return nil
	}

	st := t.conn.Subscribe(subject)
	t.m.Subjects(t.subjects.Cardinality())

	logger.Infof("[%s] tracking %s (deferred %t)", t.cfg.Net, subject, st == stream.Deferred)

	if t.db != nil {
		if err := t.db.AddSubject(ctx, t.cfg.Net, subject); err != nil {
			return errors.Annotatef(err, "tracker: saving subject %s", subject)
		}
	}

	return nil
}

// RemoveSubject stops tracking subject. Removing an untracked subject is a no-op.
func (t *Tracker) RemoveSubject(ctx context.Context, subject string) error {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	if !t.subjects.Contains(subject) {
		return nil
	}

	t.subjects.Remove(subject)
	t.conn.Unsubscribe(subject)
	t.m.Subjects(t.subjects.Cardinality())

	logger.Infof("[%s] no longer tracking %s", t.cfg.Net, subject)

	if t.db != nil {
		err := t.db.RemoveSubject(ctx, t.cfg.Net, subject)
		if err != nil && !errors.Is(err, store.ErrSubjectNotFound) {
			return errors.Annotatef(err, "tracker: deleting subject %s", subject)
		}
	}

	return nil
}

// Subjects returns the tracked subjects, sorted.
func (t *Tracker) Subjects() []string {
	s := t.subjects.ToSlice()
	sort.Strings(s)

	return s
}

// History returns up to limit of the last emitted transactions, most recent first. limit <= 0 returns all of them.
func (t *Tracker) History(limit int) []*model.EnrichedTransaction {
	return t.hist.List(limit)
}

// ClearHistory empties the history.
func (t *Tracker) ClearHistory() {
	t.hist.Clear()
}

// Status is a snapshot of the tracker.
type Status struct {
	Net       string       `json:"net"`
	State     stream.State `json:"state"`
	Subjects  int          `json:"subjects"`
	Active    []string     `json:"active"`
	Pending   []string     `json:"pending"`
	Emitted   uint64       `json:"emitted"`
	History   int          `json:"history"`
	Observers int          `json:"observers"`
}

// Status returns a snapshot of the tracker.
func (t *Tracker) Status() Status {
	active, pending := t.conn.Subscriptions()

	t.obsMu.RLock()
	n := len(t.observers)
	t.obsMu.RUnlock()

	return Status{
		Net:       t.cfg.Net,
		State:     t.conn.State(),
		Subjects:  t.subjects.Cardinality(),
		Active:    active,
		Pending:   pending,
		Emitted:   t.emitted.Load(),
		History:   t.hist.Len(),
		Observers: n,
	}
}

// FilterLists returns the current allowlist and denylist.
func (t *Tracker) FilterLists() model.FilterLists {
	return t.filter.Lists()
}

// AllowProgram adds program to the filter allowlist.
func (t *Tracker) AllowProgram(ctx context.Context, program string) error {
	t.filter.AddToAllowlist(program)

	return t.saveLists(ctx)
}

// DisallowProgram removes program from the filter allowlist.
func (t *Tracker) DisallowProgram(ctx context.Context, program string) error {
	t.filter.RemoveFromAllowlist(program)

	return t.saveLists(ctx)
}

// DenyAddress adds addr to the filter denylist.
func (t *Tracker) DenyAddress(ctx context.Context, addr string) error {
	if err := t.norm.ValidateAddress(addr); err != nil {
		return errors.Annotatef(ErrInvalidSubject, "%q: %v", addr, err)
	}

	t.filter.AddToDenylist(addr)

	return t.saveLists(ctx)
}

// UndenyAddress removes addr from the filter denylist.
func (t *Tracker) UndenyAddress(ctx context.Context, addr string) error {
	t.filter.RemoveFromDenylist(addr)

	return t.saveLists(ctx)
}

func (t *Tracker) saveLists(ctx context.Context) error {
	if t.db == nil {
		return nil
	}

	return errors.Annotate(t.db.SaveLists(ctx, t.cfg.Net, t.filter.Lists()), "tracker: saving filter lists")
}

// OnConnected implements stream.Handler.
func (t *Tracker) OnConnected() {
	logger.Infof("[%s] stream connected", t.cfg.Net)
	t.m.Connected()
	t.m.State(t.conn.State().String())
	t.notify("connected", func(o Observer) { o.OnConnected() })
}

// OnDisconnected implements stream.Handler.
func (t *Tracker) OnDisconnected(reason error) {
	logger.Infof("[%s] stream disconnected: %v", t.cfg.Net, reason)
	t.m.State(t.conn.State().String())
	t.notify("disconnected", func(o Observer) { o.OnDisconnected(reason) })
}

// OnError implements stream.Handler. It is also where enrichment failures are reported.
func (t *Tracker) OnError(kind model.ErrorKind, err error) {
	logger.Warningf("[%s] %s error: %v", t.cfg.Net, kind, err)
	t.m.Error(kind.String())
	t.notify("error", func(o Observer) { o.OnError(kind, err) })
}

// OnReconnectExhausted implements stream.Handler.
func (t *Tracker) OnReconnectExhausted() {
	logger.Errorf("[%s] stream gave up reconnecting", t.cfg.Net)
	t.m.Exhausted()
	t.m.State(t.conn.State().String())
	t.notify("reconnect exhausted", func(o Observer) { o.OnReconnectExhausted() })
	t.OnError(model.ExhaustionError, stream.ErrReconnectExhausted)
}

// OnRawEvent implements stream.Handler. It runs on the stream read loop: it normalizes and filters synchronously
// and enriches in the background.
func (t *Tracker) OnRawEvent(ev model.RawEvent) {
	t.m.Received()

	tx, err := t.norm.Normalize(&ev)
	if err != nil {
		t.m.Malformed()
		t.OnError(model.ProtocolError, errors.Annotate(err, "tracker: normalizing event"))

		return
	}

	if check, ok := t.filter.Evaluate(tx); !ok {
		logger.Tracef("[%s] %s dropped by %s check", t.cfg.Net, tx.ID, check)
		t.m.Filtered(string(check))

		return
	}

	t.runMu.Lock()
	ctx := t.ctx
	t.runMu.Unlock()

	// Blocks the read loop while too many transactions are in flight.
	if err := t.sem.Acquire(ctx, 1); err != nil {
		logger.Debugf("[%s] %s dropped while stopping", t.cfg.Net, tx.ID)

		return
	}

	t.runMu.Lock()
	if t.stopping {
		t.runMu.Unlock()
		t.sem.Release(1)
		logger.Debugf("[%s] %s dropped while stopping", t.cfg.Net, tx.ID)

		return
	}
	t.wg.Add(1)
	t.runMu.Unlock()

	t.seqMu.Lock()
	t.seq++
	seq := t.seq
	t.seqMu.Unlock()

	received := t.clock.Now()

	go func() {
		defer t.wg.Done()
		defer t.sem.Release(1)

		t.deliver(t.enrich(ctx, tx, seq, received))
	}()
}

// enrich fetches the metadata of the distinct assets of tx concurrently and computes their USD values.
func (t *Tracker) enrich(ctx context.Context, tx *model.NormalizedTransaction, seq uint64,
	received time.Time) *model.EnrichedTransaction {
	ids := tx.AssetIDs()
	mds := make([]*model.AssetMetadata, len(ids))

	var g errgroup.Group

	for i, id := range ids {
		g.Go(func() error {
			mds[i] = t.enr.Get(ctx, id)

			return nil
		})
	}

	_ = g.Wait()

	byID := make(map[string]*model.AssetMetadata, len(ids))
	for i, id := range ids {
		byID[id] = mds[i]
	}

	etx := &model.EnrichedTransaction{
		NormalizedTransaction: *tx,
		Seq:                   seq,
		ReceivedAt:            received,
	}

	var (
		total  decimal.Decimal
		priced bool
	)

	for _, d := range tx.AssetDeltas {
		a := model.EnrichedAsset{AssetDelta: d, Metadata: byID[d.AssetID]}

		if a.Metadata != nil && a.Metadata.HasPrice {
			v := d.Amount.Mul(a.Metadata.PriceUSD)
			a.USDValue = &v
			total = total.Add(v.Abs())
			priced = true
		}

		etx.Assets = append(etx.Assets, a)
	}

	if priced {
		etx.USDValue = &total
	}

	return etx
}

// deliver emits tx, in strict mode only once every transaction that arrived before it was emitted.
func (t *Tracker) deliver(tx *model.EnrichedTransaction) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	if t.cfg.Unordered {
		t.emit(tx)

		return
	}

	t.parked[tx.Seq] = tx

	for {
		next, ok := t.parked[t.next]
		if !ok {
			return
		}

		delete(t.parked, t.next)
		t.next++
		t.emit(next)
	}
}

// emit records tx and hands it to the observers. Callers hold deliverMu.
func (t *Tracker) emit(tx *model.EnrichedTransaction) {
	t.hist.Push(tx)
	t.emitted.Add(1)
	t.m.Emitted()

	logger.Debugf("[%s] emitting %s (seq %d)", t.cfg.Net, tx.ID, tx.Seq)

	t.notify("transaction", func(o Observer) { o.OnTransaction(tx) })
}
