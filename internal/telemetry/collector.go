// Package telemetry batches analytics events tied to a session and delivers
// them to the backend, falling back to durable storage when delivery fails.
package telemetry

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/runnerr0/tidepool/internal/connectivity"
	"github.com/runnerr0/tidepool/internal/notify"
	"github.com/runnerr0/tidepool/internal/storage"
	"github.com/runnerr0/tidepool/internal/transport"
)

// Sender delivers encoded batches. *transport.Client satisfies it.
type Sender interface {
	SendEvents(ctx context.Context, endpoint string, req transport.EventsRequest) error
	SendBulk(ctx context.Context, endpoint string, req transport.EventsRequest) error
}

// BatchStore is the durable analytics namespace. *storage.SQLiteStore
// satisfies it.
type BatchStore interface {
	SaveBatch(ctx context.Context, b *storage.BatchRecord, maxBatches int) (int64, error)
	ListBatches(ctx context.Context) ([]storage.BatchRecord, error)
	UpdateBatchRetry(ctx context.Context, id string, retryCount int) error
	DeleteBatch(ctx context.Context, id string) error
}

// Connectivity is the shared online signal. *connectivity.Monitor
// satisfies it.
type Connectivity interface {
	Online() bool
	Subscribe(l connectivity.Listener) (unsubscribe func())
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

func (alwaysOnline) Subscribe(connectivity.Listener) (unsubscribe func()) { return func() {} }

// recentAttempts is the window SuccessRate is computed over.
const recentAttempts = 50

// Collector records events and ships them in batches.
type Collector struct {
	mu          sync.Mutex
	cfg         Config
	redactKeys  map[string]struct{}
	session     *Session
	lastSession *Session
	attribution Attribution
	userID      string
	queue       []Event
	vitals      map[string]float64
	metrics     Metrics
	outcomes    [recentAttempts]bool
	outcomeNext int
	closed      bool

	idleTimer    *time.Timer
	sessionTimer *time.Timer

	sender Sender
	store  BatchStore
	conn   Connectivity
	device DeviceInfo
	log    zerolog.Logger
	now    func() time.Time
	sample func() float64

	onEvent notify.Registry[EventCallback]
	onBatch notify.Registry[BatchCallback]
	onError notify.Registry[ErrorCallback]

	// ctx bounds background sends; Close cancels it once queued work has
	// had its chance to finish.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
	unsubscribe func()
	reconciling atomic.Bool
}

// Option configures a Collector.
type Option func(*Collector)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// WithStore enables the durable offline fallback.
func WithStore(s BatchStore) Option {
	return func(c *Collector) { c.store = s }
}

// WithConnectivity sets the online signal. Without one the collector
// assumes it is always online.
func WithConnectivity(conn Connectivity) Option {
	return func(c *Collector) { c.conn = conn }
}

// WithDevice overrides the device snapshot attached to events.
func WithDevice(d DeviceInfo) Option {
	return func(c *Collector) { c.device = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithSampler replaces the uniform [0,1) source used for sampling.
func WithSampler(fn func() float64) Option {
	return func(c *Collector) { c.sample = fn }
}

// New creates a Collector. Call Start to begin periodic flushing and
// reconciliation.
func New(cfg Config, sender Sender, opts ...Option) *Collector {
	cfg = cfg.normalized()
	c := &Collector{
		cfg:        cfg,
		redactKeys: redactionSet(cfg.RedactedProperties),
		vitals:     make(map[string]float64),
		sender:     sender,
		conn:       alwaysOnline{},
		device:     CurrentDevice(),
		log:        zerolog.Nop(),
		now:        time.Now,
		sample:     rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start launches the flush loop, subscribes to connectivity changes and
// reconciles any batches left over from earlier runs.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.startLoopLocked()
	c.mu.Unlock()

	unsubscribe := c.conn.Subscribe(func(online bool) {
		if online {
			c.reconcileAsync()
		}
	})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	c.reconcileAsync()
}

func (c *Collector) startLoopLocked() {
	if c.cfg.FlushInterval <= 0 {
		return
	}
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	go c.flushLoop(c.cfg.FlushInterval, c.stopCh, c.loopDone)
}

// stopLoopLocked detaches the running loop. The caller closes stop and
// waits on done after releasing the lock.
func (c *Collector) stopLoopLocked() (stop, done chan struct{}) {
	stop, done = c.stopCh, c.loopDone
	c.stopCh, c.loopDone = nil, nil
	return stop, done
}

func (c *Collector) flushLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			fx := &effects{}
			if !c.closed {
				c.cutLocked(fx)
			}
			c.mu.Unlock()
			c.apply(fx)
		}
	}
}

// effects collects work produced under the lock that must run after it is
// released.
type effects struct {
	events  []Event
	batches []*Batch
}

func (c *Collector) apply(fx *effects) {
	for _, ev := range fx.events {
		c.emitEvent(ev)
	}
	for _, b := range fx.batches {
		go func(b *Batch) {
			defer c.wg.Done()
			c.deliver(c.ctx, b)
		}(b)
	}
}

// cutLocked moves the queue into a batch. The WaitGroup is incremented here
// so Close cannot start waiting between the cut and the send.
func (c *Collector) cutLocked(fx *effects) {
	if len(c.queue) == 0 {
		return
	}
	b := &Batch{ID: uuid.NewString(), Events: c.queue, CreatedAt: c.now()}
	c.queue = nil
	c.wg.Add(1)
	fx.batches = append(fx.batches, b)
}

// Track records an event. It is a no-op when the collector is disabled or
// the event is sampled out.
func (c *Collector) Track(name string, props map[string]any, typ EventType) {
	if typ == "" {
		typ = EventCustom
	}
	if name == "" {
		name = string(typ)
	}

	c.mu.Lock()
	if c.closed || !c.cfg.Enabled {
		c.mu.Unlock()
		return
	}
	fx := &effects{}
	now := c.now()
	c.touchLocked(now, fx)
	if c.sample() >= c.cfg.SamplingRate {
		c.metrics.EventsSampledOut++
	} else {
		c.enqueueLocked(c.newEventLocked(name, typ, props, now), fx)
	}
	c.mu.Unlock()
	c.apply(fx)
}

func (c *Collector) enqueueLocked(ev Event, fx *effects) {
	c.queue = append(c.queue, ev)
	c.metrics.EventsTracked++
	if c.session != nil && c.session.ID == ev.SessionID {
		c.session.Events++
		if ev.Type == EventPageView {
			c.session.PageViews++
		}
	}
	fx.events = append(fx.events, ev)
	if len(c.queue) >= c.cfg.BatchSize {
		c.cutLocked(fx)
	}
}

func (c *Collector) newEventLocked(name string, typ EventType, props map[string]any, now time.Time) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Name:       name,
		Properties: redact(props, c.redactKeys),
		Timestamp:  now,
		UserID:     c.userID,
		Device:     c.device,
		Network:    NetworkInfo{Online: c.conn.Online()},
	}
	if c.session != nil {
		ev.SessionID = c.session.ID
	}
	if c.cfg.EnablePerformance && (typ == EventPageView || typ == EventPerformance) {
		ev.Performance = c.performanceLocked()
	}
	return ev
}

func (c *Collector) performanceLocked() *PerformanceInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p := &PerformanceInfo{
		HeapAllocBytes: ms.HeapAlloc,
		HeapObjects:    ms.HeapObjects,
		NumGC:          ms.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
	if len(c.vitals) > 0 {
		p.Vitals = make(map[string]float64, len(c.vitals))
		for k, v := range c.vitals {
			p.Vitals[k] = v
		}
	}
	return p
}

// TrackPageView records a page view.
func (c *Collector) TrackPageView(path, title string, props map[string]any) {
	p := mergeProps(props, map[string]any{"path": path, "title": title})
	c.Track("page_view", p, EventPageView)
}

// TrackError records a handled error.
func (c *Collector) TrackError(err error, props map[string]any) {
	if err == nil {
		return
	}
	c.Track("error", mergeProps(props, map[string]any{"message": err.Error()}), EventError)
}

// TrackConversion records a conversion with its value.
func (c *Collector) TrackConversion(name string, value float64, props map[string]any) {
	c.Track(name, mergeProps(props, map[string]any{"value": value}), EventConversion)
}

// Identify attaches userID to subsequent events.
func (c *Collector) Identify(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// SetAttribution records the referrer and UTM fields on the current and
// future sessions.
func (c *Collector) SetAttribution(a Attribution) {
	c.mu.Lock()
	c.attribution = a
	if c.session != nil {
		c.session.Attribution = a
	}
	c.mu.Unlock()
}

func mergeProps(props, extra map[string]any) map[string]any {
	out := make(map[string]any, len(props)+len(extra))
	for k, v := range props {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Flush cuts the queue and delivers it in the calling goroutine. It
// returns an error only when the batch could be neither delivered nor
// stored.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return nil
	}
	b := &Batch{ID: uuid.NewString(), Events: c.queue, CreatedAt: c.now()}
	c.queue = nil
	c.mu.Unlock()

	return c.deliver(ctx, b)
}

// Metrics returns a snapshot of the delivery counters.
func (c *Collector) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.EventsQueued = len(c.queue)
	m.Attempts, m.SuccessRate = c.successRateLocked()
	return m
}

func (c *Collector) recordAttempt(ok bool) {
	c.mu.Lock()
	c.outcomes[c.outcomeNext%recentAttempts] = ok
	c.outcomeNext++
	c.mu.Unlock()
}

func (c *Collector) successRateLocked() (int, float64) {
	n := min(c.outcomeNext, recentAttempts)
	if n == 0 {
		return 0, 0
	}
	ok := 0
	for i := 0; i < n; i++ {
		if c.outcomes[i] {
			ok++
		}
	}
	return n, float64(ok) / float64(n)
}

// Session returns a copy of the live session, or of the last ended one when
// no session is live.
func (c *Collector) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return *c.session, true
	}
	if c.lastSession != nil {
		return *c.lastSession, true
	}
	return Session{}, false
}

// Config returns the active configuration.
func (c *Collector) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig replaces the configuration. A changed flush interval
// restarts the flush loop, and a smaller batch size cuts the queue at once.
func (c *Collector) UpdateConfig(cfg Config) {
	cfg = cfg.normalized()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	old := c.cfg
	c.cfg = cfg
	c.redactKeys = redactionSet(cfg.RedactedProperties)

	var stop, done chan struct{}
	if c.started && old.FlushInterval != cfg.FlushInterval {
		stop, done = c.stopLoopLocked()
	}
	fx := &effects{}
	if len(c.queue) >= cfg.BatchSize {
		c.cutLocked(fx)
	}
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
		c.mu.Lock()
		if !c.closed && c.stopCh == nil {
			c.startLoopLocked()
		}
		c.mu.Unlock()
	}
	c.apply(fx)
}

// Close ends the session, flushes the queue through the bulk endpoint and
// waits for in-flight sends. If ctx expires first, pending retries are
// abandoned and their batches go to durable storage.
func (c *Collector) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	fx := &effects{}
	if c.session != nil {
		c.endSessionLocked(c.now(), fx)
	}
	c.closed = true
	events := c.queue
	c.queue = nil
	stop, done := c.stopLoopLocked()
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stop != nil {
		close(stop)
		<-done
	}
	c.apply(fx)

	var err error
	if len(events) > 0 {
		err = c.deliverBulk(ctx, &Batch{ID: uuid.NewString(), Events: events, CreatedAt: c.now()})
	}

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		c.cancel()
		<-waited
	}
	c.cancel()
	return err
}

func encodeEvents(events []Event) (json.RawMessage, error) {
	return json.Marshal(events)
}
