package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/tidepool/internal/config"
	"github.com/runnerr0/tidepool/internal/connectivity"
	"github.com/runnerr0/tidepool/internal/storage"
	"github.com/runnerr0/tidepool/internal/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeSender struct {
	mu     sync.Mutex
	failN  int // calls left to fail; negative fails forever
	events []transport.EventsRequest
	bulk   []transport.EventsRequest
	calls  int
}

var errNetwork = errors.New("network down")

func (f *fakeSender) failLocked() error {
	f.calls++
	if f.failN < 0 {
		return errNetwork
	}
	if f.failN > 0 {
		f.failN--
		return errNetwork
	}
	return nil
}

func (f *fakeSender) SendEvents(_ context.Context, _ string, req transport.EventsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked(); err != nil {
		return err
	}
	f.events = append(f.events, req)
	return nil
}

func (f *fakeSender) SendBulk(_ context.Context, _ string, req transport.EventsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failLocked(); err != nil {
		return err
	}
	f.bulk = append(f.bulk, req)
	return nil
}

func (f *fakeSender) sent() []transport.EventsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.EventsRequest(nil), f.events...)
}

func (f *fakeSender) bulkSent() []transport.EventsRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.EventsRequest(nil), f.bulk...)
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) named(name string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Enabled:             true,
		BatchSize:           2,
		MaxRetries:          2,
		RetryBaseDelay:      time.Millisecond,
		SessionTimeout:      time.Hour,
		IdleTimeout:         time.Hour,
		SamplingRate:        1,
		MaxOfflineBatches:   10,
		EnablePerformance:   true,
		EnableErrorTracking: true,
		RedactedProperties:  []string{"password", "token"},
	}
}

func openTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.DriverCGO, storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestCollector(t *testing.T, cfg Config, sender Sender, opts ...Option) *Collector {
	t.Helper()
	c := New(cfg, sender, opts...)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func decodeEvents(t *testing.T, raw []byte) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, json.Unmarshal(raw, &events))
	return events
}

func TestTrackCutsBatchAtBatchSize(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCollector(t, testConfig(), sender)

	var reports []BatchReport
	var mu sync.Mutex
	c.OnBatch(func(r BatchReport) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})

	c.Track("click", map[string]any{"button": "save"}, EventUserAction)
	assert.Empty(t, sender.sent())
	c.Track("click", map[string]any{"button": "cancel"}, EventUserAction)

	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, waitFor, tick)
	req := sender.sent()[0]
	assert.NotEmpty(t, req.BatchID)
	events := decodeEvents(t, req.Events)
	require.Len(t, events, 2)
	assert.Equal(t, "save", events[0].Properties["button"])
	assert.Equal(t, events[0].SessionID, events[1].SessionID)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) == 1
	}, waitFor, tick)
	mu.Lock()
	assert.Equal(t, BatchDelivered, reports[0].Outcome)
	assert.Equal(t, 2, reports[0].Events)
	mu.Unlock()

	m := c.Metrics()
	assert.Equal(t, int64(2), m.EventsTracked)
	assert.Equal(t, int64(1), m.BatchesSent)
	assert.False(t, m.LastSync.IsZero())
	assert.Equal(t, 1.0, m.SuccessRate)
}

func TestTrackDisabledIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender)

	var log eventLog
	c.OnEvent(log.record)
	c.Track("a", nil, EventCustom)
	c.RecordActivity(SignalPointer)

	assert.Empty(t, log.named("a"))
	_, ok := c.Session()
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Metrics().EventsTracked)
}

func TestSamplingDropsEventsButNotSessionEnd(t *testing.T) {
	cfg := testConfig()
	cfg.SamplingRate = 0.5
	cfg.BatchSize = 10
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender, WithSampler(func() float64 { return 0.9 }))

	var log eventLog
	c.OnEvent(log.record)
	c.Track("sampled", nil, EventCustom)
	assert.Empty(t, log.named("sampled"))
	assert.Equal(t, int64(1), c.Metrics().EventsSampledOut)

	c.EndSession()
	require.Len(t, log.named("session_end"), 1)
	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, waitFor, tick)
}

func TestRedactsSensitiveProperties(t *testing.T) {
	c := newTestCollector(t, testConfig(), &fakeSender{})

	var log eventLog
	c.OnEvent(log.record)
	c.Track("login", map[string]any{
		"Password": "hunter2",
		"user":     "ada",
		"auth":     map[string]any{"TOKEN": "abc", "scheme": "bearer"},
	}, EventUserAction)

	events := log.named("login")
	require.Len(t, events, 1)
	props := events[0].Properties
	assert.Equal(t, redactedValue, props["Password"])
	assert.Equal(t, "ada", props["user"])
	auth := props["auth"].(map[string]any)
	assert.Equal(t, redactedValue, auth["TOKEN"])
	assert.Equal(t, "bearer", auth["scheme"])
}

func TestRetryThenOfflineFallback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := openTestStore(t)
	cfg := testConfig()
	c := newTestCollector(t, cfg, transport.New(srv.URL), WithStore(store))

	var log eventLog
	c.OnEvent(log.record)
	c.Track("one", nil, EventCustom)
	c.Track("two", nil, EventCustom)

	var batches []storage.BatchRecord
	require.Eventually(t, func() bool {
		var err error
		batches, err = store.ListBatches(context.Background())
		return err == nil && len(batches) == 1
	}, waitFor, tick)

	assert.Equal(t, int32(cfg.MaxRetries+1), hits.Load())
	assert.Equal(t, 2, batches[0].EventCount)
	assert.Equal(t, cfg.MaxRetries+1, batches[0].RetryCount, "stored batch keeps its attempt count")

	stored := decodeEvents(t, batches[0].Payload)
	require.Len(t, stored, 2)
	assert.Equal(t, log.named("one")[0].ID, stored[0].ID)
	assert.Equal(t, log.named("two")[0].ID, stored[1].ID)
	for _, ev := range stored {
		assert.False(t, ev.Synced)
	}

	require.Eventually(t, func() bool { return c.Metrics().BatchesStored == 1 }, waitFor, tick)
	m := c.Metrics()
	assert.Equal(t, int64(1), m.BatchesFailed)
	assert.Equal(t, 0.0, m.SuccessRate)
	assert.Equal(t, cfg.MaxRetries+1, m.Attempts)
}

func TestOfflineBatchGoesStraightToStore(t *testing.T) {
	store := openTestStore(t)
	sender := &fakeSender{}
	mon := connectivity.NewMonitor(false)
	c := newTestCollector(t, testConfig(), sender, WithStore(store), WithConnectivity(mon))

	c.Track("a", nil, EventCustom)
	c.Track("b", nil, EventCustom)

	var batches []storage.BatchRecord
	require.Eventually(t, func() bool {
		var err error
		batches, err = store.ListBatches(context.Background())
		return err == nil && len(batches) == 1
	}, waitFor, tick)
	assert.Zero(t, sender.callCount())
	assert.Zero(t, batches[0].RetryCount)
}

func TestFailureWithoutStoreReportsError(t *testing.T) {
	sender := &fakeSender{failN: -1}
	c := newTestCollector(t, testConfig(), sender)

	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })
	c.Track("a", nil, EventCustom)
	c.Track("b", nil, EventCustom)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoStore)
	case <-time.After(waitFor):
		t.Fatal("no error reported")
	}
}

func saveBatch(t *testing.T, store *storage.SQLiteStore, id string, names ...string) {
	t.Helper()
	events := make([]Event, 0, len(names))
	for _, n := range names {
		events = append(events, Event{ID: n, Name: n, Type: EventCustom})
	}
	payload, err := json.Marshal(events)
	require.NoError(t, err)
	_, err = store.SaveBatch(context.Background(), &storage.BatchRecord{
		ID:         id,
		Payload:    payload,
		EventCount: len(events),
		CreatedAt:  time.Now(),
		SizeBytes:  int64(len(payload)),
	}, 10)
	require.NoError(t, err)
}

func TestReconcileOnReconnect(t *testing.T) {
	store := openTestStore(t)
	saveBatch(t, store, "b1", "e1", "e2")
	saveBatch(t, store, "b2", "e3")

	sender := &fakeSender{}
	mon := connectivity.NewMonitor(false)
	c := newTestCollector(t, testConfig(), sender, WithStore(store), WithConnectivity(mon))
	c.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sender.sent())

	mon.SetOnline(true)

	require.Eventually(t, func() bool {
		batches, err := store.ListBatches(context.Background())
		return err == nil && len(batches) == 0
	}, waitFor, tick)

	ids := map[string]int{}
	for _, req := range sender.sent() {
		ids[req.BatchID] = len(decodeEvents(t, req.Events))
	}
	assert.Equal(t, map[string]int{"b1": 2, "b2": 1}, ids)
	require.Eventually(t, func() bool { return c.Metrics().BatchesReconciled == 2 }, waitFor, tick)
}

func TestReconcileKeepsFailedBatches(t *testing.T) {
	store := openTestStore(t)
	saveBatch(t, store, "b1", "e1")
	saveBatch(t, store, "b2", "e2")

	sender := &fakeSender{failN: -1}
	c := newTestCollector(t, testConfig(), sender, WithStore(store))

	res, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Synced: 0, Pending: 2}, res)

	batches, err := store.ListBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, b := range batches {
		assert.Equal(t, 1, b.RetryCount)
	}
}

func TestReconcileSkippedWhileOffline(t *testing.T) {
	store := openTestStore(t)
	saveBatch(t, store, "b1", "e1")

	sender := &fakeSender{}
	c := newTestCollector(t, testConfig(), sender,
		WithStore(store), WithConnectivity(connectivity.NewMonitor(false)))

	res, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Zero(t, sender.callCount())
}

func TestSessionRollover(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 50 * time.Millisecond
	cfg.BatchSize = 10
	c := newTestCollector(t, cfg, &fakeSender{})

	var log eventLog
	c.OnEvent(log.record)

	c.Track("first", nil, EventCustom)
	time.Sleep(60 * time.Millisecond)
	c.Track("second", nil, EventCustom)

	first := log.named("first")
	second := log.named("second")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].SessionID, second[0].SessionID)

	require.Eventually(t, func() bool {
		for _, ev := range log.named("session_end") {
			if ev.SessionID == first[0].SessionID {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestSessionRolloverOnNextActivity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cfg := testConfig()
	cfg.SessionTimeout = 30 * time.Minute
	cfg.BatchSize = 10
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender, WithClock(clock))

	var log eventLog
	c.OnEvent(log.record)
	c.Track("first", nil, EventCustom)

	mu.Lock()
	now = now.Add(31 * time.Minute)
	mu.Unlock()
	c.Track("second", nil, EventCustom)

	ends := log.named("session_end")
	require.Len(t, ends, 1)
	assert.Equal(t, log.named("first")[0].SessionID, ends[0].SessionID)
	assert.NotEqual(t, ends[0].SessionID, log.named("second")[0].SessionID)
	assert.Equal(t, (31 * time.Minute).Milliseconds(), ends[0].Properties["duration_ms"])

	// The finished session's events are flushed on rollover.
	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, waitFor, tick)
	assert.Len(t, decodeEvents(t, sender.sent()[0].Events), 2)
}

func TestIdleAndBackToActive(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	c := newTestCollector(t, cfg, &fakeSender{})

	c.RecordActivity(SignalKeyboard)
	s, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, SessionActive, s.State)

	require.Eventually(t, func() bool {
		s, _ := c.Session()
		return s.State == SessionIdle && !s.IsActive
	}, waitFor, tick)

	c.RecordActivity(SignalScroll)
	again, _ := c.Session()
	assert.Equal(t, SessionActive, again.State)
	assert.Equal(t, s.ID, again.ID)
}

func TestEndSession(t *testing.T) {
	c := newTestCollector(t, testConfig(), &fakeSender{})
	c.RecordActivity(SignalTouch)
	live, _ := c.Session()

	c.EndSession()
	ended, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, live.ID, ended.ID)
	assert.Equal(t, SessionEnded, ended.State)
	require.NotNil(t, ended.EndTime)

	c.RecordActivity(SignalTouch)
	next, _ := c.Session()
	assert.NotEqual(t, live.ID, next.ID)
}

func TestPageViewsAndAttribution(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	c := newTestCollector(t, cfg, &fakeSender{})

	var log eventLog
	c.OnEvent(log.record)
	c.SetAttribution(Attribution{Referrer: "https://example.com", UTMSource: "newsletter"})
	c.Identify("user-1")
	c.TrackPageView("/docs", "Docs", nil)

	s, _ := c.Session()
	assert.Equal(t, 1, s.PageViews)
	assert.Equal(t, 1, s.Events)
	assert.Equal(t, "newsletter", s.UTMSource)

	views := log.named("page_view")
	require.Len(t, views, 1)
	assert.Equal(t, "/docs", views[0].Properties["path"])
	assert.Equal(t, "user-1", views[0].UserID)
	require.NotNil(t, views[0].Performance)
	assert.NotZero(t, views[0].Performance.HeapAllocBytes)
	assert.True(t, views[0].Network.Online)
}

func TestTrackConversionAndError(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	c := newTestCollector(t, cfg, &fakeSender{})

	var log eventLog
	c.OnEvent(log.record)
	c.TrackConversion("purchase", 42.5, map[string]any{"sku": "x1"})
	c.TrackError(errors.New("save failed"), nil)
	c.TrackError(nil, nil)

	conv := log.named("purchase")
	require.Len(t, conv, 1)
	assert.Equal(t, EventConversion, conv[0].Type)
	assert.Equal(t, 42.5, conv[0].Properties["value"])
	assert.Nil(t, conv[0].Performance)

	errs := log.named("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "save failed", errs[0].Properties["message"])
}

func TestCloseFlushesThroughBulkEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	sender := &fakeSender{}
	c := New(cfg, sender)

	c.Track("a", nil, EventCustom)
	c.Track("b", nil, EventCustom)
	c.Track("c", nil, EventCustom)
	require.NoError(t, c.Close(context.Background()))

	bulk := sender.bulkSent()
	require.Len(t, bulk, 1)
	assert.Empty(t, bulk[0].BatchID)
	events := decodeEvents(t, bulk[0].Events)
	require.Len(t, events, 4)
	assert.Equal(t, "session_end", events[3].Name)
	assert.Empty(t, sender.sent())

	c.Track("after", nil, EventCustom)
	assert.Equal(t, int64(4), c.Metrics().EventsTracked)
	require.NoError(t, c.Close(context.Background()))
}

func TestCloseStoresWhenBulkFails(t *testing.T) {
	store := openTestStore(t)
	cfg := testConfig()
	cfg.BatchSize = 10
	c := New(cfg, &fakeSender{failN: -1}, WithStore(store))

	c.Track("a", nil, EventCustom)
	require.NoError(t, c.Close(context.Background()))

	batches, err := store.ListBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].EventCount)
}

func TestFlushIsSynchronous(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender)

	require.NoError(t, c.Flush(context.Background()))
	assert.Zero(t, sender.callCount())

	c.Track("a", nil, EventCustom)
	require.NoError(t, c.Flush(context.Background()))
	require.Len(t, sender.sent(), 1)
	assert.Zero(t, c.Metrics().EventsQueued)
}

func TestFlushLoopCutsPartialBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.FlushInterval = 10 * time.Millisecond
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender)
	c.Start(context.Background())

	c.Track("a", nil, EventCustom)
	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, waitFor, tick)
}

func TestSuccessRateAfterRetry(t *testing.T) {
	sender := &fakeSender{failN: 1}
	c := newTestCollector(t, testConfig(), sender)

	c.Track("a", nil, EventCustom)
	c.Track("b", nil, EventCustom)

	require.Eventually(t, func() bool { return c.Metrics().BatchesSent == 1 }, waitFor, tick)
	m := c.Metrics()
	assert.Equal(t, 2, m.Attempts)
	assert.Equal(t, 0.5, m.SuccessRate)
}

func TestUpdateConfigCutsQueueOnSmallerBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender)

	c.Track("a", nil, EventCustom)
	c.Track("b", nil, EventCustom)
	c.Track("c", nil, EventCustom)
	assert.Empty(t, sender.sent())

	cfg.BatchSize = 2
	c.UpdateConfig(cfg)
	assert.Equal(t, 2, c.Config().BatchSize)
	require.Eventually(t, func() bool { return len(sender.sent()) == 1 }, waitFor, tick)
	assert.Len(t, decodeEvents(t, sender.sent()[0].Events), 3)
}

func TestRecordVital(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	c := newTestCollector(t, cfg, &fakeSender{})

	var log eventLog
	c.OnEvent(log.record)
	c.RecordVital("lcp", 1234)
	c.RecordVital("bogus", 1)

	vitals := log.named("web_vital")
	require.Len(t, vitals, 1)
	assert.Equal(t, EventPerformance, vitals[0].Type)
	assert.Equal(t, "LCP", vitals[0].Properties["metric"])
	require.NotNil(t, vitals[0].Performance)
	assert.Equal(t, 1234.0, vitals[0].Performance.Vitals["LCP"])

	cfg.EnablePerformance = false
	c.UpdateConfig(cfg)
	c.RecordVital("CLS", 0.1)
	assert.Len(t, log.named("web_vital"), 1)
}

func TestCapturePanicRecordsAndRepanics(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	sender := &fakeSender{}
	c := newTestCollector(t, cfg, sender)

	var log eventLog
	c.OnEvent(log.record)

	assert.PanicsWithValue(t, "boom", func() {
		defer c.CapturePanic()
		panic("boom")
	})

	errs := log.named("uncaught_error")
	require.Len(t, errs, 1)
	assert.Equal(t, EventError, errs[0].Type)
	assert.Equal(t, "panic: boom", errs[0].Properties["message"])
	assert.Equal(t, true, errs[0].Properties["fatal"])
	assert.NotEmpty(t, errs[0].Properties["stack"])
	assert.Len(t, sender.sent(), 1)
}

func TestReportErrorRespectsSwitch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.EnableErrorTracking = false
	c := newTestCollector(t, cfg, &fakeSender{})

	var log eventLog
	c.OnEvent(log.record)
	c.ReportError(errors.New("x"), map[string]any{"where": "sync"})
	assert.Empty(t, log.named("uncaught_error"))

	cfg.EnableErrorTracking = true
	c.UpdateConfig(cfg)
	c.ReportError(errors.New("x"), map[string]any{"where": "sync"})
	reported := log.named("uncaught_error")
	require.Len(t, reported, 1)
	assert.Equal(t, "sync", reported[0].Properties["where"])
}

func TestCallbackPanicIsRecoveredAndUnsubscribeWorks(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 10
	c := newTestCollector(t, cfg, &fakeSender{})

	c.OnEvent(func(Event) { panic("bad listener") })
	var log eventLog
	unsubscribe := c.OnEvent(log.record)

	assert.NotPanics(t, func() { c.Track("a", nil, EventCustom) })
	assert.Len(t, log.named("a"), 1)

	unsubscribe()
	unsubscribe()
	c.Track("a", nil, EventCustom)
	assert.Len(t, log.named("a"), 1)
}

func TestFromConfigNormalizesDefaults(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig().Telemetry)
	assert.Equal(t, "/analytics/events", cfg.Endpoint)
	assert.Equal(t, "/analytics/batch", cfg.BulkEndpoint)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)

	n := Config{SamplingRate: 3}.normalized()
	assert.Equal(t, 1.0, n.SamplingRate)
	assert.Equal(t, cfg.BatchSize, n.BatchSize)
	assert.Equal(t, cfg.SessionTimeout, n.SessionTimeout)
}
