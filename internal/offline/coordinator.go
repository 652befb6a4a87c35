// Package offline queues mutating requests made while disconnected, keeps
// shadow copies of content edited offline, and replays both when the
// connection returns.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnerr0/tidepool/internal/connectivity"
	"github.com/runnerr0/tidepool/internal/notify"
	"github.com/runnerr0/tidepool/internal/storage"
)

// DefaultMaxRetries is the replay attempt ceiling for a single action.
const DefaultMaxRetries = 3

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("sync coordinator closed")

// Sender performs the network side of a sync. *transport.Client satisfies
// it.
type Sender interface {
	Replay(ctx context.Context, method, endpoint string, headers map[string]string, body []byte) ([]byte, error)
	SyncContent(ctx context.Context, endpoint string, shadow any) error
}

// Store is the durable actions, content and settings namespaces.
// *storage.SQLiteStore satisfies it.
type Store interface {
	AddAction(ctx context.Context, a *storage.Action) error
	ListActions(ctx context.Context) ([]storage.Action, error)
	UpdateActionRetry(ctx context.Context, id string, retryCount int, lastErr string) error
	DeleteAction(ctx context.Context, id string) error

	UpsertContent(ctx context.Context, c *storage.ContentRecord) error
	GetContent(ctx context.Context, id string) (*storage.ContentRecord, error)
	ListUnsyncedContent(ctx context.Context) ([]storage.ContentRecord, error)
	MarkContentSynced(ctx context.Context, id string) error

	PutSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (*storage.Setting, error)
}

// Connectivity is the shared online signal.
type Connectivity interface {
	Online() bool
	Subscribe(l connectivity.Listener) (unsubscribe func())
}

// Coordinator owns the offline action queue and content shadows.
type Coordinator struct {
	store           Store
	sender          Sender
	conn            Connectivity
	log             zerolog.Logger
	now             func() time.Time
	maxRetries      int
	contentEndpoint string

	// syncMu serializes replay passes so actions never interleave.
	syncMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	onError  notify.Registry[func(error)]
	onSynced notify.Registry[func(SyncedItem)]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithConnectivity sets the online signal. Without one the coordinator
// assumes it is online and syncs only when asked.
func WithConnectivity(conn Connectivity) Option {
	return func(c *Coordinator) { c.conn = conn }
}

// WithMaxRetries overrides the replay attempt ceiling.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithContentEndpoint overrides where content shadows are posted.
func WithContentEndpoint(endpoint string) Option {
	return func(c *Coordinator) {
		if endpoint != "" {
			c.contentEndpoint = endpoint
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. Call Start to sync automatically on
// reconnect.
func New(store Store, sender Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           store,
		sender:          sender,
		log:             zerolog.Nop(),
		now:             time.Now,
		maxRetries:      DefaultMaxRetries,
		contentEndpoint: "/content/sync",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start subscribes to connectivity changes and syncs whenever the
// connection comes back. If already online it syncs once immediately.
func (c *Coordinator) Start(ctx context.Context) {
	if c.conn == nil {
		return
	}
	unsubscribe := c.conn.Subscribe(func(online bool) {
		if online {
			c.syncAsync()
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

	if c.conn.Online() {
		c.syncAsync()
	}
}

func (c *Coordinator) online() bool {
	return c.conn == nil || c.conn.Online()
}

func (c *Coordinator) syncAsync() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.SyncAll(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.emitError(err)
		}
	}()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Enqueue persists a request for later replay and returns its id. It never
// touches the network. An empty method defaults by kind: POST, PUT or
// DELETE.
func (c *Coordinator) Enqueue(ctx context.Context, kind Kind, endpoint, method string, headers map[string]string, body []byte) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	if strings.TrimSpace(endpoint) == "" {
		return "", fmt.Errorf("enqueue %s: endpoint is required", kind)
	}
	if method == "" {
		method = kind.defaultMethod()
	}

	rec := &storage.Action{
		Kind:      string(kind),
		Endpoint:  endpoint,
		Method:    strings.ToUpper(method),
		Headers:   headers,
		Body:      body,
		CreatedAt: c.now(),
	}
	if err := c.store.AddAction(ctx, rec); err != nil {
		return "", fmt.Errorf("enqueue action: %w", err)
	}
	c.log.Debug().Str("id", rec.ID).Str("kind", rec.Kind).Str("endpoint", endpoint).Msg("action queued")
	return rec.ID, nil
}

// PendingActions lists queued actions in replay order.
func (c *Coordinator) PendingActions(ctx context.Context) ([]Action, error) {
	recs, err := c.store.ListActions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	out := make([]Action, 0, len(recs))
	for _, r := range recs {
		out = append(out, actionFromRecord(r))
	}
	return out, nil
}

// SyncOfflineData replays queued actions in the order they were enqueued.
// A delivered action is deleted. A failed one has its retry count raised;
// once that reaches the ceiling the action is dropped and a *ReplayError
// is sent to the OnError callbacks. The pass stops early if the connection
// drops or ctx is done.
func (c *Coordinator) SyncOfflineData(ctx context.Context) (SyncResult, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	var res SyncResult
	if !c.online() {
		return res, nil
	}
	recs, err := c.store.ListActions(ctx)
	if err != nil {
		return res, fmt.Errorf("list actions: %w", err)
	}
	if len(recs) == 0 {
		return res, nil
	}
	c.log.Info().Int("actions", len(recs)).Msg("replaying offline actions")

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !c.online() {
			c.log.Info().Msg("connection lost, pausing replay")
			break
		}

		a := actionFromRecord(rec)
		_, err := c.sender.Replay(ctx, a.Method, a.Endpoint, a.Headers, a.Body)
		if err == nil {
			if derr := c.store.DeleteAction(ctx, a.ID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				return res, fmt.Errorf("delete replayed action %s: %w", a.ID, derr)
			}
			res.Synced++
			c.emitSynced(SyncedItem{Namespace: "actions", ID: a.ID})
			continue
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		attempts := a.RetryCount + 1
		if attempts >= c.maxRetries {
			if derr := c.store.DeleteAction(ctx, a.ID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				return res, fmt.Errorf("drop action %s: %w", a.ID, derr)
			}
			res.Dropped++
			c.emitError(&ReplayError{Action: a, Attempts: attempts, Err: err})
			continue
		}
		if uerr := c.store.UpdateActionRetry(ctx, a.ID, attempts, err.Error()); uerr != nil {
			return res, fmt.Errorf("update action %s: %w", a.ID, uerr)
		}
		res.Failed++
		c.log.Debug().Err(err).Str("id", a.ID).Int("attempts", attempts).Msg("replay failed, will retry")
	}

	c.log.Info().Int("synced", res.Synced).Int("failed", res.Failed).Int("dropped", res.Dropped).Msg("replay finished")
	return res, nil
}

// StoreContentOffline saves a shadow with synced=false. A zero
// LastModified is stamped with the current time.
func (c *Coordinator) StoreContentOffline(ctx context.Context, shadow ContentShadow) error {
	if shadow.ID == "" {
		return fmt.Errorf("store content: id is required")
	}
	if shadow.LastModified == 0 {
		shadow.LastModified = c.now().UnixMilli()
	}
	shadow.Synced = false
	if err := c.store.UpsertContent(ctx, shadow.record()); err != nil {
		return fmt.Errorf("store content %s: %w", shadow.ID, err)
	}
	return nil
}

// GetContent returns the shadow stored under id.
func (c *Coordinator) GetContent(ctx context.Context, id string) (*ContentShadow, error) {
	rec, err := c.store.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	s := shadowFromRecord(*rec)
	return &s, nil
}

// SyncOfflineContent posts every unsynced shadow to the content endpoint
// and marks the delivered ones synced. Failures are reported to OnError and
// left for the next pass.
func (c *Coordinator) SyncOfflineContent(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if !c.online() {
		return res, nil
	}
	recs, err := c.store.ListUnsyncedContent(ctx)
	if err != nil {
		return res, fmt.Errorf("list unsynced content: %w", err)
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		shadow := shadowFromRecord(rec)
		if err := c.sender.SyncContent(ctx, c.contentEndpoint, shadow); err != nil {
			res.Failed++
			c.emitError(fmt.Errorf("sync content %s: %w", shadow.ID, err))
			continue
		}
		if err := c.store.MarkContentSynced(ctx, shadow.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return res, fmt.Errorf("mark content %s synced: %w", shadow.ID, err)
		}
		res.Synced++
		c.emitSynced(SyncedItem{Namespace: "content", ID: shadow.ID})
	}
	return res, nil
}

// SyncAll replays actions and then content.
func (c *Coordinator) SyncAll(ctx context.Context) (SyncResult, error) {
	actions, err := c.SyncOfflineData(ctx)
	if err != nil {
		return actions, err
	}
	content, err := c.SyncOfflineContent(ctx)
	return SyncResult{
		Synced:  actions.Synced + content.Synced,
		Failed:  actions.Failed + content.Failed,
		Dropped: actions.Dropped,
	}, err
}

// SaveSetting stores value as JSON under key.
func (c *Coordinator) SaveSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	if err := c.store.PutSetting(ctx, key, string(data)); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// GetSetting decodes the value stored under key into out. A missing key
// yields an error matching storage.ErrNotFound.
func (c *Coordinator) GetSetting(ctx context.Context, key string, out any) error {
	s, err := c.store.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s.Value), out); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

// OnError registers fn for sync failures.
func (c *Coordinator) OnError(fn func(error)) (unsubscribe func()) { return c.onError.Add(fn) }

// OnSynced registers fn for every delivered action or shadow.
func (c *Coordinator) OnSynced(fn func(SyncedItem)) (unsubscribe func()) { return c.onSynced.Add(fn) }

func (c *Coordinator) emitError(err error) {
	c.log.Warn().Err(err).Msg("sync error")
	for _, fn := range c.onError.Snapshot() {
		notify.Call(c.log, "error", func() { fn(err) })
	}
}

func (c *Coordinator) emitSynced(item SyncedItem) {
	for _, fn := range c.onSynced.Snapshot() {
		notify.Call(c.log, "synced", func() { fn(item) })
	}
}

// Close stops reacting to connectivity and waits for a running sync. If ctx
// expires first the sync is cancelled.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.cancel()
		<-done
	}
	c.cancel()
	return nil
}
