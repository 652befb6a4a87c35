package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/tidepool/internal/storage"
	"github.com/runnerr0/tidepool/internal/transport"
)

// reconcileWorkers bounds concurrent resubmission of stored batches.
const reconcileWorkers = 4

// ErrNoStore is reported when a batch cannot be delivered and there is no
// durable store to keep it in.
var ErrNoStore = errors.New("no offline store configured")

func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     cfg.RetryBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.RetryBaseDelay << min(cfg.MaxRetries, 16),
	}
}

// deliver sends b to the events endpoint, retrying with exponential backoff.
// When offline, or once retries are exhausted, the batch is persisted.
func (c *Collector) deliver(ctx context.Context, b *Batch) error {
	cfg := c.Config()
	payload, err := encodeEvents(b.Events)
	if err != nil {
		err = fmt.Errorf("encode batch: %w", err)
		c.emitError(err)
		c.finish(b, 0, BatchDropped, err)
		return err
	}

	if !c.conn.Online() {
		return c.persist(ctx, b, payload, 0, nil)
	}

	attempts := 0
	req := transport.EventsRequest{BatchID: b.ID, Events: payload, Timestamp: c.now()}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := c.sender.SendEvents(ctx, cfg.Endpoint, req)
		c.recordAttempt(err == nil)
		return struct{}{}, err
	},
		backoff.WithBackOff(newBackOff(cfg)),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug().Err(err).Str("batch", b.ID).Dur("retry_in", next).Msg("batch send failed")
		}),
	)
	if err == nil {
		c.delivered(b, attempts)
		return nil
	}

	c.log.Warn().Err(err).Str("batch", b.ID).Int("attempts", attempts).Msg("batch delivery failed, storing offline")
	return c.persist(ctx, b, payload, attempts, err)
}

// deliverBulk makes a single attempt against the bulk endpoint and stores
// the batch on failure.
func (c *Collector) deliverBulk(ctx context.Context, b *Batch) error {
	cfg := c.Config()
	payload, err := encodeEvents(b.Events)
	if err != nil {
		err = fmt.Errorf("encode batch: %w", err)
		c.emitError(err)
		c.finish(b, 0, BatchDropped, err)
		return err
	}
	if !c.conn.Online() {
		return c.persist(ctx, b, payload, 0, nil)
	}

	err = c.sender.SendBulk(ctx, cfg.BulkEndpoint, transport.EventsRequest{Events: payload, Timestamp: c.now()})
	c.recordAttempt(err == nil)
	if err != nil {
		c.log.Warn().Err(err).Str("batch", b.ID).Msg("bulk flush failed, storing offline")
		return c.persist(ctx, b, payload, 1, err)
	}
	c.delivered(b, 1)
	return nil
}

func (c *Collector) delivered(b *Batch, attempts int) {
	for i := range b.Events {
		b.Events[i].Synced = true
	}
	c.mu.Lock()
	c.metrics.BatchesSent++
	c.metrics.LastSync = c.now()
	c.mu.Unlock()
	c.log.Debug().Str("batch", b.ID).Int("events", len(b.Events)).Msg("batch delivered")
	c.finish(b, attempts, BatchDelivered, nil)
}

// persist writes the batch to the analytics namespace. The store write
// ignores ctx cancellation so a shutdown never loses a batch mid-write.
func (c *Collector) persist(ctx context.Context, b *Batch, payload []byte, attempts int, cause error) error {
	cfg := c.Config()
	if cause != nil {
		c.mu.Lock()
		c.metrics.BatchesFailed++
		c.mu.Unlock()
	}

	if c.store == nil {
		err := fmt.Errorf("store batch %s: %w", b.ID, ErrNoStore)
		if cause != nil {
			err = errors.Join(cause, err)
		}
		c.mu.Lock()
		c.metrics.BatchesDropped++
		c.mu.Unlock()
		c.emitError(err)
		c.finish(b, attempts, BatchDropped, err)
		return err
	}

	rec := &storage.BatchRecord{
		ID:         b.ID,
		Payload:    payload,
		EventCount: len(b.Events),
		CreatedAt:  b.CreatedAt,
		RetryCount: attempts,
		SizeBytes:  int64(len(payload)),
	}
	dropped, err := c.store.SaveBatch(context.WithoutCancel(ctx), rec, cfg.MaxOfflineBatches)
	if err != nil {
		err = fmt.Errorf("store batch %s: %w", b.ID, err)
		c.mu.Lock()
		c.metrics.BatchesDropped++
		c.mu.Unlock()
		c.emitError(err)
		c.finish(b, attempts, BatchDropped, err)
		return err
	}

	c.mu.Lock()
	c.metrics.BatchesStored++
	c.metrics.BatchesDropped += dropped
	c.mu.Unlock()
	if dropped > 0 {
		c.log.Warn().Int64("dropped", dropped).Int("max", cfg.MaxOfflineBatches).Msg("offline batch limit reached, oldest dropped")
	}
	c.finish(b, attempts, BatchStored, cause)
	return nil
}

func (c *Collector) finish(b *Batch, attempts int, outcome BatchOutcome, err error) {
	c.emitBatch(BatchReport{
		ID:       b.ID,
		Events:   len(b.Events),
		Attempts: attempts,
		Outcome:  outcome,
		Err:      err,
	})
}

// reconcileAsync runs Reconcile in the background unless a pass is already
// running or the collector is closed.
func (c *Collector) reconcileAsync() {
	c.mu.Lock()
	if c.closed || c.store == nil {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.Reconcile(c.ctx); err != nil {
			c.emitError(err)
		}
	}()
}

// Reconcile resubmits every persisted batch with bounded parallelism.
// Delivered batches are removed; the rest stay with their retry count
// incremented. It does nothing while offline.
func (c *Collector) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if c.store == nil || !c.conn.Online() {
		return res, nil
	}
	if !c.reconciling.CompareAndSwap(false, true) {
		return res, nil
	}
	defer c.reconciling.Store(false)

	batches, err := c.store.ListBatches(ctx)
	if err != nil {
		return res, fmt.Errorf("list offline batches: %w", err)
	}
	if len(batches) == 0 {
		return res, nil
	}
	cfg := c.Config()
	c.log.Info().Int("batches", len(batches)).Msg("reconciling offline batches")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileWorkers)
	for _, b := range batches {
		g.Go(func() error {
			err := c.sender.SendEvents(gctx, cfg.Endpoint, transport.EventsRequest{
				BatchID:   b.ID,
				Events:    b.Payload,
				Timestamp: c.now(),
			})
			c.recordAttempt(err == nil)
			if err != nil {
				c.log.Debug().Err(err).Str("batch", b.ID).Msg("offline batch still pending")
				if uerr := c.store.UpdateBatchRetry(gctx, b.ID, b.RetryCount+1); uerr != nil && !errors.Is(uerr, storage.ErrNotFound) {
					return fmt.Errorf("update batch %s: %w", b.ID, uerr)
				}
				mu.Lock()
				res.Pending++
				mu.Unlock()
				return nil
			}

			if derr := c.store.DeleteBatch(gctx, b.ID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
				return fmt.Errorf("delete batch %s: %w", b.ID, derr)
			}
			mu.Lock()
			res.Synced++
			mu.Unlock()

			c.mu.Lock()
			c.metrics.BatchesReconciled++
			c.metrics.LastSync = c.now()
			c.mu.Unlock()
			c.emitBatch(BatchReport{ID: b.ID, Events: b.EventCount, Attempts: 1, Outcome: BatchDelivered})
			return nil
		})
	}
	err = g.Wait()
	c.log.Info().Int("synced", res.Synced).Int("pending", res.Pending).Msg("reconcile finished")
	return res, err
}
