package telemetry

import "github.com/runnerr0/tidepool/internal/notify"

type (
	EventCallback func(Event)
	BatchCallback func(BatchReport)
	ErrorCallback func(error)
)

// OnEvent registers fn for every tracked event.
func (c *Collector) OnEvent(fn EventCallback) (unsubscribe func()) { return c.onEvent.Add(fn) }

// OnBatch registers fn for every batch outcome.
func (c *Collector) OnBatch(fn BatchCallback) (unsubscribe func()) { return c.onBatch.Add(fn) }

// OnError registers fn for internal failures.
func (c *Collector) OnError(fn ErrorCallback) (unsubscribe func()) { return c.onError.Add(fn) }

func (c *Collector) emitEvent(ev Event) {
	for _, fn := range c.onEvent.Snapshot() {
		notify.Call(c.log, "event", func() { fn(ev) })
	}
}

func (c *Collector) emitBatch(r BatchReport) {
	for _, fn := range c.onBatch.Snapshot() {
		notify.Call(c.log, "batch", func() { fn(r) })
	}
}

func (c *Collector) emitError(err error) {
	c.log.Warn().Err(err).Msg("telemetry error")
	for _, fn := range c.onError.Snapshot() {
		notify.Call(c.log, "error", func() { fn(err) })
	}
}
