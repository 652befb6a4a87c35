package telemetry

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Core Web Vitals accepted by RecordVital.
const (
	VitalFP  = "FP"
	VitalFCP = "FCP"
	VitalLCP = "LCP"
	VitalFID = "FID"
	VitalCLS = "CLS"
)

var knownVitals = map[string]struct{}{
	VitalFP: {}, VitalFCP: {}, VitalLCP: {}, VitalFID: {}, VitalCLS: {},
}

// panicFlushTimeout bounds the flush CapturePanic performs before
// re-panicking.
const panicFlushTimeout = 2 * time.Second

// RecordVital stores a Core Web Vital and records it as a performance
// event. Unknown names and a disabled performance switch are ignored.
func (c *Collector) RecordVital(name string, value float64) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if _, ok := knownVitals[name]; !ok {
		c.log.Debug().Str("vital", name).Msg("ignoring unknown vital")
		return
	}

	c.mu.Lock()
	if !c.cfg.EnablePerformance {
		c.mu.Unlock()
		return
	}
	c.vitals[name] = value
	c.mu.Unlock()

	c.Track("web_vital", map[string]any{"metric": name, "value": value}, EventPerformance)
}

// ReportError records an uncaught failure with the current stack. ctx
// carries caller-supplied detail and is merged into the properties.
func (c *Collector) ReportError(err error, ctx map[string]any) {
	if err == nil {
		return
	}
	c.reportError(err, ctx, debug.Stack())
}

func (c *Collector) reportError(err error, extra map[string]any, stack []byte) {
	c.mu.Lock()
	enabled := c.cfg.EnableErrorTracking
	c.mu.Unlock()
	if !enabled {
		return
	}
	props := mergeProps(extra, map[string]any{
		"message": err.Error(),
		"stack":   string(stack),
	})
	c.Track("uncaught_error", props, EventError)
}

// CapturePanic records a panic as an error event, flushes the queue and
// re-panics. Use it as the first deferred call of a goroutine:
//
//	defer collector.CapturePanic()
func (c *Collector) CapturePanic() {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	c.reportError(err, map[string]any{"fatal": true}, debug.Stack())

	ctx, cancel := context.WithTimeout(context.Background(), panicFlushTimeout)
	if ferr := c.Flush(ctx); ferr != nil {
		c.log.Error().Err(ferr).Msg("flush after panic failed")
	}
	cancel()
	panic(r)
}
