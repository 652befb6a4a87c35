// Package connectivity holds the shared online/offline signal that the
// telemetry collector and sync coordinator react to.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pinger checks whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Listener is called with the new state on every transition.
type Listener func(online bool)

// Monitor tracks connectivity and notifies subscribers on transitions.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners map[uint64]Listener
	nextID    uint64

	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	stopCh chan struct{}
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProbe enables an active health check every interval.
func WithProbe(p Pinger, interval time.Duration) Option {
	return func(m *Monitor) {
		m.pinger = p
		m.interval = interval
	}
}

// WithProbeTimeout bounds each health check. Defaults to five seconds.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// NewMonitor returns a Monitor starting in the given state.
func NewMonitor(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		online:    online,
		listeners: make(map[uint64]Listener),
		timeout:   5 * time.Second,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the state and, if it changed, notifies every listener
// in the calling goroutine.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	m.log.Info().Bool("online", online).Msg("connectivity changed")
	for _, l := range listeners {
		m.notify(l, online)
	}
}

func (m *Monitor) notify(l Listener, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("connectivity listener panicked")
		}
	}()
	l(online)
}

// Subscribe registers l and returns a function that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Probe runs one health check and applies the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.pinger == nil {
		return m.Online()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("health probe failed")
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Start launches the probe loop when a probe is configured. It is a no-op
// otherwise, or if the loop is already running.
func (m *Monitor) Start(ctx context.Context) {
	if m.pinger == nil || m.interval <= 0 {
		return
	}

	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stopCh, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Probe(ctx)
		for {
			select {
			case <-ticker.C:
				m.Probe(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the probe loop and waits for it to exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	stop, done := m.stopCh, m.done
	m.stopCh, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
