package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// RecordActivity notes user activity. It starts a session if none is live
// and returns an idle session to active.
func (c *Collector) RecordActivity(signal ActivitySignal) {
	c.mu.Lock()
	if c.closed || !c.cfg.Enabled {
		c.mu.Unlock()
		return
	}
	fx := &effects{}
	c.touchLocked(c.now(), fx)
	c.mu.Unlock()
	c.log.Trace().Str("signal", string(signal)).Msg("activity")
	c.apply(fx)
}

// EndSession finalizes the live session and flushes the queue, as on page
// unload. The next activity starts a new session.
func (c *Collector) EndSession() {
	c.mu.Lock()
	if c.closed || c.session == nil {
		c.mu.Unlock()
		return
	}
	fx := &effects{}
	c.endSessionLocked(c.now(), fx)
	c.cutLocked(fx)
	c.mu.Unlock()
	c.apply(fx)
}

func (c *Collector) touchLocked(now time.Time, fx *effects) {
	if s := c.session; s != nil && now.Sub(s.LastActivity) >= c.cfg.SessionTimeout {
		c.endSessionLocked(now, fx)
		c.cutLocked(fx)
	}
	if c.session == nil {
		c.startSessionLocked(now)
	}
	s := c.session
	s.State = SessionActive
	s.IsActive = true
	s.LastActivity = now
	c.idleTimer.Reset(c.cfg.IdleTimeout)
	c.sessionTimer.Reset(c.cfg.SessionTimeout)
}

func (c *Collector) startSessionLocked(now time.Time) {
	s := &Session{
		ID:           uuid.NewString(),
		StartTime:    now,
		IsActive:     true,
		State:        SessionActive,
		LastActivity: now,
		Attribution:  c.attribution,
	}
	c.session = s
	c.idleTimer = time.AfterFunc(c.cfg.IdleTimeout, func() { c.onIdle(s.ID) })
	c.sessionTimer = time.AfterFunc(c.cfg.SessionTimeout, func() { c.onSessionTimeout(s.ID) })
	c.log.Debug().Str("session", s.ID).Msg("session started")
}

// endSessionLocked queues session_end and retires the session. Callers
// decide whether to cut the queue.
func (c *Collector) endSessionLocked(now time.Time, fx *effects) {
	s := c.session
	c.idleTimer.Stop()
	c.sessionTimer.Stop()

	ev := c.newEventLocked("session_end", EventEngagement, map[string]any{
		"duration_ms": now.Sub(s.StartTime).Milliseconds(),
		"page_views":  s.PageViews,
		"events":      s.Events,
	}, now)
	c.enqueueLocked(ev, fx)

	end := now
	s.EndTime = &end
	s.State = SessionEnded
	s.IsActive = false
	c.lastSession = s
	c.session = nil
	c.log.Debug().Str("session", s.ID).Msg("session ended")
}

func (c *Collector) onIdle(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if c.closed || s == nil || s.ID != id || s.State != SessionActive {
		return
	}
	if c.now().Sub(s.LastActivity) < c.cfg.IdleTimeout {
		return
	}
	s.State = SessionIdle
	s.IsActive = false
}

func (c *Collector) onSessionTimeout(id string) {
	c.mu.Lock()
	s := c.session
	now := c.now()
	if c.closed || s == nil || s.ID != id || now.Sub(s.LastActivity) < c.cfg.SessionTimeout {
		c.mu.Unlock()
		return
	}
	fx := &effects{}
	c.endSessionLocked(now, fx)
	c.cutLocked(fx)
	c.mu.Unlock()
	c.apply(fx)
}
