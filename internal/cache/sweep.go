package cache

import (
	"context"
	"time"
)

// startSweep launches the periodic expiry sweep. A non-positive interval
// leaves expiry to lazy checks on access.
func (c *Cache) startSweep(interval time.Duration) {
	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.mu.Lock()
	c.stopSweep, c.sweepDone = stop, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.sweepExpired(); n > 0 {
					c.persist(context.Background())
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Cache) stopSweepLoop() {
	c.mu.Lock()
	stop, done := c.stopSweep, c.sweepDone
	c.stopSweep, c.sweepDone = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// sweepExpired removes every expired entry and returns how many went.
func (c *Cache) sweepExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(e)
			c.stats.Expirations++
			removed++
		}
	}
	if removed > 0 {
		c.log.Debug().Int("expired", removed).Msg("swept expired cache entries")
	}
	return removed
}
