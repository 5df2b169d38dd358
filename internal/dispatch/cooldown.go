package dispatch

import (
	"sync"
	"time"
)

// Cooldown gates how often each notification rule may fire. The gate is
// global per rule: once a rule fires, it stays quiet for its cooldown period
// no matter which user or group triggers it next.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

// Allow reports whether the rule may fire at now, and records the firing when
// it may. A non-positive cooldown never blocks.
func (c *Cooldown) Allow(rule string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[rule]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[rule] = now
	return true
}
