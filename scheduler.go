// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// startMaintenance wires the periodic sweep onto a cron runner. The sweep
// runs independently of any caller's request and is never cancelled
// mid-flight.
func (c *Cache[V]) startMaintenance() error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.cfg.MaintenanceInterval), c.maintain); err != nil {
		return fmt.Errorf("resultcache: schedule maintenance: %w", err)
	}
	c.cron.Start()
	return nil
}

// maintain runs one maintenance pass: remove everything expired, bring the
// store back under its entry ceiling via LRU, then compact oversized
// access-time histories.
func (c *Cache[V]) maintain() {
	now := c.now()
	c.mu.Lock()
	c.evictLocked(StrategyTTL, 0, now)
	if excess := len(c.entries) - c.cfg.MaxEntries; excess > 0 {
		c.evictLocked(StrategyLRU, excess, now)
	}
	c.mu.Unlock()
	c.stats.compact()
}
