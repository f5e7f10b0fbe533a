package cluster

import "github.com/latticefin/rtdb/internal/storage"

// WarmUp primes each table's in-memory cache from its durable backing store
// by pulling up to the configured warm-up batch of rows in primary-key
// order, so a standby joining the cluster does not serve cold reads while
// replication catches it up on the remainder.
func (c *Controller) WarmUp(tables map[string]WarmUpTarget) error {
	for name, t := range tables {
		entries, err := t.Backing.Select(0, storage.Next, true, nil, storage.RowMode, c.warmupBatch)
		if err != nil {
			c.log.Warn("cache warm-up failed", "table", name, "error", err)
			return err
		}
		for _, e := range entries {
			if e.Row == nil {
				continue
			}
			if err := t.Cache.WriteWithUN(e.Row.PrimaryKey, e.Row.Body, false, e.Row.UN); err != nil {
				c.log.Warn("cache warm-up write failed", "table", name, "error", err)
				return err
			}
		}
		c.log.Info("cache warm-up complete", "table", name, "rows", len(entries), "limit", c.warmupBatch)
	}
	return nil
}

// WarmUpTarget pairs a table's authoritative cache with the durable backing
// store to warm it from.
type WarmUpTarget struct {
	Cache   *storage.MemTable
	Backing storage.Table
}
