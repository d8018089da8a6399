package assetcache

// StatusReport summarizes the cache's counters and approximate live
// population, as reported by the cfcache status subcommand.
type StatusReport struct {
	RequestsTotal int64
	WeakHits      int64
	MemoryHits    int64
	DiskHits      int64
	InflightJoins int64

	// ApproximateWeakEntries is exact, not sampled, because the weak tier
	// is realized as a size-bounded LRU rather than a native weak
	// reference map; spec.md §9 calls this drift out explicitly.
	ApproximateWeakEntries int
	MemoryEntries          int
	NegativeEntries        int

	// RegionDeepScans maps region ID (as text) to the Unix timestamp
	// (seconds) its status-stamp file last recorded, per spec.md §4.7's
	// "per-region status stamp" control surface.
	RegionDeepScans map[string]int64
}

// Status reports the cache's cumulative counters and current tier sizes.
func (c *Cache) Status() StatusReport {
	c.weakMu.Lock()
	weakLen := c.weak.Len()
	c.weakMu.Unlock()

	return StatusReport{
		RequestsTotal:          c.requestsTotal.Load(),
		WeakHits:               c.weakHits.Load(),
		MemoryHits:             c.memoryHits.Load(),
		DiskHits:               c.diskHits.Load(),
		InflightJoins:          c.fetch.InflightJoins(),
		ApproximateWeakEntries: weakLen,
		MemoryEntries:          c.memory.Len(),
		NegativeEntries:        c.negative.Len(),
		RegionDeepScans:        c.regionDeepScanTimestamps(),
	}
}
