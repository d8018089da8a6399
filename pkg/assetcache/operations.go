package assetcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamenai/opensim-assetcache/internal/cleanup"
	"github.com/jamenai/opensim-assetcache/internal/codec"
	"github.com/jamenai/opensim-assetcache/internal/diskwriter"
	"github.com/jamenai/opensim-assetcache/internal/layout"
	"github.com/jamenai/opensim-assetcache/pkg/must"
	"github.com/jamenai/opensim-assetcache/pkg/timeutil"
)

// reservationStallMin and reservationStallMax bound the brief sleep a
// reader performs when it observes a write reservation already held for
// the file it wants to read, per spec.md §5's "readers may sleep briefly
// (≤10 ms)" suspension point.
const (
	reservationStallMin = 5 * time.Millisecond
	reservationStallMax = 10 * time.Millisecond
)

// Get resolves id through the full tier cascade: weak, memory, file, then
// a single-flight upstream fetch. It returns the asset and true on a hit,
// or the zero Asset and false on a miss; it never returns an error, per
// spec.md §7's policy that no failure escapes the public surface.
func (c *Cache) Get(ctx context.Context, id string) (Asset, bool) {
	c.requestsTotal.Add(1)

	if rejectID(id) {
		return Asset{}, false
	}

	if asset, ok := c.GetFromMemory(id); ok {
		return asset, true
	}

	if asset, ok := c.getFromFile(id); ok {
		c.promote(asset)
		return asset, true
	}

	if c.config.NegativeCacheEnabled {
		if _, ok := c.negative.Get(id); ok {
			return Asset{}, false
		}
	}

	return c.fetchFromUpstream(ctx, id)
}

// GetFromMemory resolves id against the weak and expiring-memory tiers
// only; it never touches the file tier or upstream.
func (c *Cache) GetFromMemory(id string) (Asset, bool) {
	if rejectID(id) {
		return Asset{}, false
	}

	if asset, ok := c.getFromWeak(id); ok {
		c.weakHits.Add(1)
		if c.config.MemoryCacheEnabled {
			c.memory.Set(id, asset, c.config.MemoryTTL)
		}
		c.negative.Delete(id)
		c.touchFile(id)
		return asset, true
	}

	if c.config.MemoryCacheEnabled {
		if asset, ok := c.memory.Get(id); ok {
			c.memoryHits.Add(1)
			c.setWeak(id, asset)
			c.negative.Delete(id)
			return asset, true
		}
	}

	return Asset{}, false
}

// Check reports whether id is present in any of the weak, memory, or file
// tiers, without counting as a hit or promoting between tiers.
func (c *Cache) Check(id string) bool {
	if rejectID(id) {
		return false
	}
	if _, ok := c.peekWeak(id); ok {
		return true
	}
	if c.config.MemoryCacheEnabled {
		if _, ok := c.memory.Get(id); ok {
			return true
		}
	}
	if c.config.FileCacheEnabled {
		if path, ok := c.pathOf(id); ok {
			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				return true
			}
		}
	}
	return false
}

// Cache inserts asset into the weak tier, the memory tier (if enabled),
// and enqueues a file-tier write (if enabled), removing any negative
// entry for its ID.
func (c *Cache) Cache(asset Asset, replace bool) {
	c.setWeak(asset.ID, asset)
	if c.config.MemoryCacheEnabled {
		c.memory.Set(asset.ID, asset, c.config.MemoryTTL)
	}
	c.negative.Delete(asset.ID)

	if c.config.FileCacheEnabled && c.writer != nil {
		if path, ok := c.pathOf(asset.ID); ok {
			c.writer.Submit(diskwriter.Job{
				Path:    path,
				Record:  recordOf(asset),
				Replace: replace,
			})
		}
	}
}

// CacheNegative inserts or refreshes a negative entry for id, triggering
// an opportunistic prune if the negative map has grown past
// NegativeMaxEntries.
func (c *Cache) CacheNegative(id string) {
	if !c.config.NegativeCacheEnabled {
		return
	}
	c.negative.Set(id, struct{}{}, c.config.NegativeTTL)
	cleanup.PruneNegatives(c.negative, c.config.NegativeMaxEntries, c.config.NegativePruneBatch)
}

// Expire removes id from the weak, memory, and negative tiers, and
// best-effort deletes its file-tier entry.
func (c *Cache) Expire(id string) {
	c.weakMu.Lock()
	c.weak.Remove(id)
	c.weakMu.Unlock()

	c.memory.Delete(id)
	c.negative.Delete(id)

	if c.config.FileCacheEnabled {
		if path, ok := c.pathOf(id); ok {
			must.OSRemove(path, c.logger)
		}
	}
}

// Clear drops every shard directory under the file tier and resets the
// weak, memory, and negative maps.
func (c *Cache) Clear() {
	c.ClearMemory()
	c.ClearFile()
}

// ClearFile drops every shard directory under the file tier, leaving the
// weak, memory, and negative tiers untouched. It is the file half of
// spec.md's "clear [file] [memory]" tier-selector control verb.
func (c *Cache) ClearFile() {
	if !c.config.FileCacheEnabled {
		return
	}
	entries, err := os.ReadDir(c.config.CacheRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		must.Succeed(os.RemoveAll(filepath.Join(c.config.CacheRoot, entry.Name())),
			"remove shard entry during clear", c.logger)
	}
}

// ClearMemory resets the weak, memory, and negative tiers, leaving the
// file tier untouched. It is the memory half of spec.md's
// "clear [file] [memory]" tier-selector control verb.
func (c *Cache) ClearMemory() {
	c.resetWeak()
	c.memory.Clear()
	c.negative.Clear()
}

// Store assigns asset a fresh UUID if it does not already have one, then
// caches it, and returns the resulting ID.
func (c *Cache) Store(asset Asset) string {
	if asset.UUID == uuid.Nil {
		asset.UUID = uuid.New()
	}
	if asset.ID == "" {
		asset.ID = asset.UUID.String()
	}
	c.Cache(asset, false)
	return asset.ID
}

// UpdateContent replaces the data of the asset identified by id, if it
// exists, and re-caches it with replace=true. It reports whether id was
// found.
func (c *Cache) UpdateContent(ctx context.Context, id string, data []byte) bool {
	asset, ok := c.Get(ctx, id)
	if !ok {
		return false
	}
	asset = asset.Clone()
	asset.Data = data
	c.Cache(asset, true)
	return true
}

// Metadata is sugar over Get that discards the asset's data.
func (c *Cache) Metadata(ctx context.Context, id string) (Asset, bool) {
	asset, ok := c.Get(ctx, id)
	if !ok {
		return Asset{}, false
	}
	asset.Data = nil
	return asset, true
}

// Data is sugar over Get that returns only the asset's bytes.
func (c *Cache) Data(ctx context.Context, id string) ([]byte, bool) {
	asset, ok := c.Get(ctx, id)
	if !ok {
		return nil, false
	}
	return asset.Data, true
}

// rejectID reports whether id must be rejected as NotFound without
// consulting any tier: blank/whitespace-only, or the all-zero sentinel
// UUID string.
func rejectID(id string) bool {
	return strings.TrimSpace(id) == "" || id == zeroUUIDString
}

func (c *Cache) pathOf(id string) (string, bool) {
	return layout.PathOf(c.config.CacheRoot, id, c.config.Tiers, c.config.TierLen)
}

func (c *Cache) getFromWeak(id string) (Asset, bool) {
	c.weakMu.Lock()
	defer c.weakMu.Unlock()
	v, ok := c.weak.Get(id)
	if !ok {
		return Asset{}, false
	}
	return v.(Asset), true
}

func (c *Cache) peekWeak(id string) (Asset, bool) {
	return c.getFromWeak(id)
}

func (c *Cache) setWeak(id string, asset Asset) {
	c.weakMu.Lock()
	c.weak.Add(id, asset)
	c.weakMu.Unlock()
}

// promote refreshes the weak and memory tiers after a lower-tier hit, per
// spec.md §4.4's hit-policy table.
func (c *Cache) promote(asset Asset) {
	c.setWeak(asset.ID, asset)
	if c.config.MemoryCacheEnabled {
		c.memory.Set(asset.ID, asset, c.config.MemoryTTL)
	}
	c.negative.Delete(asset.ID)
}

// getFromFile attempts to resolve id against the on-disk tier, handling
// the write-reservation stall, the empty-file-is-miss rule, and
// best-effort deletion of a corrupted record.
func (c *Cache) getFromFile(id string) (Asset, bool) {
	if !c.config.FileCacheEnabled {
		return Asset{}, false
	}

	path, ok := c.pathOf(id)
	if !ok {
		return Asset{}, false
	}

	if c.writer != nil && c.writer.Reserved(path) {
		time.Sleep(reservationStallMax)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Asset{}, false
	}
	if info.Size() == 0 {
		return Asset{}, false
	}

	file, err := os.Open(path)
	if err != nil {
		return Asset{}, false
	}
	defer must.Close(file, c.logger)

	record, err := codec.Decode(file, codec.Limits{
		MaxStringBytes: c.config.MaxStringBytes(),
		MaxDataBytes:   c.config.MaxDataBytes(),
	})
	if err != nil {
		must.OSRemove(path, c.logger)
		return Asset{}, false
	}

	c.diskHits.Add(1)
	c.touchFile(id)
	return assetOf(record), true
}

// touchFile refreshes a file's last-access time, debounced to at most
// once per accessTouchDebounce window per path, per spec.md's
// update_file_time_on_cache_hit option.
func (c *Cache) touchFile(id string) {
	if !c.config.UpdateFileTimeOnCacheHit || !c.config.FileCacheEnabled {
		return
	}
	if _, alreadyTouched := c.touchedAt.Get(id); alreadyTouched {
		return
	}
	path, ok := c.pathOf(id)
	if !ok {
		return
	}
	now := time.Now()
	must.Succeed(os.Chtimes(path, now, now), "touch file access time", c.logger)
	c.touchedAt.Set(id, struct{}{}, accessTouchDebounce)
}

// fetchFromUpstream performs the single-flight-coordinated upstream fetch
// protocol of spec.md §4.5, retrying a failing upstream call up to
// BackoffAttempts times with capped exponential delay between attempts
// per spec.md §5.
func (c *Cache) fetchFromUpstream(ctx context.Context, id string) (Asset, bool) {
	if c.upstream == nil {
		return Asset{}, false
	}

	v, err, _ := c.fetch.Fetch(ctx, id, func(ctx context.Context) (interface{}, error) {
		return c.fetchWithBackoff(ctx, id)
	})

	if err != nil {
		// UpstreamError: do not record a negative, so the next request
		// re-issues the fetch rather than masking a transient failure.
		return Asset{}, false
	}

	asset, ok := v.(*Asset)
	if !ok || asset == nil {
		c.CacheNegative(id)
		return Asset{}, false
	}

	c.Cache(*asset, false)
	return *asset, true
}

// fetchWithBackoff calls the upstream once, then retries on error up to
// BackoffAttempts additional times, with the delay between attempts
// starting at BackoffInitialMs and doubling, capped at BackoffMaxMs. It
// stops early if ctx is cancelled. A nil-nil "not found" result from the
// upstream is returned immediately without retrying, since retrying an
// absence is not a transient-failure case.
func (c *Cache) fetchWithBackoff(ctx context.Context, id string) (interface{}, error) {
	delay := time.Duration(c.config.BackoffInitialMs) * time.Millisecond
	maxDelay := time.Duration(c.config.BackoffMaxMs) * time.Millisecond

	asset, err := c.upstream.Fetch(ctx, id)
	for attempt := 0; err != nil && attempt < c.config.BackoffAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timeutil.StopAndDrainTimer(timer)
			return nil, ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
		asset, err = c.upstream.Fetch(ctx, id)
	}
	return asset, err
}

func recordOf(asset Asset) *codec.Record {
	return &codec.Record{
		ID:          asset.ID,
		Name:        asset.Name,
		Description: asset.Description,
		Type:        asset.Type,
		Flags:       asset.Flags,
		Data:        asset.Data,
		Local:       asset.Local,
		Temporary:   asset.Temporary,
		UUID:        asset.UUID,
	}
}

func assetOf(record *codec.Record) Asset {
	return Asset{
		ID:          record.ID,
		UUID:        record.UUID,
		Name:        record.Name,
		Description: record.Description,
		Type:        record.Type,
		Flags:       record.Flags,
		Data:        record.Data,
		Local:       record.Local,
		Temporary:   record.Temporary,
	}
}
