// Package cleanup implements the periodic background sweep that keeps the
// negative cache bounded and the on-disk file tier pruned of assets that
// are no longer referenced by any attached scene.
//
// It is grounded directly on the teacher's pkg/housekeeping: Housekeep's
// per-subsystem, best-effort, continue-on-error shape
// (pkg/housekeeping/housekeep.go) and HousekeepRegularly's ticker-driven
// run loop with context cancellation and an initial run before the first
// tick (pkg/housekeeping/background.go). Last-access time, unavailable
// from the standard library in a cross-platform way, comes from the same
// github.com/mutagen-io/extstat dependency the teacher already uses for
// exactly this purpose in housekeepAgents.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mutagen-io/extstat"

	"github.com/jamenai/opensim-assetcache/internal/expiringmap"
	"github.com/jamenai/opensim-assetcache/pkg/logging"
	"github.com/jamenai/opensim-assetcache/pkg/must"
)

// maxNegativeSample bounds how many entries a single prune pass inspects,
// per spec.md's "sample at most 5,000 entries" rule.
const maxNegativeSample = 5000

// throttleEvery and throttleSleep implement the directory-walk throttle:
// yield briefly after a run of filesystem operations to cap sustained I/O
// pressure, mirroring the teacher's avoidance of tight scanning loops
// rather than a hard rate limiter.
const (
	throttleEvery = 15
	throttleSleep = 90 * time.Millisecond
)

// Scene is the subset of the cache's scene collaborator interface the
// sweep needs in order to gather live-referenced UUIDs. Any type
// satisfying pkg/assetcache.Scene structurally satisfies this interface
// too, so no import of pkg/assetcache is required here.
type Scene interface {
	TerrainTextureUUIDs() []uuid.UUID
	EnvironmentUUIDs() []uuid.UUID
	ParcelEnvironmentUUIDs() []uuid.UUID
	ObjectGroupUUIDs() []uuid.UUID
	AvatarBakeTextureUUIDs() []uuid.UUID
}

// NegativeStore is the subset of expiringmap.Map[struct{}]'s behavior the
// sweep needs to prune the negative cache.
type NegativeStore interface {
	RemoveExpired(now time.Time) int
	Snapshot() []expiringmap.ExpiryEntry
	DeleteBatch(keys []string) int
	Len() int
}

// Config bounds a single sweep, mirroring the configuration option table
// of spec.md §6.
type Config struct {
	NegativeMaxEntries int
	NegativePruneBatch int
	FileTTL            time.Duration
	BakCleanupEnabled  bool
	BakMaxAge          time.Duration
	CacheWarnAt        int
	DefaultAssetIDs    func() map[string]struct{}
}

// Sweeper runs one cleanup pass at a time, gated by cooperative
// cancellation and a run-in-progress flag.
type Sweeper struct {
	root       string
	scenes     func() []Scene
	negatives  NegativeStore
	onFileGone func(id string)
	onWeakReset func()
	logger     *logging.Logger
	config     Config

	running atomic.Bool
	cancel  atomic.Bool
	opCount int
}

// New creates a Sweeper rooted at the file tier's top-level directory.
// scenes returns the currently attached scene collaborators; onFileGone is
// invoked (synchronously) with the asset ID of each file the sweep
// deletes, so the cache can drop the corresponding weak entry; onWeakReset
// is invoked once at the end of every pass, including a cancelled one.
func New(root string, scenes func() []Scene, negatives NegativeStore, onFileGone func(id string), onWeakReset func(), config Config, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		root:        root,
		scenes:      scenes,
		negatives:   negatives,
		onFileGone:  onFileGone,
		onWeakReset: onWeakReset,
		config:      config,
		logger:      logger,
	}
}

// Run performs a single cleanup pass, unless one is already in progress,
// in which case it returns immediately. purgeLine overrides "now" for the
// file-TTL and backup-age comparisons, supporting the expire-at-date
// control operation; pass time.Now() for a regular scheduled pass.
func (s *Sweeper) Run(purgeLine time.Time) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	s.cancel.Store(false)
	s.opCount = 0

	s.sweepNegatives(purgeLine)

	referenced := s.gatherSceneUUIDs()
	s.walk(purgeLine, referenced)

	if s.onWeakReset != nil {
		s.onWeakReset()
	}
}

// Cancel requests that an in-progress Run exit at its next checkpoint
// without deleting partially processed directories. It has no effect if
// no run is in progress.
func (s *Sweeper) Cancel() {
	s.cancel.Store(true)
}

// sweepNegatives removes expired negative entries, then prunes one batch of
// the oldest surviving entries if the map remains over capacity.
func (s *Sweeper) sweepNegatives(now time.Time) {
	s.negatives.RemoveExpired(now)
	PruneNegatives(s.negatives, s.config.NegativeMaxEntries, s.config.NegativePruneBatch)
}

// PruneNegatives, if store holds more than maxEntries, removes a single
// batch of at most batchSize oldest-expiring entries, chosen from a sample
// of at most maxNegativeSample entries. One call does not necessarily bring
// store down to maxEntries; later calls prune further. It is exported so the
// cache core can trigger the same opportunistic prune from cache_negative
// (spec.md §4.4) without duplicating the sort-and-batch logic here.
func PruneNegatives(store NegativeStore, maxEntries, batchSize int) {
	if store.Len() <= maxEntries {
		return
	}

	snapshot := store.Snapshot()
	if len(snapshot) > maxNegativeSample {
		snapshot = snapshot[:maxNegativeSample]
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Expiry.Before(snapshot[j].Expiry)
	})

	if batchSize > len(snapshot) {
		batchSize = len(snapshot)
	}
	keys := make([]string, batchSize)
	for i := 0; i < batchSize; i++ {
		keys[i] = snapshot[i].Key
	}
	store.DeleteBatch(keys)
}

// gatherSceneUUIDs asks every attached scene for its currently referenced
// UUIDs and returns their string form as a set, mirroring the
// uuid -> asset-type-hint multimap of spec.md §4.6 step 2 (the hint itself
// is not consulted by the walk, only presence).
func (s *Sweeper) gatherSceneUUIDs() map[string]struct{} {
	referenced := make(map[string]struct{})
	for _, scene := range s.scenes() {
		for _, id := range scene.TerrainTextureUUIDs() {
			referenced[id.String()] = struct{}{}
		}
		for _, id := range scene.EnvironmentUUIDs() {
			referenced[id.String()] = struct{}{}
		}
		for _, id := range scene.ParcelEnvironmentUUIDs() {
			referenced[id.String()] = struct{}{}
		}
		for _, id := range scene.ObjectGroupUUIDs() {
			referenced[id.String()] = struct{}{}
		}
		for _, id := range scene.AvatarBakeTextureUUIDs() {
			referenced[id.String()] = struct{}{}
		}
	}
	return referenced
}

// walk recursively descends the shard tree, deleting stale files and
// expired backups, and pruning empty directories left behind.
func (s *Sweeper) walk(now time.Time, referenced map[string]struct{}) {
	var defaultAssets map[string]struct{}
	if s.config.DefaultAssetIDs != nil {
		defaultAssets = s.config.DefaultAssetIDs()
	}

	s.walkDir(s.root, now, referenced, defaultAssets)
}

func (s *Sweeper) walkDir(dir string, now time.Time, referenced, defaultAssets map[string]struct{}) {
	if s.cancel.Load() {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if s.cancel.Load() {
			return
		}

		fullPath := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			s.walkDir(fullPath, now, referenced, defaultAssets)
			continue
		}

		s.processFile(fullPath, entry.Name(), now, referenced, defaultAssets)
		s.throttle()
	}

	if s.cancel.Load() {
		return
	}

	if remaining, err := os.ReadDir(dir); err == nil {
		if len(remaining) > s.config.CacheWarnAt && s.config.CacheWarnAt > 0 {
			s.logger.Warnf("shard directory %s has %d entries, consider deeper sharding", dir, len(remaining))
		}
		if len(remaining) == 0 && dir != s.root {
			must.OSRemove(dir, s.logger)
		}
	}
}

func (s *Sweeper) processFile(fullPath, name string, now time.Time, referenced, defaultAssets map[string]struct{}) {
	const bakSuffix = ".bak"
	if len(name) > len(bakSuffix) && name[len(name)-len(bakSuffix):] == bakSuffix {
		if !s.config.BakCleanupEnabled {
			return
		}
		info, err := os.Stat(fullPath)
		if err != nil {
			return
		}
		if now.Sub(info.ModTime()) > s.config.BakMaxAge {
			must.OSRemove(fullPath, s.logger)
		}
		return
	}

	if defaultAssets != nil {
		if _, ok := defaultAssets[name]; ok {
			return
		}
	}
	if _, ok := referenced[name]; ok {
		return
	}

	stat, err := extstat.NewFromFileName(fullPath)
	if err != nil {
		return
	}
	if now.Sub(stat.AccessTime) < s.config.FileTTL {
		return
	}

	must.OSRemove(fullPath, s.logger)
	if s.onFileGone != nil {
		s.onFileGone(name)
	}
}

func (s *Sweeper) throttle() {
	s.opCount++
	if s.opCount%throttleEvery == 0 {
		time.Sleep(throttleSleep)
	}
}

// RunPeriodically runs an initial pass immediately, then one pass per
// period, until ctx is cancelled. It mirrors
// pkg/housekeeping.HousekeepRegularly's shape exactly: log, run, create a
// ticker, loop on ticker-or-cancellation.
func RunPeriodically(ctx context.Context, s *Sweeper, period time.Duration, logger *logging.Logger) {
	logger.Info("performing initial cleanup sweep")
	s.Run(time.Now())

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return
		case <-ticker.C:
			logger.Info("performing scheduled cleanup sweep")
			s.Run(time.Now())
		}
	}
}
