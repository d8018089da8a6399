package assetcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/jamenai/opensim-assetcache/internal/cleanup"
	"github.com/jamenai/opensim-assetcache/internal/diskwriter"
	"github.com/jamenai/opensim-assetcache/internal/expiringmap"
	"github.com/jamenai/opensim-assetcache/internal/fetchgroup"
	"github.com/jamenai/opensim-assetcache/pkg/logging"
)

// accessTouchDebounce bounds how often a file-tier hit is allowed to
// refresh a file's last-access time, per spec.md §3's invariant that a
// file's last-access time is updated at most once per debounce window per
// path.
const accessTouchDebounce = 15 * time.Minute

// Cache is the layered asset cache core. The zero value is not usable;
// construct with New.
type Cache struct {
	config Config
	logger *logging.Logger

	upstream Upstream

	// weak substitutes for a native weak-reference map with a
	// size-bounded LRU, per spec.md §9's documented semantic drift: its
	// sampled-liveness metric becomes exact rather than a sample.
	weakMu sync.Mutex
	weak   *lru.Cache

	memory    *expiringmap.Map[Asset]
	negative  *expiringmap.Map[struct{}]
	touchedAt *expiringmap.Map[struct{}]

	writer *diskwriter.Pool
	fetch  *fetchgroup.Group

	defaultAssetsMu sync.Mutex
	defaultAssets   map[string]struct{}
	defaultsLoader  DefaultAssetsLoader

	scenesMu sync.RWMutex
	scenes   map[uuid.UUID]Scene

	sweeper       *cleanup.Sweeper
	cleanupCancel context.CancelFunc
	started       atomic.Bool

	requestsTotal atomic.Int64
	weakHits      atomic.Int64
	memoryHits    atomic.Int64
	diskHits      atomic.Int64
}

// New constructs a Cache from config. The cache is inert (no background
// goroutines running) until the first AttachScene calls start.
func New(config Config, upstream Upstream, logger *logging.Logger) *Cache {
	config.Clamp()
	logging.SetLevel(config.Level())

	c := &Cache{
		config:        config,
		logger:        logger,
		upstream:      upstream,
		weak:          lru.New(config.WeakMaxEntries),
		memory:        expiringmap.New[Asset](),
		negative:      expiringmap.New[struct{}](),
		touchedAt:     expiringmap.New[struct{}](),
		fetch:         fetchgroup.New(),
		defaultAssets: make(map[string]struct{}),
		scenes:        make(map[uuid.UUID]Scene),
	}

	c.sweeper = cleanup.New(
		config.CacheRoot,
		c.attachedScenes,
		c.negative,
		c.onFileGone,
		c.resetWeak,
		cleanup.Config{
			NegativeMaxEntries: config.NegativeMaxEntries,
			NegativePruneBatch: config.NegativePruneBatch,
			FileTTL:            config.FileTTL,
			BakCleanupEnabled:  config.BakCleanupEnabled,
			BakMaxAge:          config.BakMaxAge(),
			CacheWarnAt:        config.CacheWarnAt,
			DefaultAssetIDs:    c.defaultAssetIDs,
		},
		logger,
	)

	if self, ok := upstream.(selfCheckingUpstream); ok && self.IsSelf(c) {
		c.upstream = nil
	}

	return c
}

func (c *Cache) attachedScenes() []cleanup.Scene {
	c.scenesMu.RLock()
	defer c.scenesMu.RUnlock()

	out := make([]cleanup.Scene, 0, len(c.scenes))
	for _, s := range c.scenes {
		out = append(out, s)
	}
	return out
}

func (c *Cache) defaultAssetIDs() map[string]struct{} {
	c.defaultAssetsMu.Lock()
	defer c.defaultAssetsMu.Unlock()

	out := make(map[string]struct{}, len(c.defaultAssets))
	for id := range c.defaultAssets {
		out[id] = struct{}{}
	}
	return out
}

func (c *Cache) onFileGone(id string) {
	c.weakMu.Lock()
	c.weak.Remove(id)
	c.weakMu.Unlock()
}

func (c *Cache) resetWeak() {
	c.weakMu.Lock()
	c.weak = lru.New(c.config.WeakMaxEntries)
	c.weakMu.Unlock()
}

// AttachScene registers scene as a live collaborator, starting background
// services on the first attachment. Attaching the same region ID twice is
// a no-op beyond replacing the registered collaborator.
func (c *Cache) AttachScene(scene Scene) {
	c.scenesMu.Lock()
	c.scenes[scene.RegionID()] = scene
	c.scenesMu.Unlock()

	if c.started.CompareAndSwap(false, true) {
		c.start()
	}
}

// DetachScene deregisters the scene with the given region ID, stopping
// background services once no scenes remain attached.
func (c *Cache) DetachScene(regionID uuid.UUID) {
	c.scenesMu.Lock()
	delete(c.scenes, regionID)
	remaining := len(c.scenes)
	c.scenesMu.Unlock()

	if remaining == 0 && c.started.CompareAndSwap(true, false) {
		c.stop()
	}
}

func (c *Cache) start() {
	if c.config.FileCacheEnabled && c.writer == nil {
		c.writer = diskwriter.New(c.config.WriterWorkers, c.config.BakCleanupEnabled, c.logger)
	}

	if c.config.CleanupPeriod > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		go cleanup.RunPeriodically(ctx, c.sweeper, c.config.CleanupPeriod, c.logger)
		c.cleanupCancel = cancel
	}
}

func (c *Cache) stop() {
	if c.cleanupCancel != nil {
		c.cleanupCancel()
		c.cleanupCancel = nil
	}
	if c.writer != nil {
		c.writer.Close()
		c.writer = nil
	}
}
