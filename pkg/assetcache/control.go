package assetcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamenai/opensim-assetcache/pkg/must"
)

// regionStatusPrefix and regionStatusSuffix name the per-region stamp
// files written by DeepTouch, per spec.md §6's on-disk layout table:
// "<cache_root>/RegionStatus_<uuid>.fac (plain text; last-write-time is
// the signal)".
const (
	regionStatusPrefix = "RegionStatus_"
	regionStatusSuffix = ".fac"
)

// DeepTouch runs the scene-gather pass for every attached scene and, for
// each UUID that Check finds in none of the weak, memory, or file tiers,
// resolves it through Get, whose miss path issues a single-flight upstream
// fetch and enqueues a file write. A UUID still held in the weak or memory
// tier is skipped even when its file is missing, so that file is not
// repopulated. It records a per-region status-stamp file marking when this
// ran, per spec.md §4.7.
func (c *Cache) DeepTouch(ctx context.Context) {
	c.scenesMu.RLock()
	scenes := make([]Scene, 0, len(c.scenes))
	for _, s := range c.scenes {
		scenes = append(scenes, s)
	}
	c.scenesMu.RUnlock()

	for _, scene := range scenes {
		ids := gatherSceneUUIDStrings(scene)
		for _, id := range ids {
			if !c.Check(id) {
				c.Get(ctx, id)
			}
		}
		c.stampRegion(scene.RegionID())
	}
}

func gatherSceneUUIDStrings(scene Scene) []string {
	var ids []string
	appendAll := func(us []uuid.UUID) {
		for _, u := range us {
			ids = append(ids, u.String())
		}
	}
	appendAll(scene.TerrainTextureUUIDs())
	appendAll(scene.EnvironmentUUIDs())
	appendAll(scene.ParcelEnvironmentUUIDs())
	appendAll(scene.ObjectGroupUUIDs())
	appendAll(scene.AvatarBakeTextureUUIDs())
	return ids
}

func (c *Cache) stampRegion(regionID uuid.UUID) {
	if !c.config.FileCacheEnabled {
		return
	}
	path := c.regionStatusPath(regionID)
	must.Succeed(os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0644),
		"write region status stamp", c.logger)
}

func (c *Cache) regionStatusPath(regionID uuid.UUID) string {
	return filepath.Join(c.config.CacheRoot, regionStatusPrefix+regionID.String()+regionStatusSuffix)
}

// regionDeepScanTimestamps reads every region status-stamp file present
// under the cache root and returns its last-write time as a Unix
// timestamp, keyed by region ID text.
func (c *Cache) regionDeepScanTimestamps() map[string]int64 {
	out := make(map[string]int64)
	if !c.config.FileCacheEnabled {
		return out
	}

	entries, err := os.ReadDir(c.config.CacheRoot)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, regionStatusPrefix) || !strings.HasSuffix(name, regionStatusSuffix) {
			continue
		}
		regionID := strings.TrimSuffix(strings.TrimPrefix(name, regionStatusPrefix), regionStatusSuffix)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out[regionID] = info.ModTime().Unix()
	}
	return out
}

// ExpireAt invokes the cleanup routine off the timer path, using purgeLine
// in place of "now" for file-TTL and backup-age comparisons, per spec.md
// §4.7's "expire <when>" control operation.
func (c *Cache) ExpireAt(purgeLine time.Time) {
	c.sweeper.Run(purgeLine)
}

// ClearNegatives drops every entry from the negative map.
func (c *Cache) ClearNegatives() {
	c.negative.Clear()
}

// CacheDefaultAssets loads the default-asset ID set from loader using arg
// and marks every returned ID as a sticky allowlist entry, exempt from
// cleanup until DeleteDefaultAssets runs.
func (c *Cache) CacheDefaultAssets(loader DefaultAssetsLoader, arg string) (int, error) {
	ids, err := loader.Load(arg)
	if err != nil {
		return 0, err
	}

	c.defaultAssetsMu.Lock()
	c.defaultsLoader = loader
	for _, id := range ids {
		c.defaultAssets[id] = struct{}{}
	}
	c.defaultAssetsMu.Unlock()

	return len(ids), nil
}

// DeleteDefaultAssets clears the sticky default-asset allowlist, making
// every previously-exempt ID eligible for cleanup again.
func (c *Cache) DeleteDefaultAssets() {
	c.defaultAssetsMu.Lock()
	c.defaultAssets = make(map[string]struct{})
	c.defaultAssetsMu.Unlock()
}

// CleanBak deletes every ".bak" sibling file under the cache root older
// than the configured backup-retention age, independent of a full cleanup
// pass, per the cfcache "cleanbak" subcommand.
func (c *Cache) CleanBak() int {
	if !c.config.FileCacheEnabled {
		return 0
	}
	removed := 0
	deadline := time.Now().Add(-c.config.BakMaxAge())
	_ = filepath.Walk(c.config.CacheRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".bak") {
			return nil
		}
		if info.ModTime().Before(deadline) {
			must.OSRemove(path, c.logger)
			removed++
		}
		return nil
	})
	return removed
}

// ParsePurgeLine parses the "expire <datetime|now>" control operation's
// argument, accepting the literal "now" or an RFC 3339 timestamp.
func ParsePurgeLine(arg string) (time.Time, error) {
	if strings.EqualFold(arg, "now") {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, arg)
}
