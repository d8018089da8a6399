package assetcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jamenai/opensim-assetcache/pkg/logging"
)

type stubUpstream struct {
	delay     time.Duration
	calls     atomic.Int64
	asset     *Asset
	err       error
	absent    bool
	failTimes atomic.Int64
}

func (s *stubUpstream) Fetch(ctx context.Context, id string) (*Asset, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if remaining := s.failTimes.Load(); remaining > 0 {
		s.failTimes.Add(-1)
		return nil, errors.New("transient upstream failure")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.absent {
		return nil, nil
	}
	return s.asset, nil
}

type testScene struct {
	regionID uuid.UUID
	terrain  []uuid.UUID
}

func (s testScene) TerrainTextureUUIDs() []uuid.UUID    { return s.terrain }
func (s testScene) EnvironmentUUIDs() []uuid.UUID       { return nil }
func (s testScene) ParcelEnvironmentUUIDs() []uuid.UUID { return nil }
func (s testScene) ObjectGroupUUIDs() []uuid.UUID       { return nil }
func (s testScene) AvatarBakeTextureUUIDs() []uuid.UUID { return nil }
func (s testScene) RegionID() uuid.UUID                 { return s.regionID }

func testConfig(t *testing.T) Config {
	t.Helper()
	c := Default()
	c.CacheRoot = t.TempDir()
	c.MemoryCacheEnabled = true
	c.CleanupHours = 0
	c.Clamp()
	return c
}

func TestSingleFlightJoin(t *testing.T) {
	upstream := &stubUpstream{delay: 200 * time.Millisecond, asset: &Asset{ID: "abcde", Data: []byte("A")}}
	c := New(testConfig(t), upstream, logging.RootLogger)
	regionID := uuid.New()
	c.AttachScene(testScene{regionID: regionID})
	defer c.DetachScene(regionID)

	const concurrency = 50
	var wg sync.WaitGroup
	hits := make([]bool, concurrency)
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(i int) {
			defer wg.Done()
			asset, ok := c.Get(context.Background(), "abcde")
			hits[i] = ok && string(asset.Data) == "A"
		}(i)
	}
	wg.Wait()

	if upstream.calls.Load() != 1 {
		t.Errorf("expected exactly 1 upstream call, got %d", upstream.calls.Load())
	}
	for i, ok := range hits {
		if !ok {
			t.Errorf("call %d did not return the expected asset", i)
		}
	}
	if c.Status().InflightJoins < concurrency-1 {
		t.Errorf("expected at least %d inflight joins, got %d", concurrency-1, c.Status().InflightJoins)
	}
}

func TestNegativeCacheTTL(t *testing.T) {
	upstream := &stubUpstream{absent: true}
	config := testConfig(t)
	config.NegativeTTLSeconds = 1
	config.Clamp()
	c := New(config, upstream, logging.RootLogger)

	if _, ok := c.Get(context.Background(), "zzzzz"); ok {
		t.Fatal("expected miss for absent upstream asset")
	}
	if upstream.calls.Load() != 1 {
		t.Fatalf("expected exactly 1 upstream call after first miss, got %d", upstream.calls.Load())
	}

	for i := 0; i < 99; i++ {
		c.Get(context.Background(), "zzzzz")
	}
	if upstream.calls.Load() != 1 {
		t.Errorf("expected negative cache to suppress upstream calls, got %d total calls", upstream.calls.Load())
	}

	c.negative.Set("zzzzz", struct{}{}, -time.Second)
	c.Get(context.Background(), "zzzzz")
	if upstream.calls.Load() != 2 {
		t.Errorf("expected exactly 1 additional upstream call after negative expiry, got %d total calls", upstream.calls.Load())
	}
}

func TestCorruptedFileSelfHeals(t *testing.T) {
	config := testConfig(t)
	config.Clamp()
	upstream := &stubUpstream{asset: &Asset{ID: "corrupt", Data: []byte("fresh")}}
	c := New(config, upstream, logging.RootLogger)
	regionID := uuid.New()
	c.AttachScene(testScene{regionID: regionID})
	defer c.DetachScene(regionID)

	path, ok := c.pathOf("corrupt")
	if !ok {
		t.Fatal("expected a valid path for id 'corrupt'")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("unable to create shard directory: %v", err)
	}
	if err := os.WriteFile(path, []byte{0xef, 0xbe, 0xad, 0xde, 1, 2, 3}, 0644); err != nil {
		t.Fatalf("unable to write corrupted file: %v", err)
	}

	asset, ok := c.Get(context.Background(), "corrupt")
	if !ok {
		t.Fatal("expected corrupted file to be treated as a miss, then repopulated from upstream")
	}
	if string(asset.Data) != "fresh" {
		t.Errorf("expected repopulated data %q, got %q", "fresh", asset.Data)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected corrupted file to eventually be replaced by a valid one")
}

func TestBlankAndZeroUUIDRejectedWithoutTierAccess(t *testing.T) {
	upstream := &stubUpstream{asset: &Asset{ID: "should-not-be-used"}}
	c := New(testConfig(t), upstream, logging.RootLogger)

	if _, ok := c.Get(context.Background(), ""); ok {
		t.Error("expected blank ID to be rejected")
	}
	if _, ok := c.Get(context.Background(), "   "); ok {
		t.Error("expected whitespace-only ID to be rejected")
	}
	if _, ok := c.Get(context.Background(), "00000000-0000-0000-0000-000000000000"); ok {
		t.Error("expected all-zero UUID string to be rejected")
	}
	if upstream.calls.Load() != 0 {
		t.Errorf("expected no upstream calls for rejected IDs, got %d", upstream.calls.Load())
	}
}

func TestCacheRemovesNegativeEntry(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)
	c.CacheNegative("x")
	if _, ok := c.negative.Get("x"); !ok {
		t.Fatal("expected negative entry to be present before Cache")
	}

	c.Cache(Asset{ID: "x", Data: []byte("d")}, false)
	if _, ok := c.negative.Get("x"); ok {
		t.Error("expected Cache to remove the negative entry for its ID")
	}
}

func TestGetFromMemoryNeverTouchesUpstream(t *testing.T) {
	upstream := &stubUpstream{asset: &Asset{ID: "a"}}
	c := New(testConfig(t), upstream, logging.RootLogger)

	if _, ok := c.GetFromMemory("missing"); ok {
		t.Error("expected miss for an ID never cached")
	}
	if upstream.calls.Load() != 0 {
		t.Errorf("expected GetFromMemory to never call upstream, got %d calls", upstream.calls.Load())
	}
}

func TestStoreAssignsUUIDWhenAbsent(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)
	id := c.Store(Asset{Data: []byte("d")})
	if id == "" {
		t.Fatal("expected Store to assign a non-empty ID")
	}
	if asset, ok := c.GetFromMemory(id); !ok || string(asset.Data) != "d" {
		t.Errorf("expected stored asset to be retrievable by its assigned ID")
	}
}

func TestUpdateContentReplacesData(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)
	c.Cache(Asset{ID: "a", Data: []byte("old")}, false)

	if !c.UpdateContent(context.Background(), "a", []byte("new")) {
		t.Fatal("expected UpdateContent to succeed for an existing asset")
	}
	asset, ok := c.GetFromMemory("a")
	if !ok || string(asset.Data) != "new" {
		t.Errorf("expected updated data %q, got %q (ok=%v)", "new", asset.Data, ok)
	}
}

func TestUpdateContentFailsForMissingAsset(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)
	if c.UpdateContent(context.Background(), "missing", []byte("x")) {
		t.Error("expected UpdateContent to fail for a nonexistent asset")
	}
}

func TestClearMemoryLeavesFileTierIntact(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)

	path, ok := c.pathOf("a")
	if !ok {
		t.Fatal("expected a valid path for id 'a'")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("unable to create shard directory: %v", err)
	}
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}

	c.setWeak("a", Asset{ID: "a", Data: []byte("d")})
	c.CacheNegative("missing")

	c.ClearMemory()

	if _, ok := c.GetFromMemory("a"); ok {
		t.Error("expected ClearMemory to drop the weak/memory entry for 'a'")
	}
	if _, ok := c.negative.Get("missing"); ok {
		t.Error("expected ClearMemory to drop the negative entry")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected ClearMemory to leave the file tier untouched, stat failed: %v", err)
	}
}

func TestClearFileLeavesMemoryTierIntact(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)

	path, ok := c.pathOf("a")
	if !ok {
		t.Fatal("expected a valid path for id 'a'")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("unable to create shard directory: %v", err)
	}
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}
	c.setWeak("a", Asset{ID: "a", Data: []byte("d")})

	c.ClearFile()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected ClearFile to remove the on-disk shard tree, got err=%v", err)
	}
	if _, ok := c.GetFromMemory("a"); !ok {
		t.Error("expected ClearFile to leave the weak/memory tiers untouched")
	}
}

func TestClearDropsBothTiers(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)

	path, ok := c.pathOf("a")
	if !ok {
		t.Fatal("expected a valid path for id 'a'")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("unable to create shard directory: %v", err)
	}
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("unable to write file: %v", err)
	}
	c.setWeak("a", Asset{ID: "a", Data: []byte("d")})

	c.Clear()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected Clear to remove the on-disk shard tree, got err=%v", err)
	}
	if _, ok := c.GetFromMemory("a"); ok {
		t.Error("expected Clear to drop the weak/memory entry for 'a'")
	}
}

func TestExpireRemovesFromAllTiers(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)
	c.Cache(Asset{ID: "a", Data: []byte("d")}, false)
	c.Expire("a")

	if _, ok := c.GetFromMemory("a"); ok {
		t.Error("expected expired asset to be absent from memory tiers")
	}
}

func TestGetRetriesTransientUpstreamFailure(t *testing.T) {
	upstream := &stubUpstream{asset: &Asset{ID: "flaky", Data: []byte("ok")}}
	upstream.failTimes.Store(2)
	config := testConfig(t)
	config.BackoffAttempts = 3
	config.BackoffInitialMs = 1
	config.BackoffMaxMs = 5
	config.Clamp()
	c := New(config, upstream, logging.RootLogger)

	asset, ok := c.Get(context.Background(), "flaky")
	if !ok {
		t.Fatal("expected the retry loop to eventually succeed")
	}
	if string(asset.Data) != "ok" {
		t.Errorf("expected data %q, got %q", "ok", asset.Data)
	}
	if upstream.calls.Load() != 3 {
		t.Errorf("expected 1 initial call plus 2 retries (3 total), got %d", upstream.calls.Load())
	}
}

func TestGetExhaustsRetriesThenMisses(t *testing.T) {
	upstream := &stubUpstream{asset: &Asset{ID: "flaky", Data: []byte("ok")}}
	upstream.failTimes.Store(100)
	config := testConfig(t)
	config.BackoffAttempts = 2
	config.BackoffInitialMs = 1
	config.BackoffMaxMs = 2
	config.Clamp()
	c := New(config, upstream, logging.RootLogger)

	if _, ok := c.Get(context.Background(), "flaky"); ok {
		t.Fatal("expected a miss once every attempt fails")
	}
	if upstream.calls.Load() != 3 {
		t.Errorf("expected 1 initial call plus 2 retries (3 total), got %d", upstream.calls.Load())
	}
	if _, ok := c.negative.Get("flaky"); ok {
		t.Error("expected a transient upstream failure to not be recorded as a negative entry")
	}
}

func TestCacheWriteContentionDropsSecondSubmission(t *testing.T) {
	config := testConfig(t)
	config.Clamp()
	c := New(config, nil, logging.RootLogger)
	regionID := uuid.New()
	c.AttachScene(testScene{regionID: regionID})
	defer c.DetachScene(regionID)

	c.Cache(Asset{ID: "contended", Data: []byte("first")}, false)
	c.Cache(Asset{ID: "contended", Data: []byte("second")}, false)

	path, ok := c.pathOf("contended")
	if !ok {
		t.Fatal("expected a valid path")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the file to eventually be written: %v", err)
	}
	if asset, ok := c.getFromFile("contended"); !ok || string(asset.Data) != "first" {
		t.Errorf("expected the file to hold the first submission's data, got %q (ok=%v)", asset.Data, ok)
	}
}

func TestCacheAtomicReplaceKeepsBackup(t *testing.T) {
	config := testConfig(t)
	config.BakCleanupEnabled = true
	config.Clamp()
	c := New(config, nil, logging.RootLogger)
	regionID := uuid.New()
	c.AttachScene(testScene{regionID: regionID})
	defer c.DetachScene(regionID)

	c.Cache(Asset{ID: "replaceable", Data: []byte("original")}, false)

	path, ok := c.pathOf("replaceable")
	if !ok {
		t.Fatal("expected a valid path")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Cache(Asset{ID: "replaceable", Data: []byte("replaced")}, true)

	backupPath := path + ".bak"
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(backupPath); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected a .bak backup to be created after an atomic replace")
}

func TestCheckDoesNotCountAsHit(t *testing.T) {
	c := New(testConfig(t), nil, logging.RootLogger)
	c.Cache(Asset{ID: "a", Data: []byte("d")}, false)

	before := c.Status().WeakHits
	if !c.Check("a") {
		t.Error("expected Check to report presence")
	}
	if c.Status().WeakHits != before {
		t.Error("expected Check to not increment weak hit counter")
	}
}
