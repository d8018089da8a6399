package assetcache

import (
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/jamenai/opensim-assetcache/pkg/logging"
)

// clamp bounds defined by spec.md §6's configuration option table.
const (
	minTiers, maxTiers     = 1, 3
	minTierLen, maxTierLen = 1, 4

	minNegativeMaxEntries = 1000
	minNegativePruneBatch = 100

	minDeserializeStringBytes = 32 * 1024
	maxDeserializeStringBytes = 2 * 1024 * 1024
	minDeserializeDataBytes   = 8 * 1024 * 1024
	maxDeserializeDataBytes   = 512 * 1024 * 1024

	minBackoffAttempts, maxBackoffAttempts     = 0, 10
	minBackoffInitialMs, maxBackoffInitialMs   = 0, 500
	minBackoffMaxMs, maxBackoffMaxMs           = 5, 2000

	minBakMaxAgeHours, maxBakMaxAgeHours = 1, 168

	minWriterWorkers, maxWriterWorkers = 1, 4

	minHitReportWeakSampleTarget = 100
)

// Config holds every tunable recognized by the cache, mirroring spec.md
// §6's option table field for field. Durations that the specification
// expresses in hours, minutes, or milliseconds at the config surface are
// stored here already converted to time.Duration, matching the table's
// "stored internally as" notes.
type Config struct {
	FileCacheEnabled bool   `toml:"file_cache_enabled"`
	CacheRoot        string `toml:"cache_root"`

	MemoryCacheEnabled bool          `toml:"memory_cache_enabled"`
	MemoryTTL          time.Duration `toml:"-"`
	MemoryTTLHours     float64       `toml:"memory_ttl_hours"`

	NegativeCacheEnabled bool          `toml:"negative_cache_enabled"`
	NegativeTTL          time.Duration `toml:"-"`
	NegativeTTLSeconds   int           `toml:"negative_ttl_seconds"`

	UpdateFileTimeOnCacheHit bool `toml:"update_file_time_on_cache_hit"`

	FileTTL       time.Duration `toml:"-"`
	FileTTLHours  float64       `toml:"file_ttl_hours"`
	CleanupPeriod time.Duration `toml:"-"`
	CleanupHours  float64       `toml:"file_cleanup_period_hours"`

	Tiers   int `toml:"tiers"`
	TierLen int `toml:"tier_len"`

	CacheWarnAt int `toml:"cache_warn_at"`

	NegativeMaxEntries int `toml:"negative_max_entries"`
	NegativePruneBatch int `toml:"negative_prune_batch"`

	DeserializeMaxStringBytes ByteSize `toml:"deserialize_max_string_bytes"`
	DeserializeMaxDataMB      int      `toml:"deserialize_max_data_mb"`

	BackoffAttempts  int `toml:"backoff_attempts"`
	BackoffInitialMs int `toml:"backoff_initial_ms"`
	BackoffMaxMs     int `toml:"backoff_max_ms"`

	BakCleanupEnabled bool `toml:"bak_cleanup_enabled"`
	BakMaxAgeHours    int  `toml:"bak_max_age_hours"`

	WriterWorkers int `toml:"writer_workers"`

	HitRateDisplay            int `toml:"hit_rate_display"`
	HitReportWeakSampleTarget int `toml:"hit_report_weak_sample_target"`

	// WeakMaxEntries bounds the size-bounded LRU substitute used in place
	// of a native weak-reference map (spec.md §9 "implementations without
	// native weak references must provide a size-bounded LRU as a
	// substitute and document the semantic drift"). Not part of the
	// original option table; added because the substitute requires a
	// capacity the source config surface never needed to express.
	WeakMaxEntries int `toml:"weak_max_entries"`

	// LogLevel names the process-wide logging verbosity ("disabled",
	// "error", "warn", "info", "debug", or "trace"), per
	// pkg/logging.NameToLevel. Not part of the original option table;
	// added so the ambient logging stack has a config-surface knob
	// (layered under a --log-level flag at the command line) instead of
	// being fixed at LevelInfo for the life of the process.
	LogLevel string `toml:"log_level"`
}

// ByteSize is an integer byte count that decodes from either a plain
// number of bytes or a humanize-style string such as "256KiB" in the TOML
// source, and renders in humanized form through String.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml
// accepts either a bare integer or a humanized size string for this field.
func (b *ByteSize) UnmarshalText(text []byte) error {
	bytes, err := humanize.ParseBytes(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid byte size %q", text)
	}
	*b = ByteSize(bytes)
	return nil
}

// UnmarshalTOML implements BurntSushi/toml's own Unmarshaler interface, so
// that a plain TOML integer (decoded as int64) is also accepted directly,
// without requiring the value to be quoted as a string.
func (b *ByteSize) UnmarshalTOML(value interface{}) error {
	switch v := value.(type) {
	case int64:
		*b = ByteSize(v)
		return nil
	case string:
		return b.UnmarshalText([]byte(v))
	default:
		return errors.Errorf("unsupported byte size value %v", value)
	}
}

// String renders b in human-readable form, e.g. "256 kB".
func (b ByteSize) String() string {
	return humanize.Bytes(uint64(b))
}

// Default returns the configuration described by spec.md §6's default
// column, already clamped.
func Default() Config {
	c := Config{
		FileCacheEnabled:          true,
		CacheRoot:                 "c_assetcache",
		MemoryCacheEnabled:        false,
		MemoryTTLHours:            0.016,
		NegativeCacheEnabled:      true,
		NegativeTTLSeconds:        120,
		UpdateFileTimeOnCacheHit:  false,
		FileTTLHours:              48,
		CleanupHours:              1,
		Tiers:                     1,
		TierLen:                  3,
		CacheWarnAt:               30000,
		NegativeMaxEntries:        100000,
		NegativePruneBatch:        5000,
		DeserializeMaxStringBytes: 256 * 1024,
		DeserializeMaxDataMB:      64,
		BackoffAttempts:           3,
		BackoffInitialMs:          5,
		BackoffMaxMs:              40,
		BakCleanupEnabled:         true,
		BakMaxAgeHours:            24,
		WriterWorkers:             1,
		HitRateDisplay:            100,
		HitReportWeakSampleTarget: 2000,
		WeakMaxEntries:            50000,
		LogLevel:                  "info",
	}
	c.Clamp()
	return c
}

// Load reads a TOML configuration file at path, starting from Default()
// and overriding whatever fields are present, grounded on the teacher's
// pkg/encoding.LoadAndUnmarshalTOML (BurntSushi/toml with plain
// unmarshal-into-struct semantics, no schema validation layer).
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, errors.Wrapf(err, "unable to load configuration from %s", path)
	}
	c.Clamp()
	return c, nil
}

// Clamp resolves derived Duration fields from their TOML-facing numeric
// counterparts and enforces every bound in spec.md §6's clamp column.
func (c *Config) Clamp() {
	if !filepath.IsAbs(c.CacheRoot) {
		if abs, err := filepath.Abs(c.CacheRoot); err == nil {
			c.CacheRoot = abs
		}
	}

	c.MemoryTTL = durationFromHours(c.MemoryTTLHours)
	c.NegativeTTL = time.Duration(c.NegativeTTLSeconds) * time.Second
	c.FileTTL = durationFromHours(c.FileTTLHours)
	c.CleanupPeriod = durationFromHours(c.CleanupHours)

	c.Tiers = clampInt(c.Tiers, minTiers, maxTiers)
	c.TierLen = clampInt(c.TierLen, minTierLen, maxTierLen)

	c.NegativeMaxEntries = clampIntLower(c.NegativeMaxEntries, minNegativeMaxEntries)
	c.NegativePruneBatch = clampIntLower(c.NegativePruneBatch, minNegativePruneBatch)

	stringBytes := clampInt64(int64(c.DeserializeMaxStringBytes), minDeserializeStringBytes, maxDeserializeStringBytes)
	c.DeserializeMaxStringBytes = ByteSize(stringBytes)
	dataBytes := clampInt64(int64(c.DeserializeMaxDataMB)*1024*1024, minDeserializeDataBytes, maxDeserializeDataBytes)
	c.DeserializeMaxDataMB = int(dataBytes / (1024 * 1024))

	c.BackoffAttempts = clampInt(c.BackoffAttempts, minBackoffAttempts, maxBackoffAttempts)
	c.BackoffInitialMs = clampInt(c.BackoffInitialMs, minBackoffInitialMs, maxBackoffInitialMs)
	c.BackoffMaxMs = clampInt(c.BackoffMaxMs, minBackoffMaxMs, maxBackoffMaxMs)
	if c.BackoffMaxMs < c.BackoffInitialMs {
		c.BackoffMaxMs = c.BackoffInitialMs
	}

	c.BakMaxAgeHours = clampInt(c.BakMaxAgeHours, minBakMaxAgeHours, maxBakMaxAgeHours)
	c.WriterWorkers = clampInt(c.WriterWorkers, minWriterWorkers, maxWriterWorkers)

	c.HitReportWeakSampleTarget = clampIntLower(c.HitReportWeakSampleTarget, minHitReportWeakSampleTarget)
	c.WeakMaxEntries = clampIntLower(c.WeakMaxEntries, 1000)

	if _, ok := logging.NameToLevel(c.LogLevel); !ok {
		c.LogLevel = "info"
	}
}

// Level parses the configured LogLevel into a logging.Level, falling back
// to logging.LevelInfo if it is somehow still unrecognized (Clamp already
// guarantees this doesn't happen for a Config that's passed through it).
func (c Config) Level() logging.Level {
	level, ok := logging.NameToLevel(c.LogLevel)
	if !ok {
		return logging.LevelInfo
	}
	return level
}

// MaxDataBytes returns the clamped data-length limit as a byte count.
func (c Config) MaxDataBytes() uint32 {
	return uint32(c.DeserializeMaxDataMB) * 1024 * 1024
}

// MaxStringBytes returns the clamped per-field string-length limit as a
// byte count.
func (c Config) MaxStringBytes() uint32 {
	return uint32(c.DeserializeMaxStringBytes)
}

// BakMaxAge returns the clamped backup-retention age as a Duration.
func (c Config) BakMaxAge() time.Duration {
	return time.Duration(c.BakMaxAgeHours) * time.Hour
}

func durationFromHours(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampIntLower(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
