package assetcache

import (
	"context"

	"github.com/google/uuid"
)

// Upstream is the single collaborator the cache consumes to repopulate
// itself on a miss. Fetch must be side-effect-free on miss: returning
// (nil, nil) means absent and is recorded as a negative; a non-nil error
// means the call failed transiently and is never recorded as a negative.
type Upstream interface {
	Fetch(ctx context.Context, id string) (*Asset, error)
}

// Scene is an optional collaborator consulted for deep-touch and cleanup
// sparing. A cache may have zero or more scenes attached at once.
type Scene interface {
	TerrainTextureUUIDs() []uuid.UUID
	EnvironmentUUIDs() []uuid.UUID
	ParcelEnvironmentUUIDs() []uuid.UUID
	ObjectGroupUUIDs() []uuid.UUID
	AvatarBakeTextureUUIDs() []uuid.UUID
	RegionID() uuid.UUID
}

// DefaultAssetsLoader is an optional collaborator that enumerates built-in
// assets by a string argument (e.g. a viewer version or asset-set name).
// The returned IDs become a sticky allowlist exempt from cleanup until
// DeleteDefaultAssets runs.
type DefaultAssetsLoader interface {
	Load(arg string) ([]string, error)
}

// selfCheckingUpstream is implemented by an Upstream that can detect when
// it has been pointed back at the cache instance consuming it, so the
// fetch group's self-loop guard (spec.md §4.5) can short-circuit to miss
// instead of deadlocking or recursing.
type selfCheckingUpstream interface {
	Upstream
	IsSelf(c *Cache) bool
}
