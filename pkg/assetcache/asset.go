// Package assetcache implements a concurrent, multi-layer cache for
// immutable, content-addressed binary assets, sitting between a simulator
// host and an upstream asset service.
//
// It resolves lookups through a cascade of tiers — a size-bounded
// weak-reference substitute, an expiring in-memory map, a tier-sharded
// on-disk store, and a bounded negative-lookup map — while guaranteeing
// that concurrent requests for the same absent asset produce at most one
// upstream fetch (internal/fetchgroup) and at most one concurrent write
// per asset file (internal/diskwriter).
package assetcache

import (
	"fmt"

	"github.com/google/uuid"
)

// zeroUUIDString is the textual form of an asset ID that has been
// distilled to the sixteen-zero-byte sentinel UUID some upstream systems
// use to mean "no asset", rather than a real content address.
const zeroUUIDString = "00000000-0000-0000-0000-000000000000"

// Asset is an immutable, content-addressed binary object. Callers must not
// mutate Data after passing an Asset to Cache; UpdateContent builds a new
// Asset rather than mutating in place.
type Asset struct {
	ID          string
	UUID        uuid.UUID
	Name        string
	Description string
	Type        int8
	Flags       uint32
	Data        []byte
	Local       bool
	Temporary   bool
}

// Clone returns a deep copy of a, safe to mutate independently.
func (a Asset) Clone() Asset {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	a.Data = data
	return a
}

// IsZeroUUID reports whether a.ID, interpreted as a UUID string, is the
// all-zero sentinel — a condition the cache treats identically to a blank
// ID, rejecting it as NotFound without consulting any tier.
func (a Asset) IsZeroUUID() bool {
	return a.ID == zeroUUIDString
}

// LogFields renders a as a compact, structured string suitable for a log
// line, deliberately omitting Data.
func (a Asset) LogFields() string {
	return fmt.Sprintf("id=%s uuid=%s name=%q type=%d flags=%#x bytes=%d local=%t temporary=%t",
		a.ID, a.UUID, a.Name, a.Type, a.Flags, len(a.Data), a.Local, a.Temporary)
}
