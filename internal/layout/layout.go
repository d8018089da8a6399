// Package layout computes the on-disk location of a cached asset file from
// its content-addressed ID, tier-sharding the cache directory so that no
// single directory accumulates an unbounded number of entries.
//
// It is grounded on the teacher's own staging path derivation
// (pkg/staging/paths.go), generalized from a fixed SHA-1-prefix scheme to a
// configurable number of shard tiers and tier widths.
package layout

import (
	"path/filepath"
	"strings"
)

// invalid holds the set of bytes that are replaced with '_' when sanitizing
// an asset ID for use as a path component. It covers every character that is
// reserved in either POSIX path names ('/' and NUL) or Windows file names
// ('<>:"/\|?*' and the C0 control range), since the cache must produce
// stable, unique paths regardless of the host platform.
var invalid [256]bool

func init() {
	for _, c := range []byte("<>:\"/\\|?*") {
		invalid[c] = true
	}
	for c := 0; c < 0x20; c++ {
		invalid[c] = true
	}
}

// Sanitize replaces every character in id that is invalid in a path or file
// name with '_'. It never lengthens or shortens id.
func Sanitize(id string) string {
	b := []byte(id)
	changed := false
	for i, c := range b {
		if invalid[c] {
			b[i] = '_'
			changed = true
		}
	}
	if !changed {
		return id
	}
	return string(b)
}

// PathOf computes the path at which the asset identified by id should be
// stored beneath root, given tiers shard levels of tierLen characters each.
// It returns false if id is blank or consists entirely of whitespace.
//
// The sanitized ID is right-padded with '_' if it is shorter than
// tiers*tierLen, so that every ID — no matter how short — produces a full
// set of shard directories; the full (unpadded) sanitized ID is always used
// as the final file name.
func PathOf(root, id string, tiers, tierLen int) (string, bool) {
	if strings.TrimSpace(id) == "" {
		return "", false
	}

	sanitized := Sanitize(id)

	minLen := tiers * tierLen
	padded := sanitized
	if len(padded) < minLen {
		padded = padded + strings.Repeat("_", minLen-len(padded))
	}

	components := make([]string, 0, tiers+2)
	components = append(components, root)
	for t := 0; t < tiers; t++ {
		components = append(components, padded[t*tierLen:(t+1)*tierLen])
	}
	components = append(components, sanitized)

	return filepath.Join(components...), true
}

// ShardDirectory returns the directory (everything but the final path
// component) that PathOf would place id's file in.
func ShardDirectory(root, id string, tiers, tierLen int) (string, bool) {
	path, ok := PathOf(root, id, tiers, tierLen)
	if !ok {
		return "", false
	}
	return filepath.Dir(path), true
}
