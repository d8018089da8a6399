package assetcache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestCloneIsIndependent(t *testing.T) {
	original := Asset{ID: "a", Name: "rock", Data: []byte{1, 2, 3}}
	clone := original.Clone()
	clone.Data[0] = 99

	if original.Data[0] == 99 {
		t.Error("expected Clone to produce an independent copy of Data")
	}

	clone.Data[0] = 1 // undo the mutation used to prove independence above
	if diff := cmp.Diff(original, clone); diff != "" {
		t.Errorf("expected Clone to otherwise equal the original (-original +clone):\n%s", diff)
	}
}

func TestIsZeroUUID(t *testing.T) {
	zero := Asset{ID: "00000000-0000-0000-0000-000000000000"}
	if !zero.IsZeroUUID() {
		t.Error("expected all-zero UUID string to be detected")
	}

	nonZero := Asset{ID: uuid.New().String()}
	if nonZero.IsZeroUUID() {
		t.Error("expected random UUID string to not be detected as zero")
	}
}
