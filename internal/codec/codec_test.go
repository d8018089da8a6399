package codec

import (
	"bytes"
	"errors"
	"testing"
)

func testLimits() Limits {
	return Limits{
		MaxStringBytes: 256 * 1024,
		MaxDataBytes:   64 * 1024 * 1024,
	}
}

func roundTrip(t *testing.T, record *Record) *Record {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, record); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(&buf, testLimits())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return decoded
}

func TestRoundTrip(t *testing.T) {
	original := &Record{
		ID:          "abc123",
		Name:        "a test asset",
		Description: "some description",
		Type:        -5,
		Flags:       0xdeadbeef,
		Data:        []byte("hello, asset cache"),
		Local:       true,
		Temporary:   false,
		UUID:        [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}

	decoded := roundTrip(t, original)

	if decoded.ID != original.ID ||
		decoded.Name != original.Name ||
		decoded.Description != original.Description ||
		decoded.Type != original.Type ||
		decoded.Flags != original.Flags ||
		!bytes.Equal(decoded.Data, original.Data) ||
		decoded.Local != original.Local ||
		decoded.Temporary != original.Temporary ||
		decoded.UUID != original.UUID {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestRoundTripZeroLengthData(t *testing.T) {
	original := &Record{ID: "empty", Data: nil}
	decoded := roundTrip(t, original)
	if len(decoded.Data) != 0 {
		t.Errorf("expected zero-length data, got %d bytes", len(decoded.Data))
	}
}

func TestRoundTripMaximumData(t *testing.T) {
	limits := Limits{MaxStringBytes: 1024, MaxDataBytes: 1024}
	original := &Record{ID: "max", Data: bytes.Repeat([]byte{0xab}, 1024)}

	var buf bytes.Buffer
	if err := Encode(&buf, original); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := Decode(&buf, limits)
	if err != nil {
		t.Fatalf("expected data at exactly the limit to decode, got error: %v", err)
	}
	if len(decoded.Data) != 1024 {
		t.Errorf("expected 1024 bytes of data, got %d", len(decoded.Data))
	}
}

func TestDecodeFailsOverLimitData(t *testing.T) {
	limits := Limits{MaxStringBytes: 1024, MaxDataBytes: 1024}
	original := &Record{ID: "over", Data: bytes.Repeat([]byte{0xab}, 1025)}

	var buf bytes.Buffer
	if err := Encode(&buf, original); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := Decode(&buf, limits); !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrBadFormat for over-limit data, got %v", err)
	}
}

func TestDecodeFailsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Record{ID: "x"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[0] ^= 0xff

	if _, err := Decode(bytes.NewReader(corrupted), testLimits()); !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrBadFormat for corrupted magic, got %v", err)
	}
}

func TestDecodeFailsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Record{ID: "x"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	corrupted := buf.Bytes()
	// Bump the version field (bytes 4-7) past what is supported.
	corrupted[4] = 0xff

	if _, err := Decode(bytes.NewReader(corrupted), testLimits()); !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrBadFormat for unsupported version, got %v", err)
	}
}

func TestDecodeFailsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Record{ID: "x", Data: []byte("some data")}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-5]

	if _, err := Decode(bytes.NewReader(truncated), testLimits()); !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrBadFormat for truncated stream, got %v", err)
	}
}

func TestDecodeEmptyStreamIsNotBadFormat(t *testing.T) {
	// An empty file is a miss per the specification, not a corrupt record;
	// the layer above codec (pkg/assetcache's getFromFile) is responsible for
	// special-casing a zero-length file before ever calling Decode. Decode
	// itself simply reports the truncation as a bad format, since it has no
	// notion of "empty file" versus "partially written file" on its own.
	if _, err := Decode(bytes.NewReader(nil), testLimits()); !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrBadFormat for empty stream, got %v", err)
	}
}
