package walletdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Codec: deterministic, little-endian, length-prefix binary serialization,
// byte-identical to the legacy format it must keep reading (spec §4.1).
//
// Compact size prefixes (1/3/5/9 bytes depending on magnitude) are the same
// variable-length integer encoding the legacy wallet format itself uses for
// every string/byte-sequence length; no general-purpose varint library in
// the retrieved pack implements this exact legacy shape, so it is hand
// rolled here — the one piece of the codec where matching the on-disk
// format byte-for-bit rules out delegating to a library.
const (
	compactSize16 = 0xfd
	compactSize32 = 0xfe
	compactSize64 = 0xff
)

func putCompactSize(buf *bytes.Buffer, n uint64) {
	switch {
	case n < compactSize16:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(compactSize16)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	case n <= 0xffffffff:
		buf.WriteByte(compactSize32)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(compactSize64)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}

func readCompactSize(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: compact size prefix: %w", ErrCorrupt, err)
	}
	switch first {
	case compactSize16:
		var b [2]byte
		if _, err := readFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case compactSize32:
		var b [4]byte
		if _, err := readFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case compactSize64:
		var b [8]byte
		if _, err := readFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(first), nil
	}
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := r.Read(b)
	if err != nil || n != len(b) {
		return n, fmt.Errorf("%w: short read (wanted %d, got %d)", ErrCorrupt, len(b), n)
	}
	return n, nil
}

// encoder accumulates an encoded key or value. Its methods never fail:
// writing into a bytes.Buffer cannot error.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

// varBytes writes a compact-size length prefix followed by b — the shape
// every string and byte-sequence field in the taxonomy uses.
func (e *encoder) varBytes(b []byte) *encoder {
	putCompactSize(&e.buf, uint64(len(b)))
	e.buf.Write(b)
	return e
}

func (e *encoder) varString(s string) *encoder { return e.varBytes([]byte(s)) }

// fixed writes b with no length prefix — used for fixed-size sub-key
// fields such as a 32-byte transaction hash.
func (e *encoder) fixed(b []byte) *encoder {
	e.buf.Write(b)
	return e
}

func (e *encoder) u32(v uint32) *encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return e.fixed(b[:])
}

func (e *encoder) u64(v uint64) *encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return e.fixed(b[:])
}

func (e *encoder) i32(v int32) *encoder { return e.u32(uint32(v)) }
func (e *encoder) i64(v int64) *encoder { return e.u64(uint64(v)) }

func (e *encoder) byte(v byte) *encoder {
	e.buf.WriteByte(v)
	return e
}

func (e *encoder) bool(v bool) *encoder {
	if v {
		return e.byte(1)
	}
	return e.byte(0)
}

// decoder walks an encoded key or value field by field, in the declaration
// order the leading tag implies (spec: "decoders must therefore know the
// expected field sequence from the leading tag").
type decoder struct {
	r *bytes.Reader
}

func newDecoder(b []byte) *decoder { return &decoder{r: bytes.NewReader(b)} }

func (d *decoder) remaining() int { return d.r.Len() }

func (d *decoder) varBytes() ([]byte, error) {
	n, err := readCompactSize(d.r)
	if err != nil {
		return nil, err
	}
	if n > uint64(d.r.Len()) {
		return nil, fmt.Errorf("%w: size prefix %d exceeds remaining %d bytes", ErrCorrupt, n, d.r.Len())
	}
	b := make([]byte, n)
	if _, err := readFull(d.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *decoder) varString() (string, error) {
	b, err := d.varBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) fixed(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := readFull(d.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// optionalFixed implements the "optional trailing field" rule: if the
// decoder has already reached end-of-stream, the field is silently absent,
// not an error. Any other short read is still ErrCorrupt.
func (d *decoder) optionalFixed(n int) ([]byte, bool, error) {
	if d.r.Len() == 0 {
		return nil, false, nil
	}
	b, err := d.fixed(n)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (d *decoder) u32() (uint32, error) {
	b, err := d.fixed(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.fixed(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) i32() (int32, error) {
	v, err := d.u32()
	return int32(v), err
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) byte() (byte, error) {
	return d.r.ReadByte()
}

func (d *decoder) bool() (bool, error) {
	b, err := d.byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// atEnd reports whether every byte of the decoded buffer has been consumed.
// The record decoders do not call it, so trailing bytes after a record's
// last field are not rejected.
func (d *decoder) atEnd() bool { return d.r.Len() == 0 }
