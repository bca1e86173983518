package sni

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"
)

// Cursor gives random access to a captured payload. Every read is checked
// against the captured length first; a read that would overrun reports
// ok=false and touches nothing.
type Cursor struct {
	b []byte
}

func NewCursor(b []byte) Cursor { return Cursor{b: b} }

func (c Cursor) Len() int { return len(c.b) }

// at positions a cryptobyte.String on off, or reports that off+n overruns.
func (c Cursor) at(off, n int) (cryptobyte.String, bool) {
	if off < 0 || n < 0 || off > len(c.b) || n > len(c.b)-off {
		return nil, false
	}
	return cryptobyte.String(c.b[off:]), true
}

func (c Cursor) Uint8(off int) (uint8, bool) {
	s, ok := c.at(off, 1)
	if !ok {
		return 0, false
	}
	var v uint8
	if !s.ReadUint8(&v) {
		return 0, false
	}
	return v, true
}

// Uint16 reads a big-endian uint16.
func (c Cursor) Uint16(off int) (uint16, bool) {
	s, ok := c.at(off, 2)
	if !ok {
		return 0, false
	}
	var v uint16
	if !s.ReadUint16(&v) {
		return 0, false
	}
	return v, true
}

// Uint24 reads a big-endian 24-bit length (TLS handshake lengths).
func (c Cursor) Uint24(off int) (uint32, bool) {
	s, ok := c.at(off, 3)
	if !ok {
		return 0, false
	}
	var v uint32
	if !s.ReadUint24(&v) {
		return 0, false
	}
	return v, true
}

// Uint16LE reads a little-endian uint16 (gQUIC handshake message fields).
func (c Cursor) Uint16LE(off int) (uint16, bool) {
	b, ok := c.Bytes(off, 2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

// Uint32LE reads a little-endian uint32.
func (c Cursor) Uint32LE(off int) (uint32, bool) {
	b, ok := c.Bytes(off, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// Bytes returns b[off:off+n] without copying.
func (c Cursor) Bytes(off, n int) ([]byte, bool) {
	if _, ok := c.at(off, n); !ok {
		return nil, false
	}
	return c.b[off : off+n : off+n], true
}

// HasTag reports whether the len(tag) bytes at off equal tag.
func (c Cursor) HasTag(off int, tag []byte) bool {
	b, ok := c.Bytes(off, len(tag))
	return ok && bytes.Equal(b, tag)
}
