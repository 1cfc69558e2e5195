package nl

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	NLA_TYPE_MASK = ^uint16(unix.NLA_F_NESTED | unix.NLA_F_NET_BYTEORDER)

	SizeofAttrHdr = unix.SizeofNlAttr
	// the length field is 16 bits wide
	MaxAttrLen = 0xffff
)

type AttrLen uint16

func (l AttrLen) Align() int {
	return Align(int(l))
}

type AttrHdr struct {
	Len  AttrLen
	Type uint16
}

func DecodeAttrHdr(b []byte) (AttrHdr, int, error) {
	var hdr AttrHdr
	if len(b) < SizeofAttrHdr {
		return hdr, 0, io.ErrUnexpectedEOF
	}
	hdr.Len = AttrLen(native.Uint16(b[0:2]))
	hdr.Type = native.Uint16(b[2:4])
	return hdr, SizeofAttrHdr, nil
}

func (h AttrHdr) MaskedType() int {
	return int(h.Type & NLA_TYPE_MASK)
}

func (h AttrHdr) Nested() bool {
	return h.Type&unix.NLA_F_NESTED != 0
}

func (h AttrHdr) NetByteorder() bool {
	return h.Type&unix.NLA_F_NET_BYTEORDER != 0
}

// RawAttr is an attribute found by ParseAttrs. Value points into the parsed
// buffer.
type RawAttr struct {
	AttrHdr
	Value []byte
}

// ParseAttrs walks b the way RTA_OK and RTA_NEXT do. Trailing bytes too
// short for an attribute header are ignored.
func ParseAttrs(b []byte) ([]RawAttr, error) {
	var attrs []RawAttr
	for len(b) >= SizeofAttrHdr {
		hdr, n, err := DecodeAttrHdr(b)
		if err != nil {
			return attrs, err
		}
		if int(hdr.Len) < SizeofAttrHdr || int(hdr.Len) > len(b) {
			return attrs, errors.Wrapf(ErrMalformed, "attribute length %d with %d bytes left", hdr.Len, len(b))
		}
		attrs = append(attrs, RawAttr{AttrHdr: hdr, Value: b[n:hdr.Len]})
		if hdr.Len.Align() >= len(b) {
			break
		}
		b = b[hdr.Len.Align():]
	}
	return attrs, nil
}

// Attr is one node of an attribute tree. Children are encoded after the
// value, so a container may carry a fixed header of its own (VETH_INFO_PEER
// carries an ifinfomsg before its attributes). Type is written as given;
// families that want NLA_F_NESTED on containers set it themselves.
type Attr struct {
	Type     uint16
	Value    Encoder
	Children AttrList
}

// wireLen is the value of the length field: unpadded for a leaf, the full
// span of all descendants for a container.
func (a *Attr) wireLen() int {
	n := SizeofAttrHdr
	if a.Value != nil {
		n += a.Value.Len()
	}
	if len(a.Children) > 0 {
		n = Align(n) + a.Children.Len()
	}
	return n
}

func (a *Attr) Len() int {
	return Align(a.wireLen())
}

func (a *Attr) Encode(b []byte) (int, error) {
	l := a.wireLen()
	if l > MaxAttrLen {
		return 0, errors.Wrapf(ErrAttrTooLong, "type %d needs %d bytes", a.Type&NLA_TYPE_MASK, l)
	}
	n := Align(l)
	if len(b) < n {
		return 0, io.ErrShortWrite
	}
	native.PutUint16(b[0:2], uint16(l))
	native.PutUint16(b[2:4], a.Type)
	off := SizeofAttrHdr
	if a.Value != nil {
		vl := a.Value.Len()
		if _, err := a.Value.Encode(b[off : off+vl]); err != nil {
			return 0, err
		}
		off += vl
	}
	if len(a.Children) > 0 {
		off = Align(off)
		if _, err := a.Children.Encode(b[off:n]); err != nil {
			return 0, err
		}
	}
	return n, nil
}

type AttrList []Attr

func (al AttrList) Len() int {
	n := 0
	for i := range al {
		n += al[i].Len()
	}
	return n
}

func (al AttrList) Encode(b []byte) (int, error) {
	off := 0
	for i := range al {
		n, err := al[i].Encode(b[off:])
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

type AttrU64 uint64

func DecodeAttrU64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	u := native.Uint64(b)
	return u, 8, nil
}

func (u AttrU64) Len() int {
	return 8
}

func (u AttrU64) Encode(b []byte) (int, error) {
	native.PutUint64(b, uint64(u))
	return 8, nil
}

type AttrU32 uint32

func DecodeAttrU32(b []byte) (uint32, int, error) {
	if len(b) < 4 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	u := native.Uint32(b)
	return u, 4, nil
}

func (u AttrU32) Len() int {
	return 4
}

func (u AttrU32) Encode(b []byte) (int, error) {
	native.PutUint32(b, uint32(u))
	return 4, nil
}

type AttrU16 uint16

func DecodeAttrU16(b []byte) (uint16, int, error) {
	if len(b) < 2 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	u := native.Uint16(b)
	return u, 2, nil
}

func (u AttrU16) Len() int {
	return 2
}

func (u AttrU16) Encode(b []byte) (int, error) {
	native.PutUint16(b, uint16(u))
	return 2, nil
}

type AttrU8 uint8

func DecodeAttrU8(b []byte) (uint8, int, error) {
	if len(b) < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	u := uint8(b[0])
	return u, 1, nil
}

func (u AttrU8) Len() int {
	return 1
}

func (u AttrU8) Encode(b []byte) (int, error) {
	b[0] = byte(u)
	return 1, nil
}

type AttrString string

func DecodeAttrString(b []byte) (string, int, error) {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		s := string(b)
		return s, len(s), nil
	}
	s := string(b[:i])
	return s, i + 1, nil
}

func (s AttrString) Len() int {
	return len(s) + 1
}

func (s AttrString) Encode(b []byte) (int, error) {
	if len(b) < s.Len() {
		return 0, io.ErrShortWrite
	}
	n := copy(b, s)
	b[n] = 0
	return n + 1, nil
}
