package nl

import (
	"io"

	"golang.org/x/sys/unix"
)

const (
	SizeofIfInfomsg = unix.SizeofIfInfomsg
	SizeofIfAddrmsg = unix.SizeofIfAddrmsg
)

// IfInfomsg is the fixed header of RTM_*LINK messages.
type IfInfomsg struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

func DecodeIfInfomsg(b []byte) (*IfInfomsg, int, error) {
	if len(b) < SizeofIfInfomsg {
		return nil, 0, io.ErrUnexpectedEOF
	}
	m := new(IfInfomsg)
	m.Family = b[0]
	m.Type = native.Uint16(b[2:4])
	m.Index = int32(native.Uint32(b[4:8]))
	m.Flags = native.Uint32(b[8:12])
	m.Change = native.Uint32(b[12:16])
	return m, SizeofIfInfomsg, nil
}

func (m IfInfomsg) Len() int {
	return SizeofIfInfomsg
}

func (m IfInfomsg) Encode(b []byte) (int, error) {
	if len(b) < SizeofIfInfomsg {
		return 0, io.ErrShortWrite
	}
	b[0] = m.Family
	b[1] = 0
	native.PutUint16(b[2:4], m.Type)
	native.PutUint32(b[4:8], uint32(m.Index))
	native.PutUint32(b[8:12], m.Flags)
	native.PutUint32(b[12:16], m.Change)
	return SizeofIfInfomsg, nil
}

// IfAddrmsg is the fixed header of RTM_*ADDR messages.
type IfAddrmsg struct {
	Family    uint8
	Prefixlen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

func (m IfAddrmsg) Len() int {
	return SizeofIfAddrmsg
}

func (m IfAddrmsg) Encode(b []byte) (int, error) {
	if len(b) < SizeofIfAddrmsg {
		return 0, io.ErrShortWrite
	}
	b[0] = m.Family
	b[1] = m.Prefixlen
	b[2] = m.Flags
	b[3] = m.Scope
	native.PutUint32(b[4:8], m.Index)
	return SizeofIfAddrmsg, nil
}
