package nl

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	NLMSG_ALIGNTO = unix.NLMSG_ALIGNTO

	SizeofHeader = unix.SizeofNlMsghdr
	// error code followed by the header of the offending request
	SizeofErrorRecord = 4 + SizeofHeader
)

// Msg is a message decoded from a reply. Body and Err point into the
// buffer the message was received in.
type Msg struct {
	Header Header
	// Err is set only for NLMSG_ERROR messages.
	Err  *ErrorRecord
	Body []byte
}

func DecodeMsg(b []byte) (*Msg, int, error) {
	m := new(Msg)
	h, n, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	if h.Len < SizeofHeader || int(h.Len) > len(b) {
		return nil, 0, errors.Wrapf(ErrMalformed, "message length %d with %d bytes left", h.Len, len(b))
	}
	m.Header = *h
	m.Body = b[n:m.Header.Len]
	if m.Header.Type == unix.NLMSG_ERROR {
		m.Err, _, err = DecodeErrorRecord(m.Body)
		if err != nil {
			return nil, 0, err
		}
	}
	next := Align(int(m.Header.Len))
	if next > len(b) {
		next = len(b)
	}
	return m, next, nil
}

// ParseMsgs splits b into messages the way NLMSG_OK and NLMSG_NEXT walk a
// receive buffer.
func ParseMsgs(b []byte) ([]Msg, error) {
	var msgs []Msg
	for len(b) > 0 {
		m, n, err := DecodeMsg(b)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, *m)
		b = b[n:]
	}
	return msgs, nil
}

// DecodeMsgError decodes the status word leading an NLMSG_DONE or
// NLMSG_ERROR body.
func DecodeMsgError(b []byte) (error, int, error) {
	if len(b) < 4 {
		return nil, 0, nil
	}
	e := int32(native.Uint32(b[:4]))
	if e != 0 {
		return unix.Errno(-e), 4, nil
	}
	return nil, 4, nil
}

// ErrorRecord is the body of an NLMSG_ERROR message.
type ErrorRecord struct {
	// Error is 0 for an ACK, otherwise a negative errno.
	Error int32
	Orig  Header
}

func DecodeErrorRecord(b []byte) (*ErrorRecord, int, error) {
	if len(b) < 4 {
		return nil, 0, errors.Wrapf(ErrShortMsg, "error record of %d bytes", len(b))
	}
	r := new(ErrorRecord)
	r.Error = int32(native.Uint32(b[:4]))
	if len(b) < SizeofErrorRecord {
		return r, 4, nil
	}
	h, _, _ := DecodeHeader(b[4:])
	r.Orig = *h
	return r, SizeofErrorRecord, nil
}

// Errno returns the positive errno carried by the record, 0 for an ACK.
func (r *ErrorRecord) Errno() unix.Errno {
	if r.Error >= 0 {
		return 0
	}
	return unix.Errno(-r.Error)
}

type Header struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

func DecodeHeader(b []byte) (*Header, int, error) {
	if len(b) < SizeofHeader {
		return nil, 0, errors.Wrapf(ErrShortMsg, "header of %d bytes", len(b))
	}
	h := new(Header)
	h.Len = native.Uint32(b[0:4])
	h.Type = native.Uint16(b[4:6])
	h.Flags = native.Uint16(b[6:8])
	h.Seq = native.Uint32(b[8:12])
	h.Pid = native.Uint32(b[12:16])
	return h, SizeofHeader, nil
}

func (h *Header) Encode(b []byte) (int, error) {
	if len(b) < SizeofHeader {
		return 0, io.ErrShortWrite
	}
	native.PutUint32(b[0:4], h.Len)
	native.PutUint16(b[4:6], h.Type)
	native.PutUint16(b[6:8], h.Flags)
	native.PutUint32(b[8:12], h.Seq)
	native.PutUint32(b[12:16], h.Pid)
	return SizeofHeader, nil
}

func (h Header) String() string {
	return fmt.Sprintf("type %d flags %#x seq %d len %d pid %d", h.Type, h.Flags, h.Seq, h.Len, h.Pid)
}
