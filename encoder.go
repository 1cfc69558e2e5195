package nl

import "io"

// Encoder is anything that can be laid out as a message payload or an
// attribute value.
type Encoder interface {
	Len() int
	Encode([]byte) (int, error)
}

// Encoders lays out its members back to back without padding.
type Encoders []Encoder

func (es Encoders) Len() int {
	n := 0
	for _, e := range es {
		n += e.Len()
	}
	return n
}

func (es Encoders) Encode(b []byte) (int, error) {
	off := 0
	for _, e := range es {
		n, err := e.Encode(b[off:])
		if err != nil {
			return off, err
		}
		off += n
	}
	return off, nil
}

// Bytes is an opaque payload or attribute value.
type Bytes []byte

func (v Bytes) Len() int {
	return len(v)
}

func (v Bytes) Encode(b []byte) (int, error) {
	if len(b) < len(v) {
		return 0, io.ErrShortWrite
	}
	return copy(b, v), nil
}
