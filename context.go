package nl

import (
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

const (
	DefaultBufferSize  = 1024
	DefaultWaitTimeout = 1000 * time.Millisecond
)

// Context batches netlink messages in one growable buffer, sends them as a
// single datagram and checks the replies. A Context is not safe for
// concurrent use.
type Context struct {
	conn Conner
	seq  uint32
	pid  uint32

	buf     []byte
	datalen int
	// offset of the open message, -1 when there is none
	cur int

	errno   unix.Errno
	timeout time.Duration
	log     *slog.Logger
}

type options struct {
	logger  *slog.Logger
	bufSize int
	timeout time.Duration
	groups  []int
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithBufferSize sets the initial size of the send buffer.
func WithBufferSize(n int) Option {
	return func(o *options) {
		o.bufSize = n
	}
}

// WithWaitTimeout sets how long SendValidate and Do wait for a reply.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithGroups subscribes the socket to multicast groups when it is bound.
func WithGroups(groups ...int) Option {
	return func(o *options) {
		o.groups = groups
	}
}

func buildOptions(opts []Option) options {
	o := options{
		bufSize: DefaultBufferSize,
		timeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.bufSize < SizeofHeader {
		o.bufSize = SizeofHeader
	}
	o.bufSize = Align(o.bufSize)
	return o
}

// NewContext opens a netlink socket for proto (NETLINK_ROUTE,
// NETLINK_NETFILTER, NETLINK_CRYPTO, ...).
func NewContext(proto int, opts ...Option) (*Context, error) {
	o := buildOptions(opts)
	conn, err := Open(proto, o.groups...)
	if err != nil {
		return nil, err
	}
	c := newContext(conn, o)
	c.log.Debug("opened netlink context", "proto", proto, "pid", conn.Pid())
	return c, nil
}

// NewContextConn builds a Context on top of an already open socket. The
// Context takes ownership of conn.
func NewContextConn(conn Conner, opts ...Option) *Context {
	return newContext(conn, buildOptions(opts))
}

func newContext(conn Conner, o options) *Context {
	return &Context{
		conn:    conn,
		seq:     1,
		buf:     make([]byte, o.bufSize),
		cur:     -1,
		timeout: o.timeout,
		log:     o.logger,
	}
}

// Close releases the socket and the buffer. Closing a nil or already
// closed Context does nothing.
func (c *Context) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.buf = nil
	c.datalen = 0
	c.cur = -1
	return err
}

// Pid returns the port id the kernel assigned to the socket, 0 if the
// socket is not a netlink socket.
func (c *Context) Pid() uint32 {
	if conn, ok := c.conn.(*Conn); ok {
		return conn.Pid()
	}
	return 0
}

// Seq returns the sequence number the next message will be stamped with.
func (c *Context) Seq() uint32 {
	return c.seq
}

// Bytes returns the batch being built, or the last batch sent until the
// next AddMsg. The slice aliases the send buffer.
func (c *Context) Bytes() []byte {
	return c.buf[:c.datalen]
}

// LastErrno returns the errno of the last kernel error seen by CheckAcks.
// SendValidate resets it to 0.
func (c *Context) LastErrno() unix.Errno {
	return c.errno
}

// grow makes room for n more bytes after the aligned end of the data.
// The open message is tracked as an offset, so it survives the move.
func (c *Context) grow(n int) {
	used := Align(c.datalen)
	if len(c.buf)-used >= n {
		return
	}
	size := Align(len(c.buf) + max(len(c.buf), n))
	buf := make([]byte, size)
	copy(buf, c.buf[:c.datalen])
	c.log.Debug("growing netlink buffer", "from", len(c.buf), "to", size)
	c.buf = buf
}

func (c *Context) header(off int) *Header {
	h, _, _ := DecodeHeader(c.buf[off:])
	return h
}

func (c *Context) msgFlags(off int) uint16 {
	return native.Uint16(c.buf[off+6:])
}

func (c *Context) setMsgFlags(off int, flags uint16) {
	native.PutUint16(c.buf[off+6:], flags)
}

func (c *Context) msgLen(off int) int {
	return int(native.Uint32(c.buf[off:]))
}

func (c *Context) setMsgLen(off int, n int) {
	native.PutUint32(c.buf[off:], uint32(n))
}
