package nl

import (
	"slices"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Send transmits the batch as one datagram. A batch of several messages is
// terminated with an NLMSG_DONE without NLM_F_MULTI first. The sent bytes
// stay in the buffer for CheckAcks until the next AddMsg.
func (c *Context) Send() (int, error) {
	if c.cur < 0 {
		return 0, errors.WithStack(ErrNothingToSend)
	}
	if c.msgFlags(c.cur)&unix.NLM_F_MULTI != 0 {
		err := c.AddMsg(Header{Type: unix.NLMSG_DONE}, nil)
		if err != nil {
			return 0, err
		}
		c.setMsgFlags(c.cur, 0)
	}
	n, err := c.conn.Write(c.buf[:c.datalen])
	if err != nil {
		return 0, err
	}
	c.log.Debug("sent netlink batch", "bytes", n, "next_seq", c.seq)
	c.cur = -1
	return n, nil
}

// Wait polls the socket for a reply. It returns 0 on timeout and a positive
// value when data is ready.
func (c *Context) Wait(timeout time.Duration) (int, error) {
	return pollIn(c.conn.Fd(), timeout)
}

// Recv drains every datagram already queued on the socket and splits them
// into messages. All returned messages share one buffer. It returns nil and
// no error when nothing is pending.
func (c *Context) Recv() ([]Msg, error) {
	var buf []byte
	peek := make([]byte, SizeofHeader)
	datagrams := 0
	for {
		n, err := c.conn.Recv(peek, unix.MSG_PEEK|unix.MSG_TRUNC|unix.MSG_DONTWAIT)
		if errors.Is(err, unix.EAGAIN) {
			break
		}
		if err != nil {
			return nil, err
		}
		off := len(buf)
		buf = slices.Grow(buf, n)[:off+n]
		m, err := c.conn.Recv(buf[off:], unix.MSG_DONTWAIT)
		if err != nil {
			return nil, err
		}
		buf = buf[:off+m]
		datagrams++
	}
	if len(buf) == 0 {
		return nil, nil
	}
	c.log.Debug("received netlink reply", "datagrams", datagrams, "bytes", len(buf))
	return ParseMsgs(buf)
}

// CheckAcks matches every sent message that asked for NLM_F_ACK with the
// reply carrying its sequence number. The replies may come in any order.
// A missing ACK is a protocol error; an ACK with a non-zero error is
// returned as *KernelError.
func (c *Context) CheckAcks(rsps []Msg) error {
	c.errno = 0
	sent := c.buf[:c.datalen]
	for len(sent) > 0 {
		h, _, err := DecodeHeader(sent)
		if err != nil {
			return err
		}
		next := min(Align(int(h.Len)), len(sent))
		if next < SizeofHeader {
			return errors.Wrapf(ErrMalformed, "sent message length %d", h.Len)
		}
		sent = sent[next:]
		if h.Flags&unix.NLM_F_ACK == 0 {
			continue
		}
		rec := findAck(rsps, h.Seq)
		if rec == nil {
			return errors.Wrapf(ErrNoAck, "message type %d seq %d", h.Type, h.Seq)
		}
		if errno := rec.Errno(); errno != 0 {
			c.errno = errno
			c.log.Debug("netlink request rejected", "type", h.Type, "seq", h.Seq, "errno", errno)
			return &KernelError{Seq: h.Seq, Type: h.Type, Errno: errno}
		}
	}
	return nil
}

// findAck returns the first NLMSG_ERROR carrying seq. Payload replies with
// the same sequence number are passed over.
func findAck(rsps []Msg, seq uint32) *ErrorRecord {
	for i := range rsps {
		if rsps[i].Header.Seq == seq && rsps[i].Err != nil {
			return rsps[i].Err
		}
	}
	return nil
}

// SendValidate sends the batch, waits for the replies and checks the ACKs.
func (c *Context) SendValidate() error {
	c.errno = 0
	if _, err := c.Send(); err != nil {
		return err
	}
	if _, err := c.Wait(c.timeout); err != nil {
		return err
	}
	rsps, err := c.Recv()
	if err != nil {
		return err
	}
	return c.CheckAcks(rsps)
}

// Do sends a single request and collects the replies to it: until
// NLMSG_DONE for a dump, otherwise until the first reply or ACK. Only
// payload messages are returned.
func (c *Context) Do() ([]Msg, error) {
	if c.cur < 0 {
		return nil, errors.WithStack(ErrNothingToSend)
	}
	if c.msgFlags(c.cur)&unix.NLM_F_MULTI != 0 {
		return nil, errors.WithStack(ErrBatch)
	}
	req := c.header(c.cur)
	dump := req.Flags&unix.NLM_F_DUMP == unix.NLM_F_DUMP
	if _, err := c.Send(); err != nil {
		return nil, err
	}

	var rsps []Msg
	for {
		ready, err := c.Wait(c.timeout)
		if err != nil {
			return rsps, err
		}
		if ready == 0 {
			return rsps, errors.Wrapf(ErrTimeout, "message type %d seq %d", req.Type, req.Seq)
		}
		msgs, err := c.Recv()
		if err != nil {
			return rsps, err
		}
		for _, msg := range msgs {
			if msg.Header.Seq != req.Seq {
				continue
			}
			switch msg.Header.Type {
			case unix.NLMSG_DONE:
				err, _, _ := DecodeMsgError(msg.Body)
				if err != nil {
					return rsps, c.kernelError(req, err.(unix.Errno))
				}
				return rsps, nil
			case unix.NLMSG_ERROR:
				if errno := msg.Err.Errno(); errno != 0 {
					return rsps, c.kernelError(req, errno)
				}
				if !dump {
					return rsps, nil
				}
			case unix.NLMSG_NOOP, unix.NLMSG_OVERRUN:
			default:
				rsps = append(rsps, msg)
				if !dump && req.Flags&unix.NLM_F_ACK == 0 {
					return rsps, nil
				}
			}
		}
	}
}

func (c *Context) kernelError(req *Header, errno unix.Errno) error {
	c.errno = errno
	return &KernelError{Seq: req.Seq, Type: req.Type, Errno: errno}
}

// isReply reports whether h is protocol control traffic or answers a
// request this context sent, as opposed to a notification.
func (c *Context) isReply(h *Header) bool {
	if h.Type < unix.NLMSG_MIN_TYPE {
		return true
	}
	return h.Seq != 0 && h.Pid == c.Pid() && h.Seq < c.seq
}
