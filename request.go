package nl

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// AddMsg appends a message built from h and payload to the batch. Len, Seq
// and Pid of h are overwritten. When the batch already holds a message,
// both that message and the new one are flagged NLM_F_MULTI and Send will
// terminate the batch with NLMSG_DONE.
func (c *Context) AddMsg(h Header, payload Encoder) error {
	plen := 0
	if payload != nil {
		plen = payload.Len()
	}
	size := Align(SizeofHeader + plen)
	if c.cur < 0 {
		// datalen still describes the last batch sent
		c.datalen = 0
	}
	c.grow(size)

	off := Align(c.datalen)
	b := c.buf[off : off+size]
	clear(b)
	if c.cur >= 0 {
		h.Flags |= unix.NLM_F_MULTI
	}
	h.Len = uint32(size)
	h.Seq = c.seq
	h.Pid = c.pid
	h.Encode(b)
	if payload != nil {
		if _, err := payload.Encode(b[SizeofHeader:]); err != nil {
			return errors.Wrapf(err, "encoding payload of message type %d", h.Type)
		}
	}

	if c.cur >= 0 {
		c.setMsgFlags(c.cur, c.msgFlags(c.cur)|unix.NLM_F_MULTI)
	}
	c.seq++
	c.cur = off
	c.datalen = off + size
	return nil
}

// AddAttr appends one attribute to the open message.
func (c *Context) AddAttr(typ uint16, value Encoder) error {
	_, err := c.AddAttrList(AttrList{{Type: typ, Value: value}})
	return err
}

// AddAttrList appends an attribute tree to the open message and returns
// the number of top level attributes added. Container lengths are known
// before anything is written; on error the message is left unchanged.
func (c *Context) AddAttrList(al AttrList) (int, error) {
	if c.cur < 0 {
		return 0, errors.WithStack(ErrNoMsg)
	}
	mlen := c.msgLen(c.cur)
	if c.cur+mlen != c.datalen {
		return 0, errors.Wrapf(ErrMalformed, "open message ends at %d but data at %d", c.cur+mlen, c.datalen)
	}
	n := al.Len()
	c.grow(n)

	b := c.buf[c.datalen : c.datalen+n]
	clear(b)
	if _, err := al.Encode(b); err != nil {
		clear(b)
		return 0, err
	}
	c.datalen += n
	c.setMsgLen(c.cur, mlen+n)
	return len(al), nil
}
