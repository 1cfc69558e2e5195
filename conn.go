package nl

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Conner is the socket a Context talks through. Write sends one datagram
// to the kernel; Recv takes recvmsg flags such as MSG_PEEK.
type Conner interface {
	Fd() int
	Close() error
	Write([]byte) (int, error)
	Recv([]byte, int) (int, error)
}

type Conn struct {
	fd  int
	pid uint32
}

// Open opens a netlink socket for proto and binds it to an unspecified
// address, so the kernel assigns the port id.
func Open(proto int, groups ...int) (*Conn, error) {
	typ := unix.SOCK_RAW | unix.SOCK_CLOEXEC
	fd, err := unix.Socket(unix.AF_NETLINK, typ, proto)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	var addr unix.SockaddrNetlink
	addr.Family = unix.AF_NETLINK
	for _, group := range groups {
		addr.Groups |= 1 << (group - 1)
	}
	err = unix.Bind(fd, &addr)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	c := &Conn{fd: fd}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	if nsa, ok := sa.(*unix.SockaddrNetlink); ok {
		c.pid = nsa.Pid
	}
	return c, nil
}

func (c *Conn) Fd() int {
	return c.fd
}

// Pid returns the port id the kernel bound the socket to.
func (c *Conn) Pid() uint32 {
	return c.pid
}

func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (c *Conn) Recv(b []byte, flags int) (int, error) {
	n, _, _, from, err := unix.Recvmsg(c.fd, b, nil, flags)
	if err != nil {
		return n, os.NewSyscallError("recvmsg", err)
	}
	if from == nil {
		return n, nil
	}
	_, ok := from.(*unix.SockaddrNetlink)
	if !ok {
		return n, fmt.Errorf("not netlink addr %v", from)
	}
	return n, nil
}

// Write sends b as a single datagram to the kernel.
func (c *Conn) Write(b []byte) (int, error) {
	var addr unix.SockaddrNetlink
	addr.Family = unix.AF_NETLINK
	n, err := unix.SendmsgN(c.fd, b, nil, &addr, 0)
	if err != nil {
		return n, os.NewSyscallError("sendmsg", err)
	}
	return n, nil
}
