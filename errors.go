package nl

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Protocol errors. They are returned wrapped with a stack trace; print them
// with %+v to see where they were raised.
var (
	ErrNoMsg         = errors.New("no netlink message to add attribute to")
	ErrNothingToSend = errors.New("no netlink message to send")
	ErrAttrTooLong   = errors.New("netlink attribute too long")
	ErrNoAck         = errors.New("no ACK found")
	ErrShortMsg      = errors.New("short netlink message")
	ErrMalformed     = errors.New("malformed netlink message")
	ErrTimeout       = errors.New("timed out waiting for netlink reply")
	ErrBatch         = errors.New("request batch holds more than one message")
)

// KernelError is a request rejected by the kernel through NLMSG_ERROR or a
// failed dump. Tests probing invalid operations expect these.
type KernelError struct {
	Seq   uint32
	Type  uint16
	Errno unix.Errno
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("netlink: message type %d seq %d: %v", e.Type, e.Seq, e.Errno)
}

func (e *KernelError) Unwrap() error {
	return e.Errno
}

// Errno returns the errno reported by the kernel, or 0 if err is not a
// KernelError.
func Errno(err error) unix.Errno {
	var kerr *KernelError
	if errors.As(err, &kerr) {
		return kerr.Errno
	}
	return 0
}

// IsFatal reports whether err is a transport or protocol failure rather
// than an error reported by the kernel.
func IsFatal(err error) bool {
	return err != nil && Errno(err) == 0
}
