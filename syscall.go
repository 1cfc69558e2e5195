package nl

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollIn waits for fd to become readable. Interrupted polls are restarted
// with the full timeout.
func pollIn(fd int, timeout time.Duration) (int, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, os.NewSyscallError("poll", err)
		}
		return n, nil
	}
}

func IfnameToIndex(name string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, os.NewSyscallError("socket", err)
	}
	defer unix.Close(fd)

	ifreq, err := unix.NewIfreq(name)
	if err != nil {
		return 0, err
	}
	err = unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq)
	if err != nil {
		return 0, os.NewSyscallError("ioctl", err)
	}
	return int(ifreq.Uint32()), nil
}
