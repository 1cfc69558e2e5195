package nl

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mux delivers unsolicited messages, such as the multicast notifications a
// context subscribed to with WithGroups, to per-context handler stacks.
// While a context is watched it is drained by the Mux; the caller must not
// use it concurrently except between handler calls on the same goroutine.
type Mux struct {
	epfd int
	efd  int
	subs map[int]*subscription
	mu   sync.Mutex
	once sync.Once
}

type subscription struct {
	ctx      *Context
	handlers HandlerStack
}

func NewMux() (*Mux, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "eventfd")
	}
	m := &Mux{
		epfd: epfd,
		efd:  efd,
		subs: make(map[int]*subscription),
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &event); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, errors.Wrap(err, "watching eventfd")
	}
	return m, nil
}

// Close makes Serve return. It may be called more than once.
func (m *Mux) Close() {
	m.once.Do(func() {
		var one [8]byte
		native.PutUint64(one[:], 1)
		unix.Write(m.efd, one[:])
	})
}

// PushHandler puts handler on top of the stack for ctx and starts watching
// its socket. The most recently pushed handler sees each message first.
func (m *Mux) PushHandler(ctx *Context, handler Handler) error {
	if ctx == nil || ctx.conn == nil {
		return errors.New("watching a closed context")
	}
	fd := ctx.conn.Fd()
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[fd]; ok {
		sub.handlers = append(HandlerStack{handler}, sub.handlers...)
		return nil
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return errors.Wrapf(err, "watching fd %d", fd)
	}
	m.subs[fd] = &subscription{ctx: ctx, handlers: HandlerStack{handler}}
	ctx.log.Debug("watching netlink context", "fd", fd, "pid", ctx.Pid())
	return nil
}

func (m *Mux) PushHandlerFunc(ctx *Context, f func(msg *Msg) bool) error {
	return m.PushHandler(ctx, HandlerFunc(f))
}

// PopHandler removes the top handler for ctx; popping the last one stops
// watching it and hands the context back to the caller.
func (m *Mux) PopHandler(ctx *Context) {
	if ctx == nil || ctx.conn == nil {
		return
	}
	fd := ctx.conn.Fd()
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[fd]
	if !ok {
		return
	}
	if len(sub.handlers) > 1 {
		sub.handlers = append(HandlerStack{}, sub.handlers[1:]...)
		return
	}
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(m.subs, fd)
}

// Serve waits for readable contexts and runs their handlers until Close is
// called. Each context is drained by one goroutine at a time.
func (m *Mux) Serve() error {
	defer unix.Close(m.epfd)
	defer unix.Close(m.efd)
	events := make([]unix.EpollEvent, 8)
	for {
		n, err := unix.EpollWait(m.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "epoll_wait")
		}
		for _, ev := range events[:n] {
			fd := int(ev.Fd)
			if fd == m.efd {
				return nil
			}
			m.mu.Lock()
			sub, ok := m.subs[fd]
			m.mu.Unlock()
			if !ok {
				continue
			}
			go m.dispatch(fd, sub)
		}
	}
}

func (m *Mux) dispatch(fd int, sub *subscription) {
	msgs, err := sub.ctx.Recv()
	if err != nil {
		sub.ctx.log.Warn("dropping undecodable netlink datagram", "fd", fd, "err", err)
	}

	m.mu.Lock()
	handlers := sub.handlers
	m.mu.Unlock()
	for i := range msgs {
		if sub.ctx.isReply(&msgs[i].Header) {
			continue
		}
		if !handlers.ServeMsg(&msgs[i]) {
			sub.ctx.log.Debug("unhandled netlink message", "header", msgs[i].Header)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[fd] != sub {
		return
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &event); err != nil {
		sub.ctx.log.Warn("cannot rearm netlink context", "fd", fd, "err", err)
	}
}

// Handler handles one message and reports whether it consumed it.
type Handler interface {
	ServeMsg(*Msg) bool
}

type HandlerFunc func(*Msg) bool

func (f HandlerFunc) ServeMsg(msg *Msg) bool {
	return f(msg)
}

// HandlerStack offers a message to each handler in turn until one
// consumes it.
type HandlerStack []Handler

func (hs HandlerStack) ServeMsg(msg *Msg) bool {
	for _, h := range hs {
		if h.ServeMsg(msg) {
			return true
		}
	}
	return false
}
