//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor. An eventfd registered
// alongside user descriptors lets Wakeup interrupt epoll_wait.
type linuxReactor struct {
	epfd   int
	wakefd int
	mu     sync.RWMutex
	regs   map[int32]uintptr // fd -> userData
	raw    []unix.EpollEvent
	closed atomic.Bool
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &linuxReactor{
		epfd:   epfd,
		wakefd: wakefd,
		regs:   make(map[int32]uintptr),
	}, nil
}

// Register adds file descriptor to epoll, level-triggered.
func (r *linuxReactor) Register(fd uintptr, events FDEventType, userData uintptr) error {
	if r.closed.Load() {
		return ErrClosed
	}
	var mask uint32
	if events&EventRead != 0 {
		mask |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.regs[int32(fd)] = userData
	return nil
}

// Unregister removes a file descriptor from the epoll watch list.
func (r *linuxReactor) Unregister(fd uintptr) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, int32(fd))
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks in epoll_wait and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	if len(events) == 0 {
		return 0, nil
	}
	if len(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}

	n, err := unix.EpollWait(r.epfd, r.raw[:len(events)], -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	r.mu.RLock()
	for i := 0; i < n; i++ {
		raw := r.raw[i]
		if int(raw.Fd) == r.wakefd {
			r.drainWakeup()
			continue
		}
		userData, ok := r.regs[raw.Fd]
		if !ok {
			continue
		}
		var ready FDEventType
		if raw.Events&unix.EPOLLIN != 0 {
			ready |= EventRead
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ready |= EventWrite
		}
		if raw.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= EventError
		}
		events[out] = Event{Fd: uintptr(raw.Fd), UserData: userData, Ready: ready}
		out++
	}
	r.mu.RUnlock()
	return out, nil
}

// Wakeup bumps the eventfd counter so a blocked Wait returns.
func (r *linuxReactor) Wakeup() error {
	if r.closed.Load() {
		return ErrClosed
	}
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	if _, err := unix.Write(r.wakefd, one); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (r *linuxReactor) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close closes the eventfd and the epoll instance.
func (r *linuxReactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	werr := unix.Close(r.wakefd)
	if err := unix.Close(r.epfd); err != nil {
		return fmt.Errorf("close epoll: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("close eventfd: %w", werr)
	}
	return nil
}
