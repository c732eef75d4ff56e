//go:build darwin

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const maxEvents = 1024

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd      int
	events    []unix.Kevent_t
	ready     []Event
	interests map[int]Interest
}

// NewPoller creates a new Poller (macOS)
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	unix.CloseOnExec(kqfd)

	return &KqueuePoller{
		kqfd:      kqfd,
		events:    make([]unix.Kevent_t, maxEvents),
		ready:     make([]Event, 0, maxEvents),
		interests: make(map[int]Interest),
	}, nil
}

func (p *KqueuePoller) apply(fd int, old, next Interest) error {
	changes := make([]unix.Kevent_t, 0, 2)
	for _, f := range []struct {
		in     Interest
		filter int16
	}{{Readable, unix.EVFILT_READ}, {Writable, unix.EVFILT_WRITE}} {
		var ev unix.Kevent_t
		switch {
		case next&f.in != 0 && old&f.in == 0:
			// Level-triggered (no EV_CLEAR)
			unix.SetKevent(&ev, fd, int(f.filter), unix.EV_ADD|unix.EV_ENABLE)
		case next&f.in == 0 && old&f.in != 0:
			unix.SetKevent(&ev, fd, int(f.filter), unix.EV_DELETE)
		default:
			continue
		}
		changes = append(changes, ev)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kqfd, changes, nil, nil)
	return err
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int, interest Interest) error {
	if p.kqfd < 0 {
		return ErrClosed
	}
	if err := p.apply(fd, 0, interest); err != nil {
		return fmt.Errorf("kevent add %d: %w", fd, err)
	}
	p.interests[fd] = interest
	return nil
}

// Modify changes the interest set of a registered descriptor
func (p *KqueuePoller) Modify(fd int, interest Interest) error {
	if p.kqfd < 0 {
		return ErrClosed
	}
	old, ok := p.interests[fd]
	if !ok {
		return fmt.Errorf("kevent mod %d: %w", fd, unix.ENOENT)
	}
	if err := p.apply(fd, old, interest); err != nil {
		return fmt.Errorf("kevent mod %d: %w", fd, err)
	}
	p.interests[fd] = interest
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	if p.kqfd < 0 {
		return ErrClosed
	}
	old, ok := p.interests[fd]
	if !ok {
		return fmt.Errorf("kevent del %d: %w", fd, unix.ENOENT)
	}
	delete(p.interests, fd)
	if err := p.apply(fd, old, 0); err != nil {
		return fmt.Errorf("kevent del %d: %w", fd, err)
	}
	return nil
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(timeout int) ([]Event, error) {
	if p.kqfd < 0 {
		return nil, ErrClosed
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1000000)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("kevent wait: %w", err)
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		ev := p.events[i]
		p.ready = append(p.ready, Event{
			Fd:       int(ev.Ident),
			Readable: ev.Filter == unix.EVFILT_READ,
			Writable: ev.Filter == unix.EVFILT_WRITE,
			Hangup:   ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0,
		})
	}

	return p.ready, nil
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	if p.kqfd < 0 {
		return ErrClosed
	}
	err := unix.Close(p.kqfd)
	p.kqfd = -1
	return err
}
