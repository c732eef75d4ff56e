// Package sock wraps the raw non-blocking socket calls used by the event loop.
package sock

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen queue length
const DefaultBacklog = 1024

// ErrWouldBlock reports that a non-blocking call has nothing to do right now
var ErrWouldBlock = errors.New("sock: operation would block")

// Listener is a non-blocking IPv4 listening socket
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// Listen creates a non-blocking listening socket on addr ("host:port", host may be empty)
func Listen(addr string, backlog int) (*Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("listen %s: invalid port", addr)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			ips, err := net.LookupIP(host)
			if err != nil || len(ips) == 0 {
				return nil, fmt.Errorf("listen %s: cannot resolve host", addr)
			}
			ip = ips[0]
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("listen %s: only IPv4 is supported", addr)
		}
		copy(sa.Addr[:], ip4)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	l := &Listener{fd: fd, addr: &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: port}}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		l.addr = &net.TCPAddr{IP: net.IPv4(in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3]), Port: in4.Port}
	}
	return l, nil
}

// Fd returns the listening descriptor
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound address (with the real port when 0 was requested)
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Accept accepts one pending connection and returns it in non-blocking mode.
// ErrWouldBlock means the accept queue is empty.
func (l *Listener) Accept() (int, error) {
	nfd, _, err := unix.Accept(l.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, ErrWouldBlock
		}
		return -1, fmt.Errorf("accept: %w", err)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}
	// TCP_NODELAY: Disable Nagle's algorithm
	unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nfd, nil
}

// Close closes the listening socket
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Read reads into p. It returns (0, nil) on orderly peer shutdown and
// ErrWouldBlock when no data is available.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, ErrWouldBlock
		default:
			return 0, fmt.Errorf("read: %w", err)
		}
	}
}

// Write writes as much of p as the socket accepts right now.
// A short count with ErrWouldBlock means the rest must wait for writability.
func Write(fd int, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(fd, p[total:])
		if n > 0 {
			total += n
		}
		switch {
		case err == nil:
			if n == 0 {
				return total, fmt.Errorf("write: %w", unix.EPIPE)
			}
		case err == unix.EINTR:
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return total, ErrWouldBlock
		default:
			return total, fmt.Errorf("write: %w", err)
		}
	}
	return total, nil
}

// Close closes a connection descriptor
func Close(fd int) error {
	return unix.Close(fd)
}
