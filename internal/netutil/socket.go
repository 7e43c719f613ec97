// Package netutil holds the raw-socket plumbing shared by the reactor and
// the worker pool: listening sockets, the internal dispatch connection,
// descriptor modes and the robust write helper.
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ListenTCP opens an IPv4 TCP listening socket on port. SO_REUSEADDR is
// always set. A non-shared socket binds all interfaces; shared additionally
// sets SO_REUSEPORT so several listeners can bind the same endpoint and let
// the kernel distribute incoming connections across them, and binds the
// loopback address only, since the shared endpoint is the internal agent one.
//
// Returns the descriptor and the bound port (which differs from the
// requested one when port is 0)
func ListenTCP(port, backlog int, shared bool) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, 0, fmt.Errorf("netutil: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	if shared {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return -1, 0, fmt.Errorf("netutil: SO_REUSEPORT: %w", err)
		}
	}

	sa := &unix.SockaddrInet4{Port: port}
	if shared {
		sa.Addr = [4]byte{127, 0, 0, 1}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("netutil: bind port %d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("netutil: listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("netutil: getsockname: %w", err)
	}
	inet, ok := bound.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("netutil: unexpected bound address %T", bound)
	}
	return fd, inet.Port, nil
}

// DialLoopback opens a blocking TCP connection to 127.0.0.1:port. The
// reactor uses it to reach the worker pool's shared endpoint; the kernel
// picks which agent's listener accepts
func DialLoopback(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: connect 127.0.0.1:%d: %w", port, err)
	}
	return fd, nil
}

// SetNonblock puts the descriptor into non-blocking mode
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("netutil: set nonblocking: %w", err)
	}
	return nil
}

// RaiseFDLimit lifts the soft and hard open-file limits to max so the
// reactor can hold tens of thousands of descriptors
func RaiseFDLimit(max uint64) error {
	lim := &unix.Rlimit{Cur: max, Max: max}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, lim); err != nil {
		return fmt.Errorf("netutil: setrlimit RLIMIT_NOFILE: %w", err)
	}
	return nil
}

// WriteAll writes the whole buffer to fd, retrying short writes. EINTR
// retries immediately; EAGAIN on a non-blocking descriptor retries until
// the kernel buffer drains. Any other error aborts, EPIPE included: the
// caller tears the connection down
func WriteAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("netutil: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// ReadFull reads exactly len(buf) bytes from a blocking descriptor.
// A short read means the peer closed early; that surfaces as an error so
// agents can drop malformed dispatch connections
func ReadFull(fd int, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("netutil: read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("netutil: short read: %d of %d bytes", read, len(buf))
		}
		read += n
	}
	return nil
}
