package wpa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"i4.energy/across/linebridge/core"
)

// DefaultSocketDir is where wpa_supplicant exposes its per-interface
// control sockets.
const DefaultSocketDir = "/var/run/wpa_supplicant"

// SocketDialer connects to the wpa_supplicant control socket of one
// interface. The control protocol is datagram-oriented: the dialer binds
// an abstract local address ("\0wpa-mqtt-<iface>-<pid>") so the daemon
// can send back replies and unsolicited events.
//
// net.ListenUnixgram cannot express the connected-plus-abstract-bind
// combination, hence the raw socket calls.
type SocketDialer struct {
	Iface     string
	SocketDir string
}

// Dial opens the control socket.
func (d SocketDialer) Dial(ctx context.Context) (core.Transport, error) {
	dir := d.SocketDir
	if dir == "" {
		dir = DefaultSocketDir
	}
	path := filepath.Join(dir, d.Iface)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket unix: %w", err)
	}
	local := &unix.SockaddrUnix{
		Name: fmt.Sprintf("\x00wpa-mqtt-%s-%d", d.Iface, os.Getpid()),
	}
	if err := unix.Bind(fd, local); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind @%s: %w", local.Name[1:], err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return &controlSocket{fd: fd, path: path}, nil
}

// controlSocket adapts the raw datagram socket to core.Transport. One
// Read returns one datagram. The socket is in blocking mode: a write
// waits for buffer space instead of failing with EAGAIN, so the
// ErrWouldBlock path is taken only if the kernel reports EAGAIN anyway.
type controlSocket struct {
	fd     int
	path   string
	closed bool
}

func (c *controlSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return 0, fmt.Errorf("recv %s: %w", c.path, err)
	}
}

func (c *controlSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, fmt.Errorf("send %s: %w", c.path, core.ErrWouldBlock)
		}
		return n, fmt.Errorf("send %s: %w", c.path, err)
	}
	if n < len(p) {
		return n, fmt.Errorf("send %s: %d of %d bytes: %w", c.path, n, len(p), core.ErrShortWrite)
	}
	return n, nil
}

func (c *controlSocket) Close() error {
	if c.closed {
		return core.ErrClosed
	}
	c.closed = true
	return unix.Close(c.fd)
}
