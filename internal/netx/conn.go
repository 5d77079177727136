// Package netx provides dialed TCP connections exposing the kernel's view of
// the socket (TCP_INFO) and byte counters.
package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/m-lab/ndt-server/tcpinfox"
	"github.com/m-lab/tcp-info/tcp"
)

// ErrNoSupport is returned when TCP_INFO cannot be read on this platform.
var ErrNoSupport = tcpinfox.ErrNoSupport

// Conn is an extended net.Conn that stores its dial time, a copy of the
// underlying socket's file descriptor, and counters for read/written bytes.
type Conn struct {
	net.Conn

	fp           *os.File
	dialTime     time.Time
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Dial connects to addr over TCP using the provided dialer and returns a
// netx.Conn. The dialer's timeout and the context both bound the connect.
func Dial(ctx context.Context, dialer *net.Dialer, addr string) (*Conn, error) {
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tcpConn, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("unsupported connection type: %T", c)
	}
	conn, err := FromTCPConn(tcpConn)
	if err != nil {
		tcpConn.Close()
		return nil, err
	}
	return conn, nil
}

// FromTCPConn wraps an established TCP connection.
func FromTCPConn(tcpConn *net.TCPConn) (*Conn, error) {
	return fromTCPConn(tcpConn)
}

// Read reads from the underlying net.Conn and updates the read bytes counter.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	c.bytesRead.Add(uint64(n))
	return n, err
}

// Write writes to the underlying net.Conn and updates the written bytes counter.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	c.bytesWritten.Add(uint64(n))
	return n, err
}

// ByteCounters returns the read and written byte counters, in this order.
func (c *Conn) ByteCounters() (uint64, uint64) {
	return c.bytesRead.Load(), c.bytesWritten.Load()
}

// Close closes the underlying net.Conn and the duplicate file descriptor.
func (c *Conn) Close() error {
	return c.close()
}

// DialTime returns the time at which the connection was established.
func (c *Conn) DialTime() time.Time {
	return c.dialTime
}

// Info returns the TCPInfo struct associated with the underlying socket. It
// returns ErrNoSupport if TCP_INFO is not available on this platform.
func (c *Conn) Info() (*tcp.LinuxTCPInfo, error) {
	if c.fp == nil {
		return nil, ErrNoSupport
	}
	return tcpinfox.GetTCPInfo(c.fp)
}

// RTT returns the kernel's smoothed round-trip time estimate for this
// connection.
func (c *Conn) RTT() (time.Duration, error) {
	info, err := c.Info()
	if err != nil {
		return 0, err
	}
	if info.RTT == 0 {
		return 0, errors.New("no RTT sample available")
	}
	return time.Duration(info.RTT) * time.Microsecond, nil
}
