package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	probing "github.com/prometheus-community/pro-bing"
)

// ICMPPinger sends a single ICMP echo request per check.
type ICMPPinger struct {
	// Privileged selects raw ICMP sockets instead of unprivileged UDP ones.
	Privileged bool
}

// Ping implements Pinger. host must be an IP address. Failures to open the
// ICMP socket are reported as ErrPingUnavailable.
func (p *ICMPPinger) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	var rtt time.Duration
	pinger.OnRecv = func(pkt *probing.Packet) {
		rtt = pkt.Rtt
	}
	if err := pinger.RunWithContext(ctx); err != nil {
		if IsContextError(err) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrPingUnavailable, err)
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return 0, ErrNoReply
	}
	return rtt, nil
}

// TCPPinger checks reachability with a TCP connect. A refused connection
// still proves the host is up, so it counts as a reply.
type TCPPinger struct {
	// Port is the TCP port to connect to.
	Port string
}

// Ping implements Pinger.
func (p *TCPPinger) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	dialer := &net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, p.Port))
	rtt := time.Since(start)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return rtt, nil
		}
		return 0, err
	}
	conn.Close()
	return rtt, nil
}

// FallbackPinger uses Primary until it reports ErrPingUnavailable, then
// switches permanently to Secondary.
type FallbackPinger struct {
	Primary   Pinger
	Secondary Pinger

	unavailable atomic.Bool
}

// Ping implements Pinger.
func (p *FallbackPinger) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	if !p.unavailable.Load() {
		rtt, err := p.Primary.Ping(ctx, host, timeout)
		if !errors.Is(err, ErrPingUnavailable) {
			return rtt, err
		}
		if p.unavailable.CompareAndSwap(false, true) {
			log.Info("Primary pinger unavailable, falling back", "error", err)
		}
	}
	return p.Secondary.Ping(ctx, host, timeout)
}

// DefaultPinger returns an ICMP pinger that falls back to TCP connects to
// port when ICMP is not permitted.
func DefaultPinger(privileged bool, port string) *FallbackPinger {
	return &FallbackPinger{
		Primary:   &ICMPPinger{Privileged: privileged},
		Secondary: &TCPPinger{Port: port},
	}
}
