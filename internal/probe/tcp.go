package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/netqual/internal/netx"
	"github.com/m-lab/netqual/pkg/netqual/spec"
)

// TCPConfig configures the TCP+TLS probe.
type TCPConfig struct {
	// ConnectTimeout bounds each TCP connect attempt.
	ConnectTimeout time.Duration
	// TLSConfig is the base TLS configuration. ServerName is filled in from
	// the target host when empty.
	TLSConfig *tls.Config
	// Resolver resolves the target host before connecting. Resolution is not
	// part of the measured TCP time.
	Resolver Resolver
}

// TCPResult is the result of the TCP+TLS probe.
type TCPResult struct {
	// TCPTimeMs is the time to establish the TCP connection.
	TCPTimeMs float64
	// TLSTimeMs is the time to complete the TLS handshake. Zero for
	// non-secure targets.
	TLSTimeMs float64
	// KernelRTTMs is the kernel's smoothed RTT estimate right after the
	// handshake, when available.
	KernelRTTMs float64
	// TLSBytes is the number of bytes sent and received during the TLS
	// handshake.
	TLSBytes int64
	// Addr is the address the probe connected to.
	Addr string

	TCPErr *PhaseError
	TLSErr *PhaseError
}

// TCPTLS connects to host:port and, if secure is true, completes a TLS
// handshake over the same connection. The connection is always closed before
// returning.
func TCPTLS(ctx context.Context, cfg TCPConfig, host, port string, secure bool) TCPResult {
	var result TCPResult
	addrs, err := resolve(ctx, cfg.Resolver, host)
	if err != nil {
		result.TCPErr = NewPhaseError(spec.PhaseTCP, err)
		if secure {
			result.TLSErr = NewPhaseError(spec.PhaseTLS, errors.New("no TCP connection"))
		}
		return result
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	var conn *netx.Conn
	var start time.Time
	for _, addr := range addrs {
		result.Addr = net.JoinHostPort(addr, port)
		start = time.Now()
		conn, err = netx.Dial(ctx, dialer, result.Addr)
		if err == nil || IsContextError(err) {
			break
		}
		log.Debug("TCP connect failed", "addr", result.Addr, "error", err)
	}
	if err != nil {
		result.TCPErr = NewPhaseError(spec.PhaseTCP, err)
		if secure {
			result.TLSErr = NewPhaseError(spec.PhaseTLS, errors.New("no TCP connection"))
		}
		return result
	}
	defer conn.Close()
	result.TCPTimeMs = durationMs(conn.DialTime().Sub(start))

	if rtt, err := conn.RTT(); err == nil {
		result.KernelRTTMs = durationMs(rtt)
	}

	if !secure {
		return result
	}

	tlsConfig := &tls.Config{}
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	tlsConn := tls.Client(conn, tlsConfig)
	start = time.Now()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		result.TLSErr = NewPhaseError(spec.PhaseTLS, err)
		return result
	}
	result.TLSTimeMs = durationMs(time.Since(start))
	read, written := conn.ByteCounters()
	result.TLSBytes = int64(read + written)
	return result
}

func resolve(ctx context.Context, r Resolver, host string) ([]string, error) {
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}
	if r == nil {
		r = SystemResolver()
	}
	addrs, err := r.LookupHost(ctx, host)
	if err == nil && len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	return addrs, err
}
