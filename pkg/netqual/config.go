package netqual

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/m-lab/netqual/pkg/netqual/spec"
)

// Pinger performs a single reachability check against host and returns its
// round-trip time.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

// Resolver resolves host names to IP addresses. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Config is the configuration for a Session.
type Config struct {
	// CycleTimeout is the shared deadline of all the probes of one cycle.
	CycleTimeout time.Duration

	// DNSTimeout is the timeout of the DNS probe.
	DNSTimeout time.Duration

	// ConnectTimeout is the TCP connect timeout of the TCP and HTTP probes.
	ConnectTimeout time.Duration

	// ReadTimeout is the HTTP response header timeout.
	ReadTimeout time.Duration

	// HistorySize is the number of latency samples used for jitter and
	// average latency.
	HistorySize int

	// Workers is the number of probes allowed to run at the same time. Probes
	// from concurrent cycles of the same session queue up.
	Workers int64

	// Resolver is used by the DNS and TCP probes. If nil, a resolver querying
	// DNSServer is used when DNSServer is set, and the system resolver
	// otherwise.
	Resolver Resolver

	// DNSServer is the address of the DNS server to query directly.
	DNSServer string

	// Pinger is used by the ping series. If nil, ICMP echo is used, falling
	// back to TCP connects to the target's port if ICMP is not permitted.
	Pinger Pinger

	// PrivilegedPing selects raw ICMP sockets for the default Pinger.
	PrivilegedPing bool

	// PingAttempts, PingAbortAfter, PingTimeout and PingInterval configure
	// the ping series.
	PingAttempts   int
	PingAbortAfter int
	PingTimeout    time.Duration
	PingInterval   time.Duration

	// TLSConfig is used by the TLS and HTTP probes. If nil, the system roots
	// are used.
	TLSConfig *tls.Config

	// NoVerify disables the TLS certificate verification.
	NoVerify bool

	// BufferSize is the HTTP body read buffer size.
	BufferSize int

	// UploadFactor is the fraction of the download speed reported as the
	// estimated upload speed.
	UploadFactor float64

	// UserAgent is sent with the HTTP request.
	UserAgent string
}

// DefaultConfig returns a Config with the default timeouts and sizes.
func DefaultConfig() Config {
	return Config{
		CycleTimeout:   spec.CycleTimeout,
		DNSTimeout:     spec.DNSTimeout,
		ConnectTimeout: spec.ConnectTimeout,
		ReadTimeout:    spec.ReadTimeout,
		HistorySize:    spec.HistorySize,
		Workers:        spec.Workers,
		PingAttempts:   spec.PingAttempts,
		PingAbortAfter: spec.PingAbortAfter,
		PingTimeout:    spec.PingAttemptTimeout,
		PingInterval:   spec.PingInterval,
		BufferSize:     spec.ReadBufferSize,
		UploadFactor:   spec.UploadEstimateFactor,
		UserAgent:      userAgent(),
	}
}

// withDefaults fills in the zero fields of c from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = d.CycleTimeout
	}
	if c.DNSTimeout <= 0 {
		c.DNSTimeout = d.DNSTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PingAttempts <= 0 {
		c.PingAttempts = d.PingAttempts
	}
	if c.PingAbortAfter <= 0 {
		c.PingAbortAfter = d.PingAbortAfter
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.UploadFactor <= 0 {
		c.UploadFactor = d.UploadFactor
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}
