package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/m-lab/netqual/pkg/netqual/spec"
	"github.com/miekg/dns"
)

// Resolver resolves host names to IP addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// SystemResolver returns the operating system's resolver.
func SystemResolver() Resolver {
	return net.DefaultResolver
}

// WireResolver queries a specific DNS server over UDP, bypassing the
// operating system's resolver and cache.
type WireResolver struct {
	// Server is the DNS server address. The port defaults to 53.
	Server string
	// Timeout is the timeout of each query.
	Timeout time.Duration
}

func (r *WireResolver) server() string {
	if _, _, err := net.SplitHostPort(r.Server); err == nil {
		return r.Server
	}
	return net.JoinHostPort(r.Server, "53")
}

// LookupHost sends an A and an AAAA query for host and returns all the
// addresses found. IP literals are returned as they are.
func (r *WireResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}
	c := &dns.Client{
		Net:     "udp",
		Timeout: r.Timeout,
	}
	var addrs []string
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		in, _, err := c.ExchangeContext(ctx, m, r.server())
		if err != nil {
			return nil, err
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s", host, dns.RcodeToString[in.Rcode])
			continue
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

// DNSResult is the result of the DNS probe.
type DNSResult struct {
	// TimeMs is the lookup time, floored at spec.MinDNSTimeMs. Zero on
	// failure.
	TimeMs float64
	// Addrs are the resolved addresses.
	Addrs []string
	// Err is non-nil if the lookup failed.
	Err *PhaseError
}

// DNS resolves host with r and measures how long it takes. Cache hits are
// reported as spec.MinDNSTimeMs rather than as free.
func DNS(ctx context.Context, r Resolver, host string) DNSResult {
	start := time.Now()
	addrs, err := r.LookupHost(ctx, host)
	elapsed := time.Since(start)
	if err != nil {
		return DNSResult{Err: NewPhaseError(spec.PhaseDNS, err)}
	}
	ms := durationMs(elapsed)
	if ms < spec.MinDNSTimeMs {
		ms = spec.MinDNSTimeMs
	}
	return DNSResult{
		TimeMs: ms,
		Addrs:  addrs,
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
