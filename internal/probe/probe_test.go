package probe_test

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/testingx"
	"github.com/miekg/dns"

	"github.com/m-lab/netqual/internal/probe"
	"github.com/m-lab/netqual/pkg/netqual/spec"
)

type fakeResolver struct {
	addrs []string
	err   error
	delay time.Duration
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.addrs, r.err
}

func TestDNS(t *testing.T) {
	tests := []struct {
		name     string
		resolver *fakeResolver
		timeout  time.Duration
		wantErr  bool
		wantKind probe.Kind
		wantMin  float64
	}{
		{
			name:     "cached lookup is floored",
			resolver: &fakeResolver{addrs: []string{"192.0.2.1"}},
			wantMin:  spec.MinDNSTimeMs,
		},
		{
			name:     "slow lookup",
			resolver: &fakeResolver{addrs: []string{"192.0.2.1"}, delay: 20 * time.Millisecond},
			wantMin:  20,
		},
		{
			name:     "nxdomain",
			resolver: &fakeResolver{err: &net.DNSError{Err: "no such host", IsNotFound: true}},
			wantErr:  true,
			wantKind: probe.KindFailure,
		},
		{
			name:     "timeout",
			resolver: &fakeResolver{addrs: []string{"192.0.2.1"}, delay: time.Second},
			timeout:  10 * time.Millisecond,
			wantErr:  true,
			wantKind: probe.KindTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			got := probe.DNS(ctx, tt.resolver, "example.com")
			if tt.wantErr {
				if got.Err == nil {
					t.Fatalf("DNS() expected error")
				}
				if got.Err.Kind != tt.wantKind || got.Err.Phase != spec.PhaseDNS {
					t.Errorf("DNS() error = %v, want %s %s", got.Err, spec.PhaseDNS, tt.wantKind)
				}
				if got.TimeMs != 0 {
					t.Errorf("DNS() TimeMs = %f on failure", got.TimeMs)
				}
				return
			}
			if got.Err != nil {
				t.Fatalf("DNS() unexpected error = %v", got.Err)
			}
			if got.TimeMs < tt.wantMin {
				t.Errorf("DNS() TimeMs = %f, want >= %f", got.TimeMs, tt.wantMin)
			}
		})
	}
}

func TestWireResolver(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	rtx.Must(err, "failed to listen")
	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			switch {
			case strings.HasPrefix(q.Name, "missing."):
				m.Rcode = dns.RcodeNameError
			case q.Qtype == dns.TypeA:
				rr, _ := dns.NewRR(q.Name + " 60 IN A 192.0.2.1")
				m.Answer = append(m.Answer, rr)
			case q.Qtype == dns.TypeAAAA:
				rr, _ := dns.NewRR(q.Name + " 60 IN AAAA 2001:db8::1")
				m.Answer = append(m.Answer, rr)
			}
			w.WriteMsg(m)
		}),
	}
	go srv.ActivateAndServe()
	defer srv.Shutdown()

	r := &probe.WireResolver{Server: pc.LocalAddr().String(), Timeout: time.Second}
	addrs, err := r.LookupHost(context.Background(), "example.com")
	testingx.Must(t, err, "failed to resolve")
	if len(addrs) != 2 || addrs[0] != "192.0.2.1" || addrs[1] != "2001:db8::1" {
		t.Errorf("LookupHost() = %v", addrs)
	}

	_, err = r.LookupHost(context.Background(), "missing.example.com")
	if err == nil {
		t.Errorf("LookupHost() expected error for NXDOMAIN")
	}

	addrs, err = r.LookupHost(context.Background(), "198.51.100.7")
	testingx.Must(t, err, "failed to resolve IP literal")
	if len(addrs) != 1 || addrs[0] != "198.51.100.7" {
		t.Errorf("LookupHost() = %v for IP literal", addrs)
	}
}

func tlsConfigFor(srv *httptest.Server) *tls.Config {
	return srv.Client().Transport.(*http.Transport).TLSClientConfig
}

func TestTCPTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	rtx.Must(err, "failed to split address")

	cfg := probe.TCPConfig{
		ConnectTimeout: time.Second,
		TLSConfig:      tlsConfigFor(srv),
	}

	t.Run("secure", func(t *testing.T) {
		got := probe.TCPTLS(context.Background(), cfg, host, port, true)
		if got.TCPErr != nil || got.TLSErr != nil {
			t.Fatalf("TCPTLS() unexpected errors: %v, %v", got.TCPErr, got.TLSErr)
		}
		if got.TCPTimeMs <= 0 || got.TLSTimeMs <= 0 {
			t.Errorf("TCPTLS() times = %f, %f, want > 0", got.TCPTimeMs, got.TLSTimeMs)
		}
		// A handshake exchanges at least the hellos and the certificate.
		if got.TLSBytes < 500 {
			t.Errorf("TCPTLS() TLSBytes = %d, want a full handshake", got.TLSBytes)
		}
	})

	t.Run("plain", func(t *testing.T) {
		got := probe.TCPTLS(context.Background(), cfg, host, port, false)
		if got.TCPErr != nil || got.TLSErr != nil {
			t.Fatalf("TCPTLS() unexpected errors: %v, %v", got.TCPErr, got.TLSErr)
		}
		if got.TLSTimeMs != 0 || got.TLSBytes != 0 {
			t.Errorf("TCPTLS() TLSTimeMs = %f, TLSBytes = %d, want 0", got.TLSTimeMs, got.TLSBytes)
		}
	})

	t.Run("untrusted certificate", func(t *testing.T) {
		got := probe.TCPTLS(context.Background(), probe.TCPConfig{ConnectTimeout: time.Second}, host, port, true)
		if got.TCPErr != nil {
			t.Fatalf("TCPTLS() unexpected TCP error: %v", got.TCPErr)
		}
		if got.TLSErr == nil || got.TLSErr.Phase != spec.PhaseTLS {
			t.Errorf("TCPTLS() TLSErr = %v, want a tls error", got.TLSErr)
		}
		if got.TLSTimeMs != 0 {
			t.Errorf("TCPTLS() TLSTimeMs = %f on failure", got.TLSTimeMs)
		}
	})

	t.Run("refused", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		rtx.Must(err, "failed to listen")
		_, closedPort, _ := net.SplitHostPort(l.Addr().String())
		l.Close()
		got := probe.TCPTLS(context.Background(), cfg, "127.0.0.1", closedPort, true)
		if got.TCPErr == nil || got.TLSErr == nil {
			t.Errorf("TCPTLS() errors = %v, %v, want both set", got.TCPErr, got.TLSErr)
		}
		if got.TCPTimeMs != 0 {
			t.Errorf("TCPTLS() TCPTimeMs = %f on failure", got.TCPTimeMs)
		}
	})
}

func defaultHTTPConfig() probe.HTTPConfig {
	return probe.HTTPConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		BufferSize:     spec.ReadBufferSize,
		UploadFactor:   spec.UploadEstimateFactor,
	}
}

func TestHTTP(t *testing.T) {
	body := strings.Repeat("x", 64*1024)
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/trickle", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 3; i++ {
			fmt.Fprint(w, strings.Repeat("y", 100))
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		got := probe.HTTP(context.Background(), defaultHTTPConfig(), srv.URL+"/ok")
		if got.Err != nil {
			t.Fatalf("HTTP() unexpected error = %v", got.Err)
		}
		if got.Bytes != int64(len(body)) {
			t.Errorf("HTTP() Bytes = %d, want %d", got.Bytes, len(body))
		}
		if got.LatencyMs < got.TTFBMs {
			t.Errorf("HTTP() LatencyMs = %f < TTFBMs = %f", got.LatencyMs, got.TTFBMs)
		}
		if got.ThroughputBps <= 0 {
			t.Errorf("HTTP() ThroughputBps = %f, want > 0", got.ThroughputBps)
		}
		want := got.ThroughputBps * 8 / 1e6
		if got.DownloadSpeedMbps != want {
			t.Errorf("HTTP() DownloadSpeedMbps = %f, want %f", got.DownloadSpeedMbps, want)
		}
		if got.UploadSpeedMbps != want*spec.UploadEstimateFactor {
			t.Errorf("HTTP() UploadSpeedMbps = %f, want %f", got.UploadSpeedMbps, want*spec.UploadEstimateFactor)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		got := probe.HTTP(context.Background(), defaultHTTPConfig(), srv.URL+"/empty")
		if got.Err != nil {
			t.Fatalf("HTTP() unexpected error = %v", got.Err)
		}
		if got.Bytes != 0 || got.ThroughputBps != 0 {
			t.Errorf("HTTP() Bytes = %d, ThroughputBps = %f, want 0", got.Bytes, got.ThroughputBps)
		}
	})

	t.Run("status error", func(t *testing.T) {
		got := probe.HTTP(context.Background(), defaultHTTPConfig(), srv.URL+"/missing")
		if got.Err == nil || !errors.Is(got.Err, probe.ErrStatus) {
			t.Fatalf("HTTP() error = %v, want ErrStatus", got.Err)
		}
		if got.ErrorMessage() != "HTTP Error: 404" {
			t.Errorf("ErrorMessage() = %q", got.ErrorMessage())
		}
	})

	t.Run("short reads", func(t *testing.T) {
		got := probe.HTTP(context.Background(), defaultHTTPConfig(), srv.URL+"/trickle")
		if got.Err != nil {
			t.Fatalf("HTTP() unexpected error = %v", got.Err)
		}
		if got.Bytes != 300 {
			t.Errorf("HTTP() Bytes = %d, want 300", got.Bytes)
		}
		if got.ShortReads < 1 {
			t.Errorf("HTTP() ShortReads = %d, want >= 1", got.ShortReads)
		}
	})

	t.Run("connect error", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		rtx.Must(err, "failed to listen")
		addr := l.Addr().String()
		l.Close()
		got := probe.HTTP(context.Background(), defaultHTTPConfig(), "http://"+addr+"/")
		if got.Err == nil || !errors.Is(got.Err, probe.ErrConnect) {
			t.Fatalf("HTTP() error = %v, want ErrConnect", got.Err)
		}
		if got.ErrorMessage() == "" {
			t.Errorf("ErrorMessage() is empty")
		}
	})
}

type fakePinger struct {
	mu    sync.Mutex
	calls int
	// errs[i] is returned by the i-th call. Calls past the end succeed.
	errs []error
	rtt  time.Duration
	// hosts holds the host of every call.
	hosts []string
}

func (p *fakePinger) Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	p.hosts = append(p.hosts, host)
	if i < len(p.errs) && p.errs[i] != nil {
		return 0, p.errs[i]
	}
	return p.rtt, nil
}

func (p *fakePinger) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastPingConfig() probe.PingConfig {
	cfg := probe.DefaultPingConfig()
	cfg.Interval = time.Millisecond
	cfg.Resolver = &fakeResolver{addrs: []string{"192.0.2.1", "192.0.2.2"}}
	return cfg
}

func TestPingSeries(t *testing.T) {
	errDown := errors.New("down")
	tests := []struct {
		name      string
		pinger    *fakePinger
		wantCalls int
		wantLoss  float64
		aborted   bool
	}{
		{
			name:      "all succeed",
			pinger:    &fakePinger{rtt: 5 * time.Millisecond},
			wantCalls: spec.PingAttempts,
		},
		{
			name: "unreachable aborts after three attempts",
			pinger: &fakePinger{errs: []error{
				errDown, errDown, errDown, errDown, errDown,
				errDown, errDown, errDown, errDown, errDown,
			}},
			wantCalls: spec.PingAbortAfter,
			wantLoss:  100,
			aborted:   true,
		},
		{
			name:      "late answer avoids the abort",
			pinger:    &fakePinger{errs: []error{errDown, errDown, nil}, rtt: time.Millisecond},
			wantCalls: spec.PingAttempts,
			wantLoss:  20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := probe.PingSeries(context.Background(), tt.pinger, "example.com", fastPingConfig())
			if got.Err != nil {
				t.Fatalf("PingSeries() unexpected error = %v", got.Err)
			}
			if tt.pinger.Calls() != tt.wantCalls || got.Attempts != tt.wantCalls {
				t.Errorf("PingSeries() calls = %d, attempts = %d, want %d",
					tt.pinger.Calls(), got.Attempts, tt.wantCalls)
			}
			if got.LossPct != tt.wantLoss {
				t.Errorf("PingSeries() LossPct = %f, want %f", got.LossPct, tt.wantLoss)
			}
			for _, host := range tt.pinger.hosts {
				if host != "192.0.2.1" {
					t.Errorf("Ping() called with %q, want the first resolved address", host)
				}
			}
			if got.Aborted != tt.aborted {
				t.Errorf("PingSeries() Aborted = %v, want %v", got.Aborted, tt.aborted)
			}
			if tt.aborted && (got.MinMs != 0 || got.AvgMs != 0 || got.MaxMs != 0) {
				t.Errorf("PingSeries() RTTs = %f/%f/%f, want zeros", got.MinMs, got.AvgMs, got.MaxMs)
			}
			if !tt.aborted && got.Successes > 0 && (got.MinMs > got.AvgMs || got.AvgMs > got.MaxMs) {
				t.Errorf("PingSeries() RTTs out of order: %f/%f/%f", got.MinMs, got.AvgMs, got.MaxMs)
			}
		})
	}
}

func TestPingSeries_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePinger{}
	got := probe.PingSeries(ctx, p, "example.com", fastPingConfig())
	if got.Err == nil {
		t.Fatalf("PingSeries() expected error")
	}
	if p.Calls() != 0 {
		t.Errorf("PingSeries() pinged %d times with a canceled context", p.Calls())
	}
}

func TestPingSeries_resolution(t *testing.T) {
	tests := []struct {
		name     string
		resolver *fakeResolver
		wantKind probe.Kind
	}{
		{
			name:     "unknown host",
			resolver: &fakeResolver{err: &net.DNSError{Err: "no such host", IsNotFound: true}},
			wantKind: probe.KindFailure,
		},
		{
			name:     "no addresses",
			resolver: &fakeResolver{},
			wantKind: probe.KindFailure,
		},
		{
			name:     "slow resolver",
			resolver: &fakeResolver{addrs: []string{"192.0.2.1"}, delay: time.Second},
			wantKind: probe.KindTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			cfg := fastPingConfig()
			cfg.Resolver = tt.resolver
			p := &fakePinger{}
			got := probe.PingSeries(ctx, p, "example.com", cfg)
			if got.Err == nil || got.Err.Phase != spec.PhasePing || got.Err.Kind != tt.wantKind {
				t.Fatalf("PingSeries() error = %v, want a ping %s", got.Err, tt.wantKind)
			}
			if got.LossPct != 0 || got.Attempts != 0 {
				t.Errorf("PingSeries() reported loss %f over %d attempts without an address",
					got.LossPct, got.Attempts)
			}
			if p.Calls() != 0 {
				t.Errorf("PingSeries() pinged %d times without an address", p.Calls())
			}
		})
	}
}

func TestTCPPinger(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	rtx.Must(err, "failed to listen")
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	_, port, _ := net.SplitHostPort(l.Addr().String())
	p := &probe.TCPPinger{Port: port}
	if _, err := p.Ping(context.Background(), "127.0.0.1", time.Second); err != nil {
		t.Errorf("Ping() unexpected error = %v", err)
	}

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	rtx.Must(err, "failed to listen")
	_, closedPort, _ := net.SplitHostPort(closed.Addr().String())
	closed.Close()
	p = &probe.TCPPinger{Port: closedPort}
	if _, err := p.Ping(context.Background(), "127.0.0.1", time.Second); err != nil {
		t.Errorf("Ping() with refused connection error = %v, want nil", err)
	}
}

func TestFallbackPinger(t *testing.T) {
	primary := &fakePinger{errs: []error{
		fmt.Errorf("%w: socket: operation not permitted", probe.ErrPingUnavailable),
	}}
	secondary := &fakePinger{rtt: 3 * time.Millisecond}
	p := &probe.FallbackPinger{Primary: primary, Secondary: secondary}

	for i := 0; i < 3; i++ {
		rtt, err := p.Ping(context.Background(), "example.com", time.Second)
		testingx.Must(t, err, "fallback ping failed")
		if rtt != 3*time.Millisecond {
			t.Errorf("Ping() = %v, want 3ms", rtt)
		}
	}
	if primary.Calls() != 1 {
		t.Errorf("primary called %d times, want 1", primary.Calls())
	}
	if secondary.Calls() != 3 {
		t.Errorf("secondary called %d times, want 3", secondary.Calls())
	}
}
