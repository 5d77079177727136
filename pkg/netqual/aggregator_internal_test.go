package netqual

import (
	"testing"
	"time"

	"github.com/m-lab/netqual/internal/probe"
	"github.com/m-lab/netqual/pkg/netqual/spec"
)

func successfulResult(latencyMs float64) *cycleResult {
	return &cycleResult{
		dns: probe.DNSResult{TimeMs: 2},
		tcp: probe.TCPResult{TCPTimeMs: 20, TLSTimeMs: 15},
		http: probe.HTTPResult{
			StatusCode:        200,
			LatencyMs:         latencyMs,
			TTFBMs:            40,
			Bytes:             50000,
			ThroughputBps:     50000 / 0.060,
			DownloadSpeedMbps: 50000 / 0.060 * 8 / 1e6,
			UploadSpeedMbps:   50000 / 0.060 * 8 / 1e6 * spec.UploadEstimateFactor,
		},
		ping: probe.PingResult{Attempts: 10, Successes: 10, MinMs: 9, AvgMs: 10, MaxMs: 11},
	}
}

func TestSession_complete_scenario(t *testing.T) {
	s := NewSession("https://example.com", DefaultConfig())
	defer s.Stop()

	record, err := s.complete(1, time.Now(), successfulResult(100))
	if err != nil {
		t.Fatalf("complete() unexpected error = %v", err)
	}
	if !record.Successful {
		t.Fatalf("complete() failed: %s", record.ErrorMessage)
	}
	if record.ThroughputBps < 833333 || record.ThroughputBps > 833334 {
		t.Errorf("ThroughputBps = %f, want ~833333", record.ThroughputBps)
	}
	if record.DownloadSpeedMbps < 6.66 || record.DownloadSpeedMbps > 6.67 {
		t.Errorf("DownloadSpeedMbps = %f, want ~6.67", record.DownloadSpeedMbps)
	}
	if record.TCPTimeMs != 20 || record.TLSTimeMs != 15 || record.TTFBMs != 40 {
		t.Errorf("phase timings = %f/%f/%f", record.TCPTimeMs, record.TLSTimeMs, record.TTFBMs)
	}
	if record.MOS < 3.5 || record.MOS > 4.5 {
		t.Errorf("MOS = %f, want between 3.5 and 4.5", record.MOS)
	}
}

func TestSession_complete_staleCycle(t *testing.T) {
	s := NewSession("https://example.com", DefaultConfig())
	defer s.Stop()
	s.seq = 2

	// Cycle 2 completes first, then cycle 1 completes late.
	_, err := s.complete(2, time.Now(), successfulResult(100))
	if err != nil {
		t.Fatalf("complete() unexpected error = %v", err)
	}
	record, err := s.complete(1, time.Now(), successfulResult(500))
	if err != nil {
		t.Fatalf("complete() unexpected error = %v", err)
	}
	if s.history.Len() != 1 {
		t.Errorf("history has %d samples, the stale cycle must not be added", s.history.Len())
	}
	if record.JitterMs != 0 {
		t.Errorf("JitterMs = %f, want 0", record.JitterMs)
	}
	if s.counters.Total != 2 || s.counters.Successful != 2 {
		t.Errorf("counters = %+v, stale cycles still count", s.counters)
	}

	// A newer cycle is added normally.
	record, err = s.complete(3, time.Now(), successfulResult(120))
	if err != nil {
		t.Fatalf("complete() unexpected error = %v", err)
	}
	if s.history.Len() != 2 || record.JitterMs != 20 {
		t.Errorf("history len = %d, JitterMs = %f, want 2, 20", s.history.Len(), record.JitterMs)
	}
}

func TestSession_complete_phaseFailures(t *testing.T) {
	s := NewSession("https://example.com", DefaultConfig())
	defer s.Stop()

	res := successfulResult(100)
	res.tcp = probe.TCPResult{
		TCPTimeMs: 20,
		TLSErr:    probe.NewPhaseError(spec.PhaseTLS, probe.ErrNoReply),
	}
	res.ping = probe.PingResult{Err: &probe.PhaseError{Phase: spec.PhasePing, Kind: probe.KindTimeout}}
	record, err := s.complete(1, time.Now(), res)
	if err != nil {
		t.Fatalf("complete() unexpected error = %v", err)
	}
	if !record.Successful {
		t.Fatalf("phase failures must not fail the cycle")
	}
	if record.TLSTimeMs != 0 || record.TCPTimeMs != 20 {
		t.Errorf("TCPTimeMs = %f, TLSTimeMs = %f", record.TCPTimeMs, record.TLSTimeMs)
	}
	if _, ok := record.PhaseError("tls"); !ok {
		t.Errorf("PhaseErrors = %v, want a tls entry", record.PhaseErrors)
	}
	if pe, ok := record.PhaseError("ping"); !ok || pe.Kind != "timeout" {
		t.Errorf("PhaseErrors = %v, want a ping timeout", record.PhaseErrors)
	}
}

func TestSession_complete_afterStop(t *testing.T) {
	s := NewSession("https://example.com", DefaultConfig())
	s.Stop()
	if _, err := s.complete(1, time.Now(), successfulResult(100)); err != ErrSessionStopped {
		t.Errorf("complete() error = %v, want ErrSessionStopped", err)
	}
}

func Test_parseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		want    target
		wantErr bool
	}{
		{
			raw:  "example.com",
			want: target{url: "https://example.com", host: "example.com", port: "443", secure: true},
		},
		{
			raw:  "http://example.com",
			want: target{url: "http://example.com", host: "example.com", port: "80"},
		},
		{
			raw:  "https://[2001:db8::1]:8443/x",
			want: target{url: "https://[2001:db8::1]:8443/x", host: "2001:db8::1", port: "8443", secure: true},
		},
		{raw: "", wantErr: true},
		{raw: "ws://example.com", wantErr: true},
		{raw: "https://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseTarget(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseTarget() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
