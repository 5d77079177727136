package netqual

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/m-lab/netqual/internal/metrics"
	"github.com/m-lab/netqual/internal/probe"
	"github.com/m-lab/netqual/internal/quality"
	"github.com/m-lab/netqual/pkg/netqual/model"
	"github.com/m-lab/netqual/pkg/netqual/spec"
)

// cycleResult holds the raw results of all the probes of one cycle.
type cycleResult struct {
	dns  probe.DNSResult
	tcp  probe.TCPResult
	http probe.HTTPResult
	ping probe.PingResult
}

// runProbes runs all the probes concurrently and waits for all of them to
// return. Each probe is bounded by its own timeout and by ctx; probes only
// write to their own field of the returned cycleResult.
func (s *Session) runProbes(ctx context.Context) *cycleResult {
	res := &cycleResult{}
	tlsConfig := s.tlsConfig()

	var wg sync.WaitGroup
	run := func(timeout time.Duration, f func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// If no worker frees up before ctx is done, the probe still runs
			// with the expired ctx so that it reports the timeout.
			if err := s.workers.Acquire(ctx, 1); err == nil {
				defer s.workers.Release(1)
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			f(probeCtx)
		}()
	}

	run(s.config.DNSTimeout, func(ctx context.Context) {
		res.dns = probe.DNS(ctx, s.resolver, s.target.host)
	})
	run(s.config.CycleTimeout, func(ctx context.Context) {
		res.tcp = probe.TCPTLS(ctx, probe.TCPConfig{
			ConnectTimeout: s.config.ConnectTimeout,
			TLSConfig:      tlsConfig,
			Resolver:       s.resolver,
		}, s.target.host, s.target.port, s.target.secure)
	})
	run(s.config.CycleTimeout, func(ctx context.Context) {
		res.http = probe.HTTP(ctx, probe.HTTPConfig{
			ConnectTimeout: s.config.ConnectTimeout,
			ReadTimeout:    s.config.ReadTimeout,
			TLSConfig:      tlsConfig,
			BufferSize:     s.config.BufferSize,
			UploadFactor:   s.config.UploadFactor,
			UserAgent:      s.config.UserAgent,
			Resolver:       s.resolver,
		}, s.target.url)
	})
	run(s.config.CycleTimeout, func(ctx context.Context) {
		res.ping = probe.PingSeries(ctx, s.pinger, s.target.host, probe.PingConfig{
			Attempts:   s.config.PingAttempts,
			AbortAfter: s.config.PingAbortAfter,
			Timeout:    s.config.PingTimeout,
			Interval:   s.config.PingInterval,
			Resolver:   s.resolver,
		})
	})
	wg.Wait()
	return res
}

func (s *Session) tlsConfig() *tls.Config {
	var c *tls.Config
	if s.config.TLSConfig != nil {
		c = s.config.TLSConfig.Clone()
	} else {
		c = &tls.Config{}
	}
	if s.config.NoVerify {
		c.InsecureSkipVerify = true
	}
	return c
}

// complete turns the probe results into a Record, updating the session's
// counters and history. A nil res means the target is invalid.
func (s *Session) complete(seq int64, start time.Time, res *cycleResult) (model.Record, error) {
	var record model.Record
	if res == nil {
		record = model.Failed(seq, start, s.targetErr.Error())
	} else {
		record = buildRecord(seq, start, res)
		observe(res)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return model.Record{}, ErrSessionStopped
	}

	s.counters.Total++
	if !record.Successful {
		s.counters.Lost++
		metrics.CycleCount.WithLabelValues("failure").Inc()
		log.Debug("Cycle failed", "id", s.id, "seq", seq, "error", record.ErrorMessage)
		return record, nil
	}
	s.counters.Successful++
	metrics.CycleCount.WithLabelValues("success").Inc()

	// A cycle that completes after a newer one already updated the history
	// is stale: its latency is not added, but it still gets derived metrics
	// from the current history.
	if seq > s.applied {
		s.history.Push(record.LatencyMs)
		s.applied = seq
	} else {
		log.Debug("Stale cycle completion", "id", s.id, "seq", seq, "applied", s.applied)
	}

	record.JitterMs = s.history.Jitter()
	record.ErrorRatePct = quality.ErrorRate(s.counters.Total, s.counters.Successful)
	record.ConnectionQualityScore = quality.Score(s.history.Mean(),
		record.DownloadSpeedMbps, record.PacketLossPct, record.ThroughputBps)
	record.MOS = quality.MOS(record.LatencyMs, record.JitterMs, record.PacketLossPct)
	metrics.QualityScore.WithLabelValues(s.target.url).Observe(record.ConnectionQualityScore)
	return record, nil
}

// buildRecord assembles the measured fields of a Record. Derived fields that
// depend on the session's state are filled in by complete.
func buildRecord(seq int64, start time.Time, res *cycleResult) model.Record {
	var phaseErrors []model.PhaseError
	for _, err := range []*probe.PhaseError{
		res.dns.Err, res.tcp.TCPErr, res.tcp.TLSErr, res.http.Err, res.ping.Err,
	} {
		if err == nil {
			continue
		}
		pe := model.PhaseError{Phase: string(err.Phase), Kind: string(err.Kind)}
		if err.Err != nil {
			pe.Message = err.Err.Error()
		}
		phaseErrors = append(phaseErrors, pe)
	}

	if res.http.Err != nil {
		record := model.Failed(seq, start, res.http.ErrorMessage())
		// DNS is independent of the target's reachability, so it is still
		// reported.
		record.DNSTimeMs = res.dns.TimeMs
		record.PhaseErrors = phaseErrors
		return record
	}

	record := model.Record{
		Successful:  true,
		Timestamp:   start,
		Sequence:    seq,
		PhaseErrors: phaseErrors,

		LatencyMs:   res.http.LatencyMs,
		DNSTimeMs:   res.dns.TimeMs,
		TCPTimeMs:   res.tcp.TCPTimeMs,
		TLSTimeMs:   res.tcp.TLSTimeMs,
		TTFBMs:      res.http.TTFBMs,
		KernelRTTMs: res.tcp.KernelRTTMs,

		TLSHandshakeBytes: res.tcp.TLSBytes,

		ThroughputBps:     res.http.ThroughputBps,
		DownloadSpeedMbps: res.http.DownloadSpeedMbps,
		UploadSpeedMbps:   res.http.UploadSpeedMbps,
		ShortReads:        res.http.ShortReads,
	}
	if res.ping.Err == nil {
		record.PacketLossPct = res.ping.LossPct
		record.MinPingMs = res.ping.MinMs
		record.AvgPingMs = res.ping.AvgMs
		record.MaxPingMs = res.ping.MaxMs
	}
	return record
}

// observe updates the phase metrics.
func observe(res *cycleResult) {
	for _, err := range []*probe.PhaseError{
		res.dns.Err, res.tcp.TCPErr, res.tcp.TLSErr, res.http.Err, res.ping.Err,
	} {
		if err != nil {
			metrics.PhaseErrors.WithLabelValues(string(err.Phase), string(err.Kind)).Inc()
		}
	}
	durations := map[spec.Phase]float64{
		spec.PhaseDNS:  res.dns.TimeMs,
		spec.PhaseTCP:  res.tcp.TCPTimeMs,
		spec.PhaseTLS:  res.tcp.TLSTimeMs,
		spec.PhaseHTTP: res.http.LatencyMs,
		spec.PhasePing: res.ping.AvgMs,
	}
	for phase, ms := range durations {
		if ms > 0 {
			metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(ms)
		}
	}
}
