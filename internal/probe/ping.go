package probe

import (
	"context"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/m-lab/netqual/pkg/netqual/spec"
)

// Pinger performs a single reachability check of an IP address and returns
// its round-trip time.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)
}

// PingConfig configures a ping series.
type PingConfig struct {
	// Attempts is the maximum number of checks.
	Attempts int
	// AbortAfter is the number of attempts after which the series is aborted
	// if none of them succeeded.
	AbortAfter int
	// Timeout is the timeout of each check.
	Timeout time.Duration
	// Interval is the pause after each successful check.
	Interval time.Duration
	// Resolver resolves the target once per series. Nil means the system
	// resolver.
	Resolver Resolver
}

// DefaultPingConfig returns the default ping series configuration.
func DefaultPingConfig() PingConfig {
	return PingConfig{
		Attempts:   spec.PingAttempts,
		AbortAfter: spec.PingAbortAfter,
		Timeout:    spec.PingAttemptTimeout,
		Interval:   spec.PingInterval,
	}
}

// PingResult is the result of a ping series.
type PingResult struct {
	Attempts  int
	Successes int
	// Aborted is true if the series stopped early because the target never
	// answered.
	Aborted bool

	LossPct float64
	MinMs   float64
	AvgMs   float64
	MaxMs   float64

	Err *PhaseError
}

// PingSeries resolves host and runs up to cfg.Attempts reachability checks
// against its first address. If the first cfg.AbortAfter checks all fail, the
// series stops and reports 100% loss. If resolution fails or ctx expires
// before the series completes, the result only carries an error.
func PingSeries(ctx context.Context, p Pinger, host string, cfg PingConfig) PingResult {
	addrs, err := resolve(ctx, cfg.Resolver, host)
	if err != nil {
		return PingResult{Err: NewPhaseError(spec.PhasePing, err)}
	}
	addr := addrs[0]

	var rtts []float64
	attempts := 0
	for attempts < cfg.Attempts {
		if err := ctx.Err(); err != nil {
			return PingResult{Err: NewPhaseError(spec.PhasePing, err)}
		}
		attempts++
		rtt, err := p.Ping(ctx, addr, cfg.Timeout)
		if err == nil {
			rtts = append(rtts, durationMs(rtt))
		}
		if attempts >= cfg.AbortAfter && len(rtts) == 0 {
			return PingResult{
				Attempts: attempts,
				Aborted:  true,
				LossPct:  100,
			}
		}
		if err == nil && attempts < cfg.Attempts && cfg.Interval > 0 {
			t := time.NewTimer(cfg.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return PingResult{Err: NewPhaseError(spec.PhasePing, ctx.Err())}
			case <-t.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		// The last attempt may have failed only because ctx expired.
		return PingResult{Err: NewPhaseError(spec.PhasePing, err)}
	}

	result := PingResult{
		Attempts:  attempts,
		Successes: len(rtts),
	}
	if attempts > 0 {
		result.LossPct = float64(attempts-len(rtts)) / float64(attempts) * 100
	}
	if len(rtts) == 0 {
		return result
	}
	// The stats functions only fail on empty input.
	result.MinMs, _ = stats.Min(rtts)
	result.MaxMs, _ = stats.Max(rtts)
	result.AvgMs, _ = stats.Mean(rtts)
	return result
}
