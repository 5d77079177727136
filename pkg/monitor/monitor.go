// Package monitor drives a netqual.Session on a randomized schedule, tracks
// whether its target is online and reports every cycle through an Emitter.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/memoryless"

	"github.com/m-lab/netqual/internal/metrics"
	"github.com/m-lab/netqual/pkg/netqual"
	"github.com/m-lab/netqual/pkg/netqual/model"
)

// DefaultInterval is the default expected time between two cycles.
const DefaultInterval = time.Second

// Status is the reachability status of a target.
type Status string

const (
	StatusUnknown = Status("UNKNOWN")
	StatusOnline  = Status("ONLINE")
	StatusOffline = Status("OFFLINE")
)

// Monitor repeatedly measures a Session's target.
type Monitor struct {
	session *netqual.Session
	config  Config

	mu      sync.Mutex
	status  Status
	summary model.Summary
}

// New returns a Monitor for session. Zero fields in config take their
// default value.
func New(session *netqual.Session, config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MinInterval <= 0 {
		config.MinInterval = config.Interval / 10
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = config.Interval * 4
	}
	if config.LatencyThreshold <= 0 {
		config.LatencyThreshold = netqual.DefaultLatencyThreshold
	}
	if config.Emitter == nil {
		config.Emitter = HumanReadable{}
	}
	return &Monitor{
		session: session,
		config:  config,
		status:  StatusUnknown,
	}
}

// Status returns the target's status after the last cycle.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Summary returns the summary of the cycles run so far.
func (m *Monitor) Summary() model.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Run measures the target once immediately and then at random intervals,
// until ctx is done, the session is stopped or the configured number of
// cycles has run. It only returns an error if the configured intervals are
// invalid.
func (m *Monitor) Run(ctx context.Context) error {
	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      m.config.MinInterval,
		Expected: m.config.Interval,
		Max:      m.config.MaxInterval,
	})
	if err != nil {
		return err
	}
	defer ticker.Stop()

	target := m.session.Target()
	m.config.Emitter.OnStart(m.session.ID(), target)
	defer func() {
		m.config.Emitter.OnComplete(target, m.Summary())
	}()

	for n := 1; ; n++ {
		record, err := m.session.MeasureNow(ctx)
		if errors.Is(err, netqual.ErrSessionStopped) {
			m.config.Emitter.OnDebug(fmt.Sprintf("session %s stopped", m.session.ID()))
			return nil
		}
		if ctx.Err() != nil {
			// The cycle was abandoned.
			return nil
		}
		if err != nil {
			m.config.Emitter.OnError(target, err)
			return nil
		}
		m.handle(target, record)

		if m.config.Cycles > 0 && n >= m.config.Cycles {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) handle(target string, r model.Record) {
	next := StatusOffline
	if r.Successful {
		next = StatusOnline
	}
	m.mu.Lock()
	m.summary.Add(r)
	prev := m.status
	m.status = next
	m.mu.Unlock()

	m.config.Emitter.OnRecord(target, r)
	if prev != next {
		metrics.StatusChanges.WithLabelValues(string(next)).Inc()
		log.Debug("Status changed", "target", target, "status", next, "oldStatus", prev)
		m.config.Emitter.OnStatusChange(target, prev, next)
	}
	if netqual.ShouldAlert(r, m.config.LatencyThreshold) {
		metrics.Alerts.WithLabelValues(target).Inc()
		m.config.Emitter.OnAlert(target, r, m.config.LatencyThreshold)
	}
}
