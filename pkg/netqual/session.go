// Package netqual implements a network quality measurement engine.
//
// A Session measures a single target. Every call to MeasureNow runs one
// measurement cycle: DNS, TCP+TLS, HTTP fetch and ping series probes run
// concurrently under a shared deadline, and their results are combined with
// the session's latency history into a model.Record. Probe failures are
// reported inside the Record; the only error MeasureNow returns is
// ErrSessionStopped.
package netqual

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/m-lab/netqual/internal/history"
	"github.com/m-lab/netqual/internal/metrics"
	"github.com/m-lab/netqual/internal/probe"
	"github.com/m-lab/netqual/pkg/netqual/model"
	"github.com/m-lab/netqual/pkg/netqual/spec"
	"github.com/m-lab/netqual/pkg/version"
)

var (
	// ErrSessionStopped is returned by MeasureNow once the session has been
	// stopped, including when Stop interrupts a running cycle.
	ErrSessionStopped = errors.New("session stopped")

	// ErrInvalidTarget is reported in the ErrorMessage of every cycle of a
	// session whose target cannot be parsed.
	ErrInvalidTarget = errors.New("invalid target")
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateCreated is the state of a session that never measured.
	StateCreated State = iota
	// StateRunning is the state of a session that measured at least once.
	StateRunning
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Counters are the cumulative cycle counters of a Session.
type Counters struct {
	// Total is the number of completed cycles.
	Total int64
	// Successful is the number of successful cycles.
	Successful int64
	// Lost is the number of failed cycles.
	Lost int64
}

// target is a parsed measurement target.
type target struct {
	url    string
	host   string
	port   string
	secure bool
}

// Session measures a single target across repeated cycles. It is safe for
// concurrent use.
type Session struct {
	id     string
	raw    string
	target target
	// targetErr is set if raw could not be parsed.
	targetErr error
	config    Config

	resolver probe.Resolver
	pinger   probe.Pinger
	workers  *semaphore.Weighted

	// ctx is canceled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards all the fields below.
	mu       sync.Mutex
	state    State
	history  *history.History
	counters Counters
	// seq is the sequence number of the last started cycle.
	seq int64
	// applied is the sequence number of the newest cycle whose latency was
	// added to history.
	applied int64
}

// StartSession returns a new Session for target with the default
// configuration. A target without a scheme is measured over https.
func StartSession(target string) *Session {
	return NewSession(target, DefaultConfig())
}

// NewSession returns a new Session for target using config. Zero fields in
// config take their default value.
func NewSession(target string, config Config) *Session {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.NewString(),
		raw:     target,
		config:  config,
		workers: semaphore.NewWeighted(config.Workers),
		ctx:     ctx,
		cancel:  cancel,
		history: history.New(config.HistorySize),
	}
	s.target, s.targetErr = parseTarget(target)

	switch {
	case config.Resolver != nil:
		s.resolver = config.Resolver
	case config.DNSServer != "":
		s.resolver = &probe.WireResolver{Server: config.DNSServer, Timeout: config.DNSTimeout}
	default:
		s.resolver = probe.SystemResolver()
	}
	if config.Pinger != nil {
		s.pinger = config.Pinger
	} else {
		s.pinger = probe.DefaultPinger(config.PrivilegedPing, s.target.port)
	}

	metrics.ActiveSessions.Inc()
	log.Debug("Session started", "id", s.id, "target", target)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Target returns the normalized target URL, or the target as provided if it
// could not be parsed.
func (s *Session) Target() string {
	if s.targetErr != nil {
		return s.raw
	}
	return s.target.url
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Counters returns a copy of the session's cumulative counters.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Stop stops the session. Running cycles are abandoned and any further call
// to MeasureNow returns ErrSessionStopped. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.cancel()
	metrics.ActiveSessions.Dec()
	log.Debug("Session stopped", "id", s.id, "target", s.Target())
}

// MeasureNow runs one measurement cycle and returns its Record. Probe
// failures are reported in the Record. It returns ErrSessionStopped if the
// session was stopped before or during the cycle, and ctx.Err() if ctx was
// done before the cycle completed. In both cases the cycle is abandoned: it
// does not affect the counters or the history.
func (s *Session) MeasureNow(ctx context.Context) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, err
	}
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return model.Record{}, ErrSessionStopped
	}
	s.state = StateRunning
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	start := time.Now()
	if s.targetErr != nil {
		return s.complete(seq, start, nil)
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	res := s.runProbes(cycleCtx)
	if s.ctx.Err() != nil {
		// Stopped while probing: partial results are discarded.
		return model.Record{}, ErrSessionStopped
	}
	if err := ctx.Err(); err != nil {
		log.Debug("Cycle abandoned", "id", s.id, "seq", seq, "error", err)
		return model.Record{}, err
	}
	return s.complete(seq, start, res)
}

// parseTarget normalizes raw into a URL, defaulting to https.
func parseTarget(raw string) (target, error) {
	t := strings.TrimSpace(raw)
	if t == "" {
		return target{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if !strings.Contains(t, "://") {
		t = spec.DefaultScheme + "://" + t
	}
	u, err := url.Parse(t)
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return target{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Hostname() == "" {
		return target{}, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, raw)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return target{
		url:    u.String(),
		host:   u.Hostname(),
		port:   port,
		secure: u.Scheme == "https",
	}, nil
}

func userAgent() string {
	return "netqual/" + version.Version
}
