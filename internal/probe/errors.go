// Package probe implements the individual measurement phases (DNS, TCP+TLS,
// HTTP fetch and ping series) composed into a netqual measurement cycle.
//
// Probes never return Go errors for network failures: every result carries
// its own error, if any, so that a failed phase only affects its own fields.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/m-lab/netqual/pkg/netqual/spec"
)

// Kind classifies a phase error.
type Kind string

const (
	// KindTimeout means the phase exceeded its time budget.
	KindTimeout = Kind("timeout")
	// KindFailure means the phase ran but the operation itself failed.
	KindFailure = Kind("failure")
)

var (
	// ErrConnect indicates that the HTTP request could not be sent or no
	// response was received.
	ErrConnect = errors.New("connect failed")
	// ErrStatus indicates that the HTTP response had a non-2xx status.
	ErrStatus = errors.New("unexpected status")
	// ErrRead indicates that the HTTP response body could not be read.
	ErrRead = errors.New("read failed")
	// ErrPingUnavailable indicates that a Pinger cannot run on this system,
	// e.g. because ICMP sockets are not permitted.
	ErrPingUnavailable = errors.New("ping unavailable")
	// ErrNoReply indicates that a reachability check got no answer.
	ErrNoReply = errors.New("no reply")
)

// PhaseError is the error of a single measurement phase.
type PhaseError struct {
	Phase spec.Phase
	Kind  Kind
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Kind, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// NewPhaseError wraps err into a PhaseError for phase, classifying it as a
// timeout or a failure.
func NewPhaseError(phase spec.Phase, err error) *PhaseError {
	return &PhaseError{
		Phase: phase,
		Kind:  Classify(err),
		Err:   err,
	}
}

// Classify returns KindTimeout for errors caused by an expired deadline and
// KindFailure for anything else.
func Classify(err error) Kind {
	if IsTimeout(err) {
		return KindTimeout
	}
	return KindFailure
}

// IsTimeout returns whether err is due to an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsContextError returns whether err is due to a canceled or expired context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
