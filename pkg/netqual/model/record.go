package model

import (
	"time"
)

// Record is the result of a single measurement cycle against a target.
//
// When Successful is false, only ErrorMessage, Timestamp, Sequence and
// DNSTimeMs are meaningful. Every other measurement field is zero and must be
// treated as not applicable rather than as a zero reading.
type Record struct {
	// Successful is true if the HTTP fetch completed with a 2xx status.
	Successful bool
	// ErrorMessage describes why the cycle failed. Empty on success.
	ErrorMessage string `json:",omitempty"`

	// Timestamp is the cycle's start time.
	Timestamp time.Time
	// Sequence is the session-local cycle number, starting at 1.
	Sequence int64

	// LatencyMs is the round-trip time of the cycle's HTTP fetch, from
	// request dispatch until the body was fully read.
	LatencyMs float64
	// DNSTimeMs is the name resolution time. Zero if resolution failed.
	DNSTimeMs float64
	// TCPTimeMs is the TCP connect time. Zero if the connect failed.
	TCPTimeMs float64
	// TLSTimeMs is the TLS handshake time, excluding TCP setup. Zero for
	// cleartext targets or if the handshake failed.
	TLSTimeMs float64
	// TTFBMs is the time from request dispatch to the first body chunk.
	TTFBMs float64
	// KernelRTTMs is the smoothed RTT reported by TCP_INFO for the TCP probe
	// socket, on platforms supporting it.
	KernelRTTMs float64 `json:",omitempty"`
	// TLSHandshakeBytes is the number of bytes exchanged during the TLS
	// handshake.
	TLSHandshakeBytes int64 `json:",omitempty"`

	// ThroughputBps is the HTTP body download rate in bytes per second.
	ThroughputBps float64
	// DownloadSpeedMbps is ThroughputBps in megabits per second.
	DownloadSpeedMbps float64
	// UploadSpeedMbps is an estimate derived from DownloadSpeedMbps. No data
	// is transferred in the upload direction.
	UploadSpeedMbps float64
	// ShortReads is the number of non-final body reads that returned less
	// than a full buffer.
	ShortReads int

	// PacketLossPct is the ping series loss percentage, in [0, 100].
	PacketLossPct float64
	// MinPingMs, AvgPingMs and MaxPingMs are computed over successful ping
	// attempts only.
	MinPingMs float64
	AvgPingMs float64
	MaxPingMs float64

	// JitterMs is the mean absolute difference between consecutive latency
	// samples in the session's history.
	JitterMs float64
	// ErrorRatePct is the cumulative percentage of failed cycles over the
	// session's lifetime.
	ErrorRatePct float64
	// ConnectionQualityScore is a composite score in [0, 100].
	ConnectionQualityScore float64
	// MOS is the Mean Opinion Score, in [1.0, 5.0].
	MOS float64

	// PhaseErrors lists the probes that timed out or failed. Such phases
	// report zero values.
	PhaseErrors []PhaseError `json:",omitempty"`
}

// PhaseError describes a probe that timed out or failed during a cycle.
type PhaseError struct {
	// Phase is the probe's name, e.g. "dns" or "ping".
	Phase string
	// Kind is either "timeout" or "failure".
	Kind    string
	Message string
}

// PhaseError returns the error recorded for phase, if any.
func (r Record) PhaseError(phase string) (PhaseError, bool) {
	for _, pe := range r.PhaseErrors {
		if pe.Phase == phase {
			return pe, true
		}
	}
	return PhaseError{}, false
}

// Failed returns a failed Record for the given cycle with the provided error
// message. All measurement fields are zero.
func Failed(seq int64, start time.Time, message string) Record {
	return Record{
		Successful:   false,
		ErrorMessage: message,
		Timestamp:    start,
		Sequence:     seq,
	}
}
