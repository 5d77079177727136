package spec

import "time"

const (
	// HistorySize is the number of latency samples kept by each session.
	HistorySize = 10

	// PingAttempts is the number of reachability checks in a ping series.
	PingAttempts = 10
	// PingAbortAfter is the number of consecutive failed attempts after which
	// a ping series with no successes is aborted.
	PingAbortAfter = 3
	// PingAttemptTimeout is the timeout of a single reachability check.
	PingAttemptTimeout = 500 * time.Millisecond
	// PingInterval is the delay between attempts once the target has
	// answered at least once.
	PingInterval = 50 * time.Millisecond

	// CycleTimeout is the shared deadline for all the probes of one cycle.
	CycleTimeout = 5 * time.Second
	// DNSTimeout is the timeout of the DNS probe.
	DNSTimeout = 2 * time.Second
	// ConnectTimeout is the TCP connect timeout used by the TCP and HTTP
	// probes.
	ConnectTimeout = 5 * time.Second
	// ReadTimeout is the HTTP response header timeout.
	ReadTimeout = 5 * time.Second

	// Workers is the size of each session's probe worker pool.
	Workers = 4

	// ReadBufferSize is the HTTP body read buffer size. Reads shorter than
	// this count as short reads.
	ReadBufferSize = 8192

	// UploadEstimateFactor is the fraction of the download speed reported as
	// the estimated upload speed.
	UploadEstimateFactor = 0.2

	// DefaultScheme is prepended to targets without a scheme.
	DefaultScheme = "https"

	// MinDNSTimeMs is the floor applied to successful DNS timings.
	MinDNSTimeMs = 1.0

	// MinDownloadDuration is the floor applied to the body download time
	// when computing throughput.
	MinDownloadDuration = time.Millisecond
)

// Phase is the name of a measurement phase.
type Phase string

const (
	PhaseDNS  = Phase("dns")
	PhaseTCP  = Phase("tcp")
	PhaseTLS  = Phase("tls")
	PhaseHTTP = Phase("http")
	PhasePing = Phase("ping")
)
