package monitor

import (
	"time"
)

// Config is the configuration for a Monitor.
type Config struct {
	// Interval is the expected time between the start of two cycles. The
	// actual intervals are drawn from an exponential distribution with this
	// mean, so that cycles do not synchronize with periodic events on the
	// network.
	Interval time.Duration

	// MinInterval and MaxInterval bound the time between two cycles. If zero,
	// they default to Interval/10 and Interval*4.
	MinInterval time.Duration
	MaxInterval time.Duration

	// Cycles is the number of cycles to run. If zero, the Monitor runs until
	// its context is canceled or its session is stopped.
	Cycles int

	// LatencyThreshold is the latency, in milliseconds, above which a record
	// raises an alert.
	LatencyThreshold float64

	// Emitter receives the monitoring events. It can be overridden to provide
	// a custom output.
	Emitter Emitter
}
