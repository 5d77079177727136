package netqual

import "github.com/m-lab/netqual/pkg/netqual/model"

// DefaultLatencyThreshold is the default latency threshold, in milliseconds,
// above which a record should raise an alert.
const DefaultLatencyThreshold = 2000.0

// ShouldAlert returns true if record is from a successful cycle whose
// latency exceeds thresholdMs. Failed cycles never alert: their latency is
// not applicable.
func ShouldAlert(record model.Record, thresholdMs float64) bool {
	return record.Successful && record.LatencyMs > thresholdMs
}
