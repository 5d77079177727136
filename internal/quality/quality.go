// Package quality derives composite quality indicators (error rate,
// connection quality score, MOS) from raw network measurements.
//
// Every function in this package is pure and clamps its output to the
// documented range, including for pathological inputs.
package quality

import "math"

const (
	// bytesPerMiB is used to normalize throughput.
	bytesPerMiB = 1024 * 1024

	// r0 is the basic signal-to-noise ratio of the simplified E-model.
	r0 = 93.2
	// delayThresholdMs is the one-way delay above which the E-model applies
	// an additional impairment.
	delayThresholdMs = 177.3
)

// Clamp returns v limited to the [lo, hi] interval. NaN is mapped to lo.
func Clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return lo
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// ErrorRate returns the percentage of unsuccessful requests, or zero when no
// request has been made.
func ErrorRate(total, successful int64) float64 {
	if total <= 0 {
		return 0
	}
	return Clamp(float64(total-successful)/float64(total)*100, 0, 100)
}

// LatencyScore maps an average latency to [0, 100]. Lower is better.
func LatencyScore(avgLatencyMs float64) float64 {
	return Clamp(100-avgLatencyMs/10, 0, 100)
}

// DownloadScore maps a download speed to [0, 100]. Higher is better.
func DownloadScore(downloadMbps float64) float64 {
	return Clamp(downloadMbps*10, 0, 100)
}

// PacketLossScore maps a packet loss percentage to [0, 100]. Lower loss is
// better.
func PacketLossScore(lossPct float64) float64 {
	return Clamp(100-lossPct*10, 0, 100)
}

// ThroughputScore maps a throughput in bytes per second to [0, 100]. Higher
// is better.
func ThroughputScore(throughputBps float64) float64 {
	return Clamp(throughputBps/bytesPerMiB*20, 0, 100)
}

// Score returns the connection quality score, the unweighted mean of the
// latency, download, packet loss and throughput sub-scores.
func Score(avgLatencyMs, downloadMbps, lossPct, throughputBps float64) float64 {
	sum := LatencyScore(avgLatencyMs) +
		DownloadScore(downloadMbps) +
		PacketLossScore(lossPct) +
		ThroughputScore(throughputBps)
	return Clamp(sum/4, 0, 100)
}

// DelayImpairment returns the E-model delay impairment for the given latency.
func DelayImpairment(latencyMs float64) float64 {
	if latencyMs < 0 {
		latencyMs = 0
	}
	return 0.024*latencyMs + 0.11*math.Max(0, latencyMs-delayThresholdMs)
}

// RFactor returns the transmission rating factor, clamped to [0, 100].
func RFactor(latencyMs, jitterMs, lossPct float64) float64 {
	r := r0 - 0.1*jitterMs - DelayImpairment(latencyMs) - 30*(lossPct/100)
	return Clamp(r, 0, 100)
}

// MOS returns the Mean Opinion Score for the given conditions, clamped to
// [1, 5].
func MOS(latencyMs, jitterMs, lossPct float64) float64 {
	r := RFactor(latencyMs, jitterMs, lossPct)
	mos := 1 + 0.035*r + r*(r-60)*(100-r)*7e-6
	return Clamp(mos, 1, 5)
}
