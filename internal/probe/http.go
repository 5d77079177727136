package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/m-lab/netqual/pkg/netqual/spec"
)

// HTTPConfig configures the HTTP probe.
type HTTPConfig struct {
	// ConnectTimeout bounds the TCP connect and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for the response headers.
	ReadTimeout time.Duration
	// TLSConfig is used for https targets.
	TLSConfig *tls.Config
	// BufferSize is the size of the buffer the body is read into. A read
	// returning fewer bytes counts as a short read.
	BufferSize int
	// UploadFactor is the ratio between the estimated upload speed and the
	// measured download speed.
	UploadFactor float64
	// UserAgent is sent with the request, if not empty.
	UserAgent string
	// Resolver resolves the URL's host. If nil, the system resolver is used.
	Resolver Resolver
}

// HTTPResult is the result of the HTTP probe.
type HTTPResult struct {
	// StatusCode is the response status, if a response was received.
	StatusCode int
	// LatencyMs is the time from dispatching the request to the end of the
	// body.
	LatencyMs float64
	// TTFBMs is the time from dispatching the request to the first body
	// byte.
	TTFBMs float64
	// Bytes is the number of body bytes read.
	Bytes int64
	// ShortReads counts non-final reads that returned fewer bytes than the
	// buffer size.
	ShortReads int

	ThroughputBps     float64
	DownloadSpeedMbps float64
	UploadSpeedMbps   float64

	Err *PhaseError
}

// HTTP fetches url and measures latency, time to first byte and download
// throughput. Any failure makes the whole result unusable: callers must treat
// a non-nil Err as a failed cycle.
func HTTP(ctx context.Context, cfg HTTPConfig, url string) HTTPResult {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			addrs, err := resolve(ctx, cfg.Resolver, host)
			if err != nil {
				return nil, err
			}
			var conn net.Conn
			for _, a := range addrs {
				conn, err = dialer.DialContext(ctx, network, net.JoinHostPort(a, port))
				if err == nil || IsContextError(err) {
					break
				}
			}
			return conn, err
		},
		TLSClientConfig:       cfg.TLSConfig,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		DisableKeepAlives:     true,
		DisableCompression:    true,
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HTTPResult{Err: NewPhaseError(spec.PhaseHTTP, fmt.Errorf("%w: %w", ErrConnect, err))}
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return HTTPResult{Err: NewPhaseError(spec.PhaseHTTP, fmt.Errorf("%w: %w", ErrConnect, err))}
	}
	defer resp.Body.Close()

	result := HTTPResult{StatusCode: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Err = &PhaseError{
			Phase: spec.PhaseHTTP,
			Kind:  KindFailure,
			Err:   fmt.Errorf("%w: HTTP Error: %d", ErrStatus, resp.StatusCode),
		}
		return result
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = spec.ReadBufferSize
	}
	buf := make([]byte, size)
	var firstByte time.Time
	prevShort := false
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if firstByte.IsZero() {
				firstByte = time.Now()
			}
			// Only reads followed by more data count, so the final partial
			// buffer is never a short read.
			if prevShort {
				result.ShortReads++
			}
			prevShort = n < len(buf)
			result.Bytes += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Err = NewPhaseError(spec.PhaseHTTP, fmt.Errorf("%w: %w", ErrRead, err))
			return result
		}
	}
	end := time.Now()
	if firstByte.IsZero() {
		firstByte = end
	}

	result.LatencyMs = durationMs(end.Sub(start))
	result.TTFBMs = durationMs(firstByte.Sub(start))

	window := end.Sub(firstByte)
	if window < spec.MinDownloadDuration {
		window = spec.MinDownloadDuration
	}
	result.ThroughputBps = float64(result.Bytes) / window.Seconds()
	result.DownloadSpeedMbps = result.ThroughputBps * 8 / 1e6
	result.UploadSpeedMbps = result.DownloadSpeedMbps * cfg.UploadFactor
	return result
}

// ErrorMessage returns the message to report for a failed HTTP probe. Status
// errors are reported in the "HTTP Error: <code>" form.
func (r HTTPResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	if r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
		return fmt.Sprintf("HTTP Error: %d", r.StatusCode)
	}
	return r.Err.Err.Error()
}
