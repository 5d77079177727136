package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/m-lab/netqual/pkg/netqual/model"
)

// Emitter is an interface for emitting monitoring events. Implementations
// must be safe for concurrent use when shared by several Monitors.
type Emitter interface {
	// OnStart is called when monitoring of target starts.
	OnStart(id, target string)
	// OnRecord is called with the Record of every cycle.
	OnRecord(target string, r model.Record)
	// OnAlert is called when a Record's latency is above the threshold.
	OnAlert(target string, r model.Record, thresholdMs float64)
	// OnStatusChange is called when the target goes online or offline.
	OnStatusChange(target string, old, new Status)
	// OnError is called on errors.
	OnError(target string, err error)
	// OnComplete is called when monitoring of target ends.
	OnComplete(target string, summary model.Summary)
	// OnDebug is called to print debug information.
	OnDebug(msg string)
}

// HumanReadable prints human-readable output to Out, or stdout if Out is nil.
// It can be configured to include debug output, too.
type HumanReadable struct {
	Debug bool
	Out   io.Writer
}

func (e HumanReadable) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// OnStart prints the target being monitored.
func (e HumanReadable) OnStart(id, target string) {
	fmt.Fprintf(e.out(), "Monitoring %s (session: %s)\n", target, id)
}

// OnRecord prints a one-line summary of r.
func (e HumanReadable) OnRecord(target string, r model.Record) {
	if !r.Successful {
		fmt.Fprintf(e.out(), "%s #%d failed: %s\n", target, r.Sequence, r.ErrorMessage)
		return
	}
	fmt.Fprintf(e.out(), "%s #%d latency: %.2fms, dns: %.2fms, tcp: %.2fms, tls: %.2fms, ttfb: %.2fms, "+
		"down: %.2f Mb/s, loss: %.1f%%, jitter: %.2fms, quality: %.1f, mos: %.2f\n",
		target, r.Sequence, r.LatencyMs, r.DNSTimeMs, r.TCPTimeMs, r.TLSTimeMs, r.TTFBMs,
		r.DownloadSpeedMbps, r.PacketLossPct, r.JitterMs, r.ConnectionQualityScore, r.MOS)
}

// OnAlert prints a high latency warning.
func (e HumanReadable) OnAlert(target string, r model.Record, thresholdMs float64) {
	fmt.Fprintf(e.out(), "ALERT: %s latency %.2fms above %.0fms\n", target, r.LatencyMs, thresholdMs)
}

// OnStatusChange prints the status transition.
func (e HumanReadable) OnStatusChange(target string, old, new Status) {
	fmt.Fprintf(e.out(), "%s is %s (was %s)\n", target, new, old)
}

// OnError prints err.
func (e HumanReadable) OnError(target string, err error) {
	fmt.Fprintf(e.out(), "%s: %v\n", target, err)
}

// OnComplete prints the summary of the run.
func (e HumanReadable) OnComplete(target string, s model.Summary) {
	fmt.Fprintln(e.out())
	fmt.Fprintf(e.out(), "Results for %s:\n", target)
	fmt.Fprintf(e.out(), "  cycles: %d, successful: %d\n", s.Cycles, s.Successful)
	if s.Successful > 0 {
		fmt.Fprintf(e.out(), "  avg latency: %.2fms, avg loss: %.1f%%, avg quality: %.1f, avg mos: %.2f\n",
			s.AvgLatencyMs, s.AvgPacketLossPct, s.AvgQualityScore, s.AvgMOS)
	}
}

// OnDebug prints msg if Debug is true.
func (e HumanReadable) OnDebug(msg string) {
	if e.Debug {
		fmt.Fprintf(e.out(), "DEBUG: %s\n", msg)
	}
}

// Event is the JSON representation of a monitoring event.
type Event struct {
	Type      string
	Time      time.Time
	Target    string
	ID        string         `json:",omitempty"`
	Record    *model.Record  `json:",omitempty"`
	Threshold float64        `json:",omitempty"`
	OldStatus Status         `json:",omitempty"`
	Status    Status         `json:",omitempty"`
	Error     string         `json:",omitempty"`
	Summary   *model.Summary `json:",omitempty"`
}

// JSONLines writes one JSON Event per line to W. Debug messages are dropped.
type JSONLines struct {
	W io.Writer

	mu sync.Mutex
}

func (e *JSONLines) write(ev Event) {
	ev.Time = time.Now()
	b, err := json.Marshal(ev)
	if err != nil {
		log.Warn("Event marshal failed", "type", ev.Type, "target", ev.Target, "error", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.W.Write(append(b, '\n'))
}

// OnStart implements Emitter.
func (e *JSONLines) OnStart(id, target string) {
	e.write(Event{Type: "start", Target: target, ID: id})
}

// OnRecord implements Emitter.
func (e *JSONLines) OnRecord(target string, r model.Record) {
	e.write(Event{Type: "record", Target: target, Record: &r})
}

// OnAlert implements Emitter.
func (e *JSONLines) OnAlert(target string, r model.Record, thresholdMs float64) {
	e.write(Event{Type: "alert", Target: target, Record: &r, Threshold: thresholdMs})
}

// OnStatusChange implements Emitter.
func (e *JSONLines) OnStatusChange(target string, old, new Status) {
	e.write(Event{Type: "status", Target: target, OldStatus: old, Status: new})
}

// OnError implements Emitter.
func (e *JSONLines) OnError(target string, err error) {
	e.write(Event{Type: "error", Target: target, Error: err.Error()})
}

// OnComplete implements Emitter.
func (e *JSONLines) OnComplete(target string, s model.Summary) {
	e.write(Event{Type: "complete", Target: target, Summary: &s})
}

// OnDebug implements Emitter.
func (e *JSONLines) OnDebug(msg string) {}

// Multi forwards every event to all of its Emitters, in order.
type Multi []Emitter

// OnStart implements Emitter.
func (m Multi) OnStart(id, target string) {
	for _, e := range m {
		e.OnStart(id, target)
	}
}

// OnRecord implements Emitter.
func (m Multi) OnRecord(target string, r model.Record) {
	for _, e := range m {
		e.OnRecord(target, r)
	}
}

// OnAlert implements Emitter.
func (m Multi) OnAlert(target string, r model.Record, thresholdMs float64) {
	for _, e := range m {
		e.OnAlert(target, r, thresholdMs)
	}
}

// OnStatusChange implements Emitter.
func (m Multi) OnStatusChange(target string, old, new Status) {
	for _, e := range m {
		e.OnStatusChange(target, old, new)
	}
}

// OnError implements Emitter.
func (m Multi) OnError(target string, err error) {
	for _, e := range m {
		e.OnError(target, err)
	}
}

// OnComplete implements Emitter.
func (m Multi) OnComplete(target string, s model.Summary) {
	for _, e := range m {
		e.OnComplete(target, s)
	}
}

// OnDebug implements Emitter.
func (m Multi) OnDebug(msg string) {
	for _, e := range m {
		e.OnDebug(msg)
	}
}

// Checks that the emitters implement Emitter.
var (
	_ Emitter = &HumanReadable{}
	_ Emitter = &JSONLines{}
	_ Emitter = Multi{}
)
