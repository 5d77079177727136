package model

import (
	"time"
)

// ArchivalData is the archival data format for a monitoring run against a
// single target.
type ArchivalData struct {
	// GitShortCommit is the Git commit (short form) of the running code.
	GitShortCommit string
	// Version is the symbolic version (if any) of the running code.
	Version string

	// ID is the unique identifier of the session that produced the records.
	ID string
	// Target is the URL being measured.
	Target string

	// StartTime is the run's start time.
	StartTime time.Time
	// EndTime is the run's end time.
	EndTime time.Time

	// Records contains every cycle's Record, in completion order.
	Records []Record

	// Summary summarizes Records.
	Summary Summary
}

// Summary is an aggregate view over a list of records.
type Summary struct {
	// Cycles is the number of records.
	Cycles int
	// Successful is the number of successful records.
	Successful int
	// AvgLatencyMs is the mean latency of successful records.
	AvgLatencyMs float64
	// AvgQualityScore is the mean connection quality score of successful
	// records.
	AvgQualityScore float64
	// AvgMOS is the mean MOS of successful records.
	AvgMOS float64
	// AvgPacketLossPct is the mean packet loss of successful records.
	AvgPacketLossPct float64
}

// Add updates the summary with r. Averages are running means over the
// successful records seen so far.
func (s *Summary) Add(r Record) {
	s.Cycles++
	if !r.Successful {
		return
	}
	s.Successful++
	n := float64(s.Successful)
	s.AvgLatencyMs += (r.LatencyMs - s.AvgLatencyMs) / n
	s.AvgQualityScore += (r.ConnectionQualityScore - s.AvgQualityScore) / n
	s.AvgMOS += (r.MOS - s.AvgMOS) / n
	s.AvgPacketLossPct += (r.PacketLossPct - s.AvgPacketLossPct) / n
}

// Summarize returns a Summary for the given records. Failed records only
// count towards Cycles.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		s.Add(r)
	}
	return s
}
