package monitor

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/m-lab/netqual/internal/persistence"
	"github.com/m-lab/netqual/pkg/netqual/model"
	"github.com/m-lab/netqual/pkg/version"
)

// Datatype is the datatype of the archives written by Archiver.
const Datatype = "netqual"

// Archiver collects the records of each monitored target and writes them to
// DataDir as a model.ArchivalData when monitoring of the target completes.
type Archiver struct {
	DataDir string

	mu   sync.Mutex
	runs map[string]*model.ArchivalData
	// written holds the paths of the files written so far.
	written []string
}

// NewArchiver returns an Archiver writing under dir.
func NewArchiver(dir string) *Archiver {
	return &Archiver{
		DataDir: dir,
		runs:    map[string]*model.ArchivalData{},
	}
}

// OnStart starts collecting records for target.
func (a *Archiver) OnStart(id, target string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs[target] = &model.ArchivalData{
		GitShortCommit: version.GitShortCommit,
		Version:        version.Version,
		ID:             id,
		Target:         target,
		StartTime:      time.Now(),
	}
}

// OnRecord appends r to the target's archive.
func (a *Archiver) OnRecord(target string, r model.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if run, ok := a.runs[target]; ok {
		run.Records = append(run.Records, r)
	}
}

// OnComplete writes the target's archive to disk. The archived summary covers
// the archived records.
func (a *Archiver) OnComplete(target string, _ model.Summary) {
	a.mu.Lock()
	run, ok := a.runs[target]
	delete(a.runs, target)
	a.mu.Unlock()
	if !ok {
		return
	}
	run.EndTime = time.Now()
	run.Summary = model.Summarize(run.Records)
	df, err := persistence.WriteDataFile(a.DataDir, Datatype, "", run.ID, run)
	if err != nil {
		log.Error("failed to write archive", "id", run.ID, "target", target, "error", err)
		return
	}
	log.Debug("Archive written", "id", run.ID, "path", df.Path, "size", df.Size)
	a.mu.Lock()
	a.written = append(a.written, df.Path)
	a.mu.Unlock()
}

// Written returns the paths of the archives written so far.
func (a *Archiver) Written() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.written...)
}

func (a *Archiver) OnAlert(target string, r model.Record, thresholdMs float64) {}
func (a *Archiver) OnStatusChange(target string, old, new Status) {}
func (a *Archiver) OnError(target string, err error) {}
func (a *Archiver) OnDebug(msg string) {}

var _ Emitter = &Archiver{}
