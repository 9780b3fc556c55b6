// Package async runs index work in the background while the server answers
// requests, and reports its progress.
package async

import (
	"sync"
	"time"
)

// ScanStatus is the overall state of a background run.
type ScanStatus string

const (
	StatusRunning ScanStatus = "running"
	StatusReady   ScanStatus = "ready"
	StatusError   ScanStatus = "error"
)

// Stage is the current phase of a background run.
type Stage string

const (
	// StageScanning lists candidate documents.
	StageScanning Stage = "scanning"
	// StageIndexing feeds stale documents to the lifecycle manager.
	StageIndexing Stage = "indexing"
)

// ProgressSnapshot is an immutable copy of a run's progress.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	Dir            string  `json:"dir,omitempty"`
	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	Indexed        int     `json:"indexed"`
	UpToDate       int     `json:"up_to_date"`
	Failed         int     `json:"failed"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress tracks a background run. It is safe for concurrent use.
type Progress struct {
	mu sync.RWMutex

	status         ScanStatus
	stage          Stage
	dir            string
	filesTotal     int
	filesProcessed int
	indexed        int
	upToDate       int
	failed         int
	startTime      time.Time
	errorMessage   string
}

// NewProgress returns a tracker in the scanning stage.
func NewProgress() *Progress {
	return &Progress{
		status:    StatusRunning,
		stage:     StageScanning,
		startTime: time.Now(),
	}
}

// SetDir records the directory being caught up.
func (p *Progress) SetDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = dir
}

// SetStage moves to stage with total files to process.
func (p *Progress) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.filesTotal = total
	p.filesProcessed = 0
}

// FileIndexed counts a file that was (re)indexed.
func (p *Progress) FileIndexed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesProcessed++
	p.indexed++
}

// FileUpToDate counts a file whose index state was already current.
func (p *Progress) FileUpToDate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesProcessed++
	p.upToDate++
}

// FileFailed counts a file that could not be indexed.
func (p *Progress) FileFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filesProcessed++
	p.failed++
}

// SetError marks the run as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the run as complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
}

// IsRunning reports whether the run is still in progress.
func (p *Progress) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusRunning
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var pct float64
	if p.filesTotal > 0 {
		pct = float64(p.filesProcessed) / float64(p.filesTotal) * 100.0
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		Dir:            p.dir,
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		Indexed:        p.indexed,
		UpToDate:       p.upToDate,
		Failed:         p.failed,
		ProgressPct:    pct,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
