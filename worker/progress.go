package worker

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints a single-line progress report for long running
// batch work such as a namespace wipe or a reembed.
type ProgressTracker struct {
	writer         io.Writer
	label          string
	total          int64
	current        int64
	reportInterval int64
	lastReported   int64
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

// NewProgressTracker reports to writer every reportInterval items.
func NewProgressTracker(writer io.Writer, label string, total, reportInterval int64) *ProgressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{
		writer:         writer,
		label:          label,
		total:          total,
		reportInterval: reportInterval,
	}
}

// Start begins tracking.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.lastReported = 0
}

// SetTotal changes the total, e.g. when an entry's scope is recounted.
func (p *ProgressTracker) SetTotal(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

// Update sets the absolute progress.
func (p *ProgressTracker) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.current = min(current, p.total)
	p.maybeReport()
}

// Increment adds delta to the progress.
func (p *ProgressTracker) Increment(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.current = min(p.current+delta, p.total)
	p.maybeReport()
}

// Finish reports completion and ends the line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed is the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

func (p *ProgressTracker) maybeReport() {
	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	elapsed := time.Since(p.startTime)
	rate := float64(p.current) / elapsed.Seconds()

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.writer, "\r%s: %d/%d (%.1f%%) - %.1f items/s",
		p.label, p.current, p.total, percentage, rate)
}
