package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"igcrawler/pkg/models"
)

const (
	ProgressBar   = "━"
	ProgressEmpty = "─"
)

// CrawlProgress keeps a running tally of a crawl and renders it as a single
// status line
type CrawlProgress struct {
	mu         sync.Mutex
	out        io.Writer
	startTime  time.Time
	done       int
	failed     int
	discovered int
	last       string
	isDebug    bool
	drained    bool

	open, capacity, queued int
}

// NewCrawlProgress creates a tracker writing to out
func NewCrawlProgress(out io.Writer, debug bool) *CrawlProgress {
	return &CrawlProgress{
		out:       out,
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// RecordAppended updates the tally with rec and redraws the status line.
// In debug mode every record gets its own line instead.
func (p *CrawlProgress) RecordAppended(rec models.ProfileRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if rec.Failed {
		p.failed++
	}
	p.discovered += len(rec.Discovered)
	p.last = rec.Username

	if p.isDebug {
		fmt.Fprintf(p.out, "\n%s", FormatRecord(rec))
		return
	}
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), p.lineLocked(p.open, p.capacity, p.queued))
}

// Drained marks the crawl as finished
func (p *CrawlProgress) Drained() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = true
}

// Update redraws the status line with the scheduler's current load
func (p *CrawlProgress) Update(open, capacity, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open, p.capacity, p.queued = open, capacity, queued
	if p.isDebug {
		return
	}
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), p.lineLocked(open, capacity, queued))
}

// Line returns the status line without printing it
func (p *CrawlProgress) Line(open, capacity, queued int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lineLocked(open, capacity, queued)
}

func (p *CrawlProgress) lineLocked(open, capacity, queued int) string {
	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed.Minutes() > 0 {
		rate = float64(p.done) / elapsed.Minutes()
	}

	line := fmt.Sprintf("%s %d crawled • %.1f/min", Cyan("[CRAWLING]"), p.done, rate)
	if capacity > 0 {
		line += fmt.Sprintf(" • tabs %s", tabBar(open, capacity))
	}
	if queued > 0 {
		line += fmt.Sprintf(" • %d queued", queued)
	}
	if p.last != "" {
		line += " • @" + p.last
	}
	if p.failed > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", p.failed))
	}
	return line
}

func tabBar(open, capacity int) string {
	if open > capacity {
		open = capacity
	}
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat(ProgressBar, open),
		strings.Repeat(ProgressEmpty, capacity-open),
		open, capacity)
}

// Complete prints the summary of the whole crawl
func (p *CrawlProgress) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	mark := Green("✓")
	if !p.drained {
		mark = Yellow("■")
	}
	fmt.Fprintf(p.out, "\n\n%s Crawled %d profiles in %s\n",
		mark,
		p.done,
		formatDuration(elapsed),
	)
	fmt.Fprintf(p.out, "  %s %d suggested profiles discovered\n", Dim("•"), p.discovered)
	if p.failed > 0 {
		fmt.Fprintf(p.out, "  %s %d extractions failed\n", Dim("•"), p.failed)
	}
}

// Counts returns the crawled and failed totals
func (p *CrawlProgress) Counts() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
