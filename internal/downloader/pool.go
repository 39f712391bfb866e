// Package downloader fetches the profile images of extracted profiles in
// the background.
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/ratelimit"
)

const queueSize = 64

// Job is one profile image to download
type Job struct {
	URL       string
	Username  string
	ProfileID string
}

// Result represents the result of a download job
type Result struct {
	Job      Job
	Success  bool
	Skipped  bool
	Error    error
	Duration time.Duration
	Size     int
}

// Fetcher downloads an image
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ImageStore stores images by username
type ImageStore interface {
	Has(username string) bool
	Save(r io.Reader, username string) error
}

// Stats counts finished jobs
type Stats struct {
	Downloaded int64
	Skipped    int64
	Failed     int64
}

// WorkerPool manages concurrent download workers
type WorkerPool struct {
	numWorkers  int
	timeout     time.Duration
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     Fetcher
	store       ImageStore
	rateLimiter ratelimit.Limiter
	logger      logger.Logger

	mu      sync.RWMutex
	stopped bool

	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
}

// NewWorkerPool creates a pool of numWorkers workers. Each job gets
// timeout to finish; zero means no per-job limit.
func NewWorkerPool(
	numWorkers int,
	timeout time.Duration,
	fetcher Fetcher,
	store ImageStore,
	rateLimiter ratelimit.Limiter,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		timeout:     timeout,
		jobQueue:    make(chan Job, queueSize),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		store:       store,
		rateLimiter: rateLimiter,
		logger:      log.WithField("component", "avatars"),
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting avatar workers", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop lets the workers finish the queued jobs, then closes Results.
// Results must be drained or Stop blocks.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.InfoWithFields("Avatar workers stopped", map[string]interface{}{
		"downloaded": wp.downloaded.Load(),
		"skipped":    wp.skipped.Load(),
		"failed":     wp.failed.Load(),
	})
}

// Abort cancels in-flight downloads and stops the pool
func (wp *WorkerPool) Abort() {
	wp.cancel()
	wp.Stop()
}

// Submit adds a job to the queue, waiting for room
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return fmt.Errorf("worker pool is shutting down")
	}

	select {
	case wp.jobQueue <- job:
		wp.logger.DebugWithFields("Avatar queued", map[string]interface{}{
			"username": job.Username,
		})
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// SubmitRecord queues the profile image of rec without blocking. It
// reports false when the record has no image, the image is already on disk
// or the queue is full.
func (wp *WorkerPool) SubmitRecord(rec models.ProfileRecord) bool {
	username := rec.Username
	if username == "" {
		username = models.UsernameFromURL(rec.ProfileID)
	}
	if rec.ProfileImageURL == "" || username == "" || wp.store.Has(username) {
		return false
	}

	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}

	select {
	case wp.jobQueue <- Job{URL: rec.ProfileImageURL, Username: username, ProfileID: rec.ProfileID}:
		return true
	default:
		wp.logger.WithField("username", username).Warn("Avatar queue full, skipping")
		return false
	}
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// Stats returns the job counters
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Downloaded: wp.downloaded.Load(),
		Skipped:    wp.skipped.Load(),
		Failed:     wp.failed.Load(),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if wp.store.Has(job.Username) {
		wp.skipped.Add(1)
		result.Success = true
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	ctx := wp.ctx
	if wp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.timeout)
		defer cancel()
	}

	if err := wp.rateLimiter.Wait(ctx); err != nil {
		wp.failed.Add(1)
		result.Error = fmt.Errorf("rate limit wait: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	data, err := wp.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		wp.failed.Add(1)
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.WarnWithFields("Avatar download failed", map[string]interface{}{
			"worker_id": workerID,
			"username":  job.Username,
			"error":     err.Error(),
		})
		return result
	}

	result.Size = len(data)
	if err := wp.store.Save(bytes.NewReader(data), job.Username); err != nil {
		wp.failed.Add(1)
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)

		wp.logger.ErrorWithFields("Avatar save failed", map[string]interface{}{
			"worker_id": workerID,
			"username":  job.Username,
			"error":     err.Error(),
		})
		return result
	}

	wp.downloaded.Add(1)
	result.Success = true
	result.Duration = time.Since(start)

	wp.logger.DebugWithFields("Avatar saved", map[string]interface{}{
		"worker_id": workerID,
		"username":  job.Username,
		"size":      result.Size,
		"duration":  result.Duration,
	})
	return result
}

// GetQueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}
