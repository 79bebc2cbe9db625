// Package admission bounds how many download subprocesses run at once.
//
// Submissions beyond the limit are always enqueued as pending rather than
// rejected; a queued job is promoted as soon as a running one reaches a
// terminal state. The promotion scan is triggered synchronously from the
// terminal-transition path, so a freed slot never sits idle while a queued
// job waits.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signagekit/transferd/pkg/downloader"
	"github.com/signagekit/transferd/pkg/jobstore"
)

// Runner executes the download work for one job and blocks until the job is
// terminal.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Controller admits download jobs up to a configured concurrency limit.
type Controller struct {
	store  *jobstore.Store
	runner Runner
	limit  int
	log    *zap.Logger

	// baseCtx bounds subprocess lifetimes to the daemon, not to the
	// submitting HTTP request.
	baseCtx context.Context

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup
}

// New builds a Controller. baseCtx cancellation terminates all running
// downloads.
func New(baseCtx context.Context, store *jobstore.Store, runner Runner, limit int, log *zap.Logger) (*Controller, error) {
	if limit < 1 {
		return nil, fmt.Errorf("concurrency limit must be at least 1, got %d", limit)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		baseCtx: baseCtx,
		store:   store,
		runner:  runner,
		limit:   limit,
		log:     log,
	}, nil
}

// Submit validates the URL, records the job, and either starts it
// immediately or leaves it queued as pending. It never blocks on subprocess
// completion. Validation failures are recorded on the job (InvalidSource)
// rather than returned as an error, so the caller always gets a job record.
func (c *Controller) Submit(url, quality string) (*jobstore.Job, error) {
	now := time.Now().UTC()
	job := &jobstore.Job{
		ID:        uuid.New().String(),
		Kind:      jobstore.KindDownload,
		Status:    jobstore.StatusPending,
		CreatedAt: now,
		SourceURL: url,
		Quality:   quality,
	}

	if err := downloader.ValidateURL(url); err != nil {
		job.MarkFailed(jobstore.ReasonInvalidSource, now)
		if cerr := c.store.Create(job); cerr != nil {
			return nil, cerr
		}
		c.log.Warn("download rejected", zap.String("job_id", job.ID), zap.Error(err))
		return job, nil
	}

	if err := c.store.Create(job); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active < c.limit {
		if err := c.startLocked(job.ID); err != nil {
			return nil, err
		}
	} else {
		c.log.Info("download queued",
			zap.String("job_id", job.ID),
			zap.Int("active", c.active),
			zap.Int("limit", c.limit))
	}

	return c.store.Get(job.ID)
}

// startLocked moves a job to active and hands it to the runner on its own
// goroutine. Caller holds c.mu.
func (c *Controller) startLocked(jobID string) error {
	if _, err := c.store.Update(jobID, func(j *jobstore.Job) {
		j.Status = jobstore.StatusActive
	}); err != nil {
		return err
	}
	c.active++

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.runner.Run(c.baseCtx, jobID); err != nil {
			c.log.Warn("download runner error", zap.String("job_id", jobID), zap.Error(err))
		}
		c.onTerminal()
	}()
	return nil
}

// onTerminal frees the slot and promotes queued jobs.
func (c *Controller) onTerminal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	c.promoteLocked()
}

// promoteLocked starts queued downloads oldest-first until the limit is
// reached. FIFO order is created_at ascending with the insertion sequence
// number breaking timestamp collisions.
func (c *Controller) promoteLocked() {
	for c.active < c.limit {
		next, ok := c.oldestPending()
		if !ok {
			return
		}
		if err := c.startLocked(next); err != nil {
			c.log.Warn("promote queued download", zap.String("job_id", next), zap.Error(err))
			return
		}
		c.log.Info("download promoted", zap.String("job_id", next))
	}
}

func (c *Controller) oldestPending() (string, bool) {
	jobs, err := c.store.List()
	if err != nil {
		c.log.Warn("scan for queued downloads", zap.Error(err))
		return "", false
	}

	// List is newest-first; walk backward for the oldest match.
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		if j.Kind == jobstore.KindDownload && j.Status == jobstore.StatusPending {
			return j.ID, true
		}
	}
	return "", false
}

// ActiveCount reports how many download subprocesses are currently admitted.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Recover reconciles store state after a restart: downloads recorded as
// active have no supervising process anymore and are failed, then any
// backlog of pending downloads is promoted into the freed slots.
func (c *Controller) Recover() error {
	jobs, err := c.store.List()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, j := range jobs {
		if j.Kind != jobstore.KindDownload || j.Status != jobstore.StatusActive {
			continue
		}
		if _, err := c.store.Update(j.ID, func(job *jobstore.Job) {
			job.MarkFailed("interrupted by restart", now)
		}); err != nil {
			return err
		}
		c.log.Warn("orphaned download failed on recovery", zap.String("job_id", j.ID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.promoteLocked()
	return nil
}

// Wait blocks until all admitted downloads have finished. Used on shutdown
// after cancelling the base context.
func (c *Controller) Wait() {
	c.wg.Wait()
}
