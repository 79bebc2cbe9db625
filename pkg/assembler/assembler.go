// Package assembler turns independently-arriving upload chunks into one
// correctly-ordered media file, exactly once.
//
// Each job owns a private scratch subdirectory (named by job id) holding one
// file per received chunk index, so concurrent jobs never contend on the
// same files. Reassembly writes to a temp file and renames it into the media
// directory, so a partial failure never leaves a truncated file visible
// under its final name.
package assembler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signagekit/transferd/pkg/jobstore"
)

var (
	// ErrInvalidChunk is returned for a chunk index outside the declared
	// range, a non-positive chunk count, or a chunk for a job that is not
	// accepting chunks.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrDestinationExists is returned (and recorded on the job) when the
	// reassembly target is already present.
	ErrDestinationExists = errors.New("destination file already exists")
)

// Assembler reassembles chunked uploads.
type Assembler struct {
	store       *jobstore.Store
	scratchRoot string
	mediaDir    string
	allowed     []string
	log         *zap.Logger

	mu         sync.Mutex
	assembling map[string]bool
}

// New builds an Assembler. allowedPatterns are doublestar globs matched
// case-insensitively against sanitized filenames; empty means allow all.
func New(store *jobstore.Store, scratchRoot, mediaDir string, allowedPatterns []string, log *zap.Logger) *Assembler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Assembler{
		store:       store,
		scratchRoot: scratchRoot,
		mediaDir:    mediaDir,
		allowed:     allowedPatterns,
		log:         log,
		assembling:  make(map[string]bool),
	}
}

// ScratchDir returns the per-job chunk scratch directory.
func (a *Assembler) ScratchDir(jobID string) string {
	return filepath.Join(a.scratchRoot, jobID)
}

// RemoveScratch deletes a job's scratch directory. Idempotent.
func (a *Assembler) RemoveScratch(jobID string) error {
	return os.RemoveAll(a.ScratchDir(jobID))
}

// BeginOrResume registers an upload job, or returns the existing record
// untouched when the id is already known. An empty jobID generates one.
func (a *Assembler) BeginOrResume(jobID string, totalChunks int, filename string) (*jobstore.Job, error) {
	if jobID != "" {
		if job, err := a.store.Get(jobID); err == nil {
			return job, nil
		} else if !errors.Is(err, jobstore.ErrNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.New().String()
	}

	if totalChunks < 1 {
		return nil, fmt.Errorf("%w: total chunks must be at least 1, got %d", ErrInvalidChunk, totalChunks)
	}

	safeName, err := SanitizeFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilename, err)
	}
	if err := a.checkAllowed(safeName); err != nil {
		return nil, err
	}

	job := &jobstore.Job{
		ID:          jobID,
		Kind:        jobstore.KindUpload,
		Status:      jobstore.StatusPending,
		CreatedAt:   time.Now().UTC(),
		Filename:    safeName,
		TotalChunks: totalChunks,
	}
	if err := a.store.Create(job); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.ScratchDir(jobID), 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	a.log.Info("upload job registered",
		zap.String("job_id", jobID),
		zap.String("filename", safeName),
		zap.Int("total_chunks", totalChunks))
	return job, nil
}

func (a *Assembler) checkAllowed(filename string) error {
	if len(a.allowed) == 0 {
		return nil
	}
	lower := strings.ToLower(filename)
	for _, pattern := range a.allowed {
		ok, err := doublestar.Match(strings.ToLower(pattern), lower)
		if err != nil {
			return fmt.Errorf("invalid allowed pattern %q: %w", pattern, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %q does not match any allowed media pattern", ErrInvalidFilename, filename)
}

// ReceiveChunk stores one chunk and triggers reassembly when the last
// missing chunk arrives. Storing the same index twice is idempotent, which
// supports client retry of a single chunk. A duplicate final chunk after
// completion is a no-op returning the completed job.
func (a *Assembler) ReceiveChunk(jobID string, index int, r io.Reader) (*jobstore.Job, error) {
	job, err := a.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Kind != jobstore.KindUpload {
		return nil, fmt.Errorf("%w: job %s is not an upload", ErrInvalidChunk, jobID)
	}
	if job.Status == jobstore.StatusCompleted {
		return job, nil
	}
	if job.Status == jobstore.StatusFailed {
		return nil, fmt.Errorf("%w: job %s already failed", ErrInvalidChunk, jobID)
	}
	if index < 0 || index >= job.TotalChunks {
		return nil, fmt.Errorf("%w: index %d outside range [0,%d)", ErrInvalidChunk, index, job.TotalChunks)
	}

	a.mu.Lock()
	if a.assembling[jobID] {
		// Reassembly already in flight for this job; the chunk is a retry
		// of bytes we have.
		a.mu.Unlock()
		return job, nil
	}
	a.mu.Unlock()

	if err := a.writeChunk(jobID, index, r); err != nil {
		return nil, err
	}

	received, byteSize, err := a.scanScratch(jobID)
	if err != nil {
		return nil, err
	}

	job, err = a.store.Update(jobID, func(j *jobstore.Job) {
		j.Status = jobstore.StatusActive
		j.ReceivedChunks = received
		j.ByteSize = byteSize
		j.Progress = 100 * float64(received) / float64(j.TotalChunks)
	})
	if err != nil {
		return nil, err
	}

	if job.ReceivedChunks == job.TotalChunks {
		return a.finish(job)
	}
	return job, nil
}

// finish runs reassembly exactly once per job even under duplicate last
// chunk requests racing each other.
func (a *Assembler) finish(job *jobstore.Job) (*jobstore.Job, error) {
	a.mu.Lock()
	if a.assembling[job.ID] {
		a.mu.Unlock()
		return job, nil
	}
	a.assembling[job.ID] = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.assembling, job.ID)
		a.mu.Unlock()
	}()

	// Re-read under the guard: a racing duplicate may already have finished.
	current, err := a.store.Get(job.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}

	destPath, err := a.assemble(current)
	now := time.Now()
	if err != nil {
		a.log.Warn("reassembly failed", zap.String("job_id", job.ID), zap.Error(err))
		reason := err.Error()
		if errors.Is(err, ErrDestinationExists) {
			reason = jobstore.ReasonDestinationExists
		}
		current, uerr := a.store.Update(job.ID, func(j *jobstore.Job) {
			j.MarkFailed(reason, now)
		})
		if uerr != nil {
			return nil, uerr
		}
		_ = a.RemoveScratch(job.ID)
		return current, nil
	}

	current, err = a.store.Update(job.ID, func(j *jobstore.Job) {
		j.MarkCompleted(destPath, now)
	})
	if err != nil {
		return nil, err
	}
	_ = a.RemoveScratch(job.ID)

	a.log.Info("upload reassembled",
		zap.String("job_id", job.ID),
		zap.String("result_path", destPath),
		zap.Int64("byte_size", current.ByteSize))
	return current, nil
}

// assemble concatenates all chunks in index order into the destination.
func (a *Assembler) assemble(job *jobstore.Job) (string, error) {
	destPath := filepath.Join(a.mediaDir, job.Filename)
	if _, err := os.Stat(destPath); err == nil {
		return "", ErrDestinationExists
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat destination: %w", err)
	}

	if err := os.MkdirAll(a.mediaDir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(a.mediaDir, ".assemble-*")
	if err != nil {
		return "", fmt.Errorf("create temp destination: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	for i := 0; i < job.TotalChunks; i++ {
		part, err := os.Open(a.chunkPath(job.ID, i))
		if err != nil {
			_ = tmp.Close()
			// Should be impossible given the counting invariant; defend
			// against filesystem races rather than emit a truncated file.
			return "", fmt.Errorf("chunk %d missing from scratch: %w", i, err)
		}
		if _, err := io.Copy(tmp, part); err != nil {
			_ = part.Close()
			_ = tmp.Close()
			return "", fmt.Errorf("copy chunk %d: %w", i, err)
		}
		_ = part.Close()
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync destination: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close destination: %w", err)
	}

	if _, err := os.Stat(destPath); err == nil {
		return "", ErrDestinationExists
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return destPath, nil
}

func (a *Assembler) chunkPath(jobID string, index int) string {
	return filepath.Join(a.ScratchDir(jobID), fmt.Sprintf("%05d.part", index))
}

// writeChunk stores one chunk via temp file + rename so a retried chunk
// replaces its predecessor atomically.
func (a *Assembler) writeChunk(jobID string, index int, r io.Reader) error {
	dir := a.ScratchDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "chunk-*")
	if err != nil {
		return fmt.Errorf("create chunk temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chunk temp: %w", err)
	}
	if err := os.Rename(tmpName, a.chunkPath(jobID, index)); err != nil {
		return fmt.Errorf("store chunk %d: %w", index, err)
	}
	return nil
}

// scanScratch recounts received chunks from disk so the count survives a
// process restart mid-upload.
func (a *Assembler) scanScratch(jobID string) (int, int64, error) {
	entries, err := os.ReadDir(a.ScratchDir(jobID))
	if err != nil {
		return 0, 0, fmt.Errorf("read scratch dir: %w", err)
	}
	count := 0
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		total += info.Size()
	}
	return count, total, nil
}
