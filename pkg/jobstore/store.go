// Package jobstore persists transfer job records on disk.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//
// Every mutation is durable before the call returns: records are written to
// a temp file in the job directory and renamed into place, so a crash mid
// write never yields a half-written record.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a job id.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID is returned by Create when the id is already taken.
	ErrDuplicateID = errors.New("job id already exists")
)

// Store persists and loads Jobs from an on-disk directory.
//
// Store-level operations are safe under concurrent access from multiple
// jobs. A given job has a single writer by contract (the component driving
// it), but Update still serializes through the store mutex so concurrent
// updates to different jobs never corrupt each other.
type Store struct {
	root string

	mu  sync.Mutex
	seq uint64
}

// NewStore opens (creating if needed) a store rooted at root and resumes the
// insertion counter from the highest persisted sequence number.
func NewStore(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("job store root dir is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create job store root: %w", err)
	}

	s := &Store{root: root}
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Seq > s.seq {
			s.seq = j.Seq
		}
	}
	return s, nil
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) jobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

// Create inserts a new record, assigning its sequence number.
func (s *Store) Create(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if !job.Kind.Valid() {
		return fmt.Errorf("invalid job kind %q", job.Kind)
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.jobPath(job.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
	}

	s.seq++
	job.Seq = s.seq
	return s.write(job)
}

// Get loads a single record. Kind and status are validated on read so a
// corrupt or hand-edited record never leaks into the rest of the system.
func (s *Store) Get(jobID string) (*Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	return s.read(jobID)
}

func (s *Store) read(jobID string) (*Job, error) {
	b, err := os.ReadFile(s.jobPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("read job record: %w", err)
	}

	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("parse job.json for %s: %w", jobID, err)
	}
	if !job.Kind.Valid() {
		return nil, fmt.Errorf("job %s has invalid kind %q", jobID, job.Kind)
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s has invalid status %q", jobID, job.Status)
	}
	return &job, nil
}

// List returns all readable records, newest first (created_at descending,
// sequence number as tie-break). Unreadable entries are skipped.
func (s *Store) List() ([]Job, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job store root: %w", err)
	}

	out := make([]Job, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		j, err := s.read(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *j)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// Update applies a mutation to the stored record and persists it.
//
// Two rules are enforced here rather than trusted to callers: terminal
// records are immutable (the mutation is skipped and the current record
// returned), and progress never moves backward, which makes out-of-order
// delivery of two progress updates harmless.
func (s *Store) Update(jobID string, apply func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.read(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	prev := *job
	apply(job)

	job.ID = prev.ID
	job.Kind = prev.Kind
	job.Seq = prev.Seq
	job.CreatedAt = prev.CreatedAt
	if job.Progress < prev.Progress {
		job.Progress = prev.Progress
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("update for job %s produced invalid status %q", jobID, job.Status)
	}

	if err := s.write(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes the record. Deleting a missing id is not an error.
func (s *Store) Delete(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// PruneOlderThan deletes terminal records whose completion time is older
// than maxAge and reports how many were removed.
func (s *Store) PruneOlderThan(maxAge time.Duration) (int, error) {
	jobs, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, j := range jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.Delete(j.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) write(job *Job) error {
	jobDir := s.JobDir(job.ID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.jobPath(job.ID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}
