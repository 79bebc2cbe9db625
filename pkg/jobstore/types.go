package jobstore

import "time"

// Kind distinguishes the two transfer job flavors.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindUpload || k == KindDownload
}

// Status is the lifecycle state of a job. Transitions only move forward:
// pending -> active -> {completed|failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Canonical failure reasons recorded in Job.Error. Subprocess failures carry
// the captured downloader output verbatim instead.
const (
	ReasonDestinationExists = "DestinationExists"
	ReasonInvalidSource     = "InvalidSource"
	ReasonCancelled         = "Cancelled"
)

// Job is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Job struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"kind"`
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`

	// Seq is a strictly increasing insertion counter used as the FIFO
	// tie-break when created_at timestamps collide.
	Seq uint64 `json:"seq"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Exactly one of ResultPath and Error is populated once terminal.
	ResultPath string `json:"result_path,omitempty"`
	Error      string `json:"error,omitempty"`

	// Upload-only fields.
	Filename       string `json:"filename,omitempty"`
	TotalChunks    int    `json:"total_chunks,omitempty"`
	ReceivedChunks int    `json:"received_chunks,omitempty"`
	ByteSize       int64  `json:"byte_size,omitempty"`

	// Download-only fields.
	SourceURL string `json:"source_url,omitempty"`
	Quality   string `json:"quality,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (j *Job) Clone() *Job {
	out := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// MarkFailed moves the job to its failed terminal state.
func (j *Job) MarkFailed(reason string, now time.Time) {
	j.Status = StatusFailed
	j.Error = reason
	j.ResultPath = ""
	t := now.UTC()
	j.CompletedAt = &t
}

// MarkCompleted moves the job to its completed terminal state.
func (j *Job) MarkCompleted(resultPath string, now time.Time) {
	j.Status = StatusCompleted
	j.ResultPath = resultPath
	j.Error = ""
	j.Progress = 100
	t := now.UTC()
	j.CompletedAt = &t
}
