package jobstore

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return s
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{
		ID:          "job-1",
		Kind:        KindUpload,
		Status:      StatusPending,
		CreatedAt:   now,
		Filename:    "clip.mp4",
		TotalChunks: 3,
	}

	if err := s.Create(job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != "job-1" {
		t.Fatalf("id mismatch: got=%q", got.ID)
	}
	if got.Kind != KindUpload || got.Status != StatusPending {
		t.Fatalf("kind/status mismatch: got=%q/%q", got.Kind, got.Status)
	}
	if got.Seq == 0 {
		t.Fatal("expected sequence number to be assigned")
	}
}

func TestStore_CreateRejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)

	job := &Job{ID: "job-1", Kind: KindDownload, Status: StatusPending, CreatedAt: time.Now()}
	if err := s.Create(job); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	dup := &Job{ID: "job-1", Kind: KindDownload, Status: StatusPending, CreatedAt: time.Now()}
	err := s.Create(dup)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestStore_GetUnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)

	if err := s.Create(&Job{ID: "job-1", Kind: KindDownload, Status: StatusPending, CreatedAt: t1}); err != nil {
		t.Fatalf("Create job-1: %v", err)
	}
	if err := s.Create(&Job{ID: "job-2", Kind: KindDownload, Status: StatusPending, CreatedAt: t2}); err != nil {
		t.Fatalf("Create job-2: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].ID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].ID)
	}
}

func TestStore_ListBreaksTimestampTiesBySequence(t *testing.T) {
	s := newTestStore(t)

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Create(&Job{ID: id, Kind: KindDownload, Status: StatusPending, CreatedAt: at}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if got[0].ID != "c" || got[2].ID != "a" {
		t.Fatalf("expected insertion order ties broken by sequence, got %q,%q,%q", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStore_SequenceSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	if err := s.Create(&Job{ID: "job-1", Kind: KindDownload, Status: StatusPending, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reopened, err := NewStore(root)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if err := reopened.Create(&Job{ID: "job-2", Kind: KindDownload, Status: StatusPending, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create after reopen: %v", err)
	}

	j1, _ := reopened.Get("job-1")
	j2, _ := reopened.Get("job-2")
	if j2.Seq <= j1.Seq {
		t.Fatalf("sequence did not resume: j1=%d j2=%d", j1.Seq, j2.Seq)
	}
}

func TestStore_UpdateProgressIsMonotonic(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(&Job{ID: "dl", Kind: KindDownload, Status: StatusActive, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var observed []float64
	for _, pct := range []float64{10, 45, 30, 80} {
		job, err := s.Update("dl", func(j *Job) { j.Progress = pct })
		if err != nil {
			t.Fatalf("Update(%v) error: %v", pct, err)
		}
		observed = append(observed, job.Progress)
	}

	want := []float64{10, 45, 45, 80}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("progress sequence mismatch at %d: got=%v want=%v", i, observed, want)
		}
	}
}

func TestStore_TerminalRecordsAreImmutable(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(&Job{ID: "done", Kind: KindDownload, Status: StatusActive, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update("done", func(j *Job) { j.MarkCompleted("/media/out.mp4", time.Now()) }); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.Update("done", func(j *Job) {
		j.Status = StatusFailed
		j.Error = "late failure"
		j.Progress = 10
	})
	if err != nil {
		t.Fatalf("Update after terminal: %v", err)
	}
	if got.Status != StatusCompleted || got.Error != "" || got.ResultPath != "/media/out.mp4" {
		t.Fatalf("terminal record mutated: %+v", got)
	}
	if got.Progress != 100 {
		t.Fatalf("terminal progress mutated: %v", got.Progress)
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(&Job{ID: "gone", Kind: KindUpload, Status: StatusPending, CreatedAt: time.Now(), TotalChunks: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("second Delete() error: %v", err)
	}
	if _, err := s.Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_PruneOlderThan(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	if err := s.Create(&Job{ID: "old", Kind: KindDownload, Status: StatusActive, CreatedAt: old}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update("old", func(j *Job) { j.MarkFailed("boom", old) }); err != nil {
		t.Fatalf("fail old: %v", err)
	}
	if err := s.Create(&Job{ID: "live", Kind: KindDownload, Status: StatusActive, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create live: %v", err)
	}

	removed, err := s.PruneOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Get("live"); err != nil {
		t.Fatalf("live job should survive prune: %v", err)
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusActive, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Fatalf("Terminal(%q)=%v want %v", tt.status, got, tt.want)
		}
	}
}
