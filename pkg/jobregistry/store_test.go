package jobregistry

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestStore_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := &JobRecord{
		JobID:          "job-1",
		Project:        "ProjectA",
		Scheduler:      "torque",
		SchedulerJobID: "12345[]",
		State:          JobStateSubmitted,
		ScriptPath:     "/run/QCJob_1.sh",
		TablePath:      "/run/split_file_ProjectA.array-details",
		Tasks:          2,
		Concurrency:    2,
		CreatedAt:      now,
		SubmittedAt:    &now,
	}

	if err := s.Write(rec); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Project != rec.Project {
		t.Fatalf("project mismatch: got=%q want=%q", got.Project, rec.Project)
	}
	if got.State != rec.State {
		t.Fatalf("state mismatch: got=%q want=%q", got.State, rec.State)
	}
	if got.Tasks != 2 || got.SchedulerJobID != "12345[]" {
		t.Fatalf("array job fields not persisted: %+v", got)
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	if err := s.Write(&JobRecord{JobID: "job-1", Project: "A", State: JobStateRunning, CreatedAt: t1, SubmittedAt: &t1}); err != nil {
		t.Fatalf("Write job-1: %v", err)
	}
	if err := s.Write(&JobRecord{JobID: "job-2", Project: "B", State: JobStateRunning, CreatedAt: t2, SubmittedAt: &t2}); err != nil {
		t.Fatalf("Write job-2: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].JobID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].JobID)
	}
}

func TestStore_UpdateAndFindBySchedulerID(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	if err := s.Write(&JobRecord{JobID: "job-1", Project: "A", SchedulerJobID: "77", State: JobStateSubmitted, CreatedAt: now}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	updated, err := s.Update("job-1", func(r *JobRecord) {
		r.State = JobStateFailed
		r.FailedTasks = []int{2}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.State != JobStateFailed {
		t.Fatalf("state not updated: %q", updated.State)
	}

	found, err := s.FindBySchedulerID("77")
	if err != nil {
		t.Fatalf("FindBySchedulerID: %v", err)
	}
	if found.JobID != "job-1" || len(found.FailedTasks) != 1 || found.FailedTasks[0] != 2 {
		t.Fatalf("unexpected record: %+v", found)
	}

	if _, err := s.FindBySchedulerID("nope"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestJobState_Terminal(t *testing.T) {
	for _, st := range []JobState{JobStateSuccess, JobStateFailed, JobStateCancelled} {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	for _, st := range []JobState{JobStateSubmitted, JobStateQueued, JobStateRunning, JobStateUnknown} {
		if st.Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
}
