package storage

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("applied migrations changed across opens: %v -> %v", v1, v2)
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql":  {Data: []byte("SELECT 10;")},
		"migrations/002_second.sql": {Data: []byte("SELECT 2;")},
		"migrations/README.md":      {Data: []byte("ignored")},
	}
	got, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(got) != 2 || got[0].version != 2 || got[1].version != 10 {
		t.Errorf("migrations = %+v, want versions [2 10]", got)
	}

	fsys["migrations/002_clash.sql"] = &fstest.MapFile{Data: []byte("SELECT 2;")}
	if _, err := loadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "share version 2") {
		t.Errorf("loadMigrations(duplicate) = %v, want version clash", err)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.DB().Exec(`INSERT INTO schema_version (version) VALUES (999)`); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := Open(dir); err == nil || !strings.Contains(err.Error(), "newer than this binary") {
		t.Errorf("Open = %v, want newer-schema error", err)
	}
}

func TestTablesExist(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"subjects", "media", "jobs", "template_revisions", "reports"} {
		var name string
		err := s.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j-1", Type: JobTypeAnalyzeMedia, PayloadJSON: `{"media_id":"m-1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-1" || got.Status != "running" {
		t.Errorf("claimed %+v, want j-1 running", got)
	}
	if got.MaxAttempts != defaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", got.MaxAttempts, defaultMaxAttempts)
	}

	again, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-future",
		Type:        JobTypeAnalyzeMedia,
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.Type != "b" {
		t.Fatalf("ClaimNextJob = %+v, want type b", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-1", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.CompleteJob("j-1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.CompleteJob("missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}

	counts, err := s.JobCounts()
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts["completed"] != 1 {
		t.Errorf("completed = %d, want 1", counts["completed"])
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-1", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j-1", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, runAfter, lastError string
	var attempts int
	if err := s.DB().QueryRow(`SELECT status, attempts, run_after, last_error FROM jobs WHERE id = 'j-1'`).
		Scan(&status, &attempts, &runAfter, &lastError); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "boom" {
		t.Errorf("after first failure: status=%s attempts=%d last_error=%q", status, attempts, lastError)
	}
	ra, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatalf("parse run_after: %v", err)
	}
	if ra.Before(before.Add(time.Second)) {
		t.Errorf("run_after %v not pushed back by backoff", ra)
	}

	if err := s.FailJob("j-1", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.DB().QueryRow(`SELECT status FROM jobs WHERE id = 'j-1'`).Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %s, want failed after max attempts", status)
	}
}

func TestFailJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.FailJob("nope", "x"); err != ErrNotFound {
		t.Errorf("FailJob = %v, want ErrNotFound", err)
	}
}

func TestTouchJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-1", Type: JobTypeAnalyzeMedia, PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.TouchJob("j-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchJob(pending) = %v, want ErrNotFound", err)
	}
	if _, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	// Age the lease, then refresh it.
	old := formatTime(time.Now().Add(-time.Hour))
	if _, err := s.DB().Exec(`UPDATE jobs SET updated_at = ? WHERE id = 'j-1'`, old); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchJob("j-1"); err != nil {
		t.Fatalf("TouchJob(running): %v", err)
	}
	n, err := s.RequeueStaleJobs(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleJobs: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued %d jobs after heartbeat, want 0", n)
	}
	if err := s.TouchJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestRequeueStaleJobs(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-1", Type: JobTypeAnalyzeMedia, PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	n, err := s.RequeueStaleJobs(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RequeueStaleJobs: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued %d fresh jobs, want 0", n)
	}

	n, err = s.RequeueStaleJobs(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("RequeueStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d jobs, want 1", n)
	}

	got, err := s.ClaimNextJob([]string{JobTypeAnalyzeMedia})
	if err != nil {
		t.Fatalf("ClaimNextJob after requeue: %v", err)
	}
	if got == nil || got.ID != "j-1" {
		t.Errorf("requeued job not claimable: %+v", got)
	}
}
