package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	TouchJob(id string) error
	RequeueStaleJobs(cutoff time.Time) (int, error)
}

// Executor runs one analysis for a media id.
type Executor interface {
	Execute(ctx context.Context, mediaID string) error
}

type WorkerOptions struct {
	// Concurrency is the number of jobs processed in parallel. Defaults to 4.
	Concurrency int
	// PollInterval is the idle wait between empty claims. Defaults to 500ms.
	PollInterval time.Duration
	// LeaseTimeout is how long a running job may go without a heartbeat
	// before it is treated as orphaned and re-queued. Defaults to 15m.
	// Job timestamps have second precision, so values under a few seconds
	// are not meaningful.
	LeaseTimeout time.Duration
}

// Worker drains analyze_media jobs from the SQLite queue with a bounded pool.
type Worker struct {
	store  JobStore
	exec   Executor
	opts   WorkerOptions
	logger *slog.Logger
}

func NewWorker(store JobStore, exec Executor, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 15 * time.Minute
	}
	return &Worker{
		store:  store,
		exec:   exec,
		opts:   opts,
		logger: slog.Default().With("component", "worker"),
	}
}

// Recover re-queues every job still marked running. Call it once at startup,
// before Run, when no other process owns the queue.
func (w *Worker) Recover() (int, error) {
	return w.requeue(time.Now())
}

func (w *Worker) requeue(cutoff time.Time) (int, error) {
	n, err := w.store.RequeueStaleJobs(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsRecovered.Add(float64(n))
		w.logger.Warn("re-queued orphaned analysis jobs", "count", n)
	}
	return n, nil
}

// Run processes jobs until ctx is cancelled. It also re-queues jobs whose
// lease expired while the process was running.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(max(w.opts.LeaseTimeout/2, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.requeue(time.Now().Add(-w.opts.LeaseTimeout)); err != nil {
					w.logger.Error("lease sweep failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce claims and processes a single analyze_media job.
// Returns true if a job was claimed (regardless of outcome).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypeAnalyzeMedia})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	stop := w.heartbeat(ctx, job.ID)
	err = w.processJob(ctx, job)
	stop()

	if err != nil {
		if ctx.Err() != nil {
			// Left running on purpose; Recover picks it up on next start.
			w.logger.Info("job interrupted by shutdown", "job_id", job.ID)
			return true, nil
		}
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.MediaID == "" {
		return fmt.Errorf("job %s has no media_id", job.ID)
	}
	return w.exec.Execute(ctx, payload.MediaID)
}

// heartbeat refreshes the job's lease every third of LeaseTimeout until the
// returned stop func is called. A job under execution is never stale.
func (w *Worker) heartbeat(ctx context.Context, jobID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(w.opts.LeaseTimeout/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.store.TouchJob(jobID); err != nil {
					w.logger.Warn("job heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
