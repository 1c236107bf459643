package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

// Target is what an adapter needs to analyse one record.
type Target struct {
	MediaID     string
	StoragePath string
	ContentType string
}

// Adapter runs one provider against one media record.
type Adapter interface {
	Provider() Provider
	Model() string
	Analyze(ctx context.Context, t Target) (Payload, error)
}

// Downloader fetches raw media bytes from object storage.
type Downloader interface {
	Download(ctx context.Context, storagePath string) ([]byte, error)
}

// MediaStore is the slice of storage the orchestrator drives.
type MediaStore interface {
	GetMedia(id string) (storage.Media, error)
	BeginAnalysis(id, provider, model string, job storage.Job) (storage.Media, error)
	CompleteAnalysis(id string, payload []byte) error
	FailAnalysis(id, message, detail string) error
	ResetForRetry(id string) (storage.Media, error)
}

type jobPayload struct {
	MediaID string `json:"media_id"`
}

// Orchestrator owns the media analysis state machine. Trigger validates and
// advances a record to processing and enqueues the work; Execute runs the
// adapter for a processing record and persists its outcome.
type Orchestrator struct {
	store    MediaStore
	adapters map[storage.MediaType]Adapter
	logger   *slog.Logger
}

// NewOrchestrator wires adapters by the media type they serve.
func NewOrchestrator(store MediaStore, image, audio Adapter) *Orchestrator {
	return &Orchestrator{
		store: store,
		adapters: map[storage.MediaType]Adapter{
			storage.MediaImage: image,
			storage.MediaAudio: audio,
		},
		logger: slog.Default().With("component", "analysis"),
	}
}

// Trigger accepts a pending record for analysis. Precondition failures are
// returned as *Error with kind not_found, conflict, or invalid_state and
// leave the record untouched. Provider failures never surface here.
func (o *Orchestrator) Trigger(ctx context.Context, mediaID string) (storage.Media, error) {
	m, err := o.store.GetMedia(mediaID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.TriggersTotal.WithLabelValues("unknown", "not_found").Inc()
		return storage.Media{}, Errorf(KindNotFound, "media %s not found", mediaID)
	}
	if err != nil {
		return storage.Media{}, fmt.Errorf("loading media %s: %w", mediaID, err)
	}

	adapter, ok := o.adapters[m.Type]
	if !ok || adapter == nil {
		metrics.TriggersTotal.WithLabelValues(string(m.Type), "error").Inc()
		return storage.Media{}, Errorf(KindInvalidState, "no analysis provider for media type %s", m.Type)
	}

	payload, err := json.Marshal(jobPayload{MediaID: m.ID})
	if err != nil {
		return storage.Media{}, fmt.Errorf("marshalling job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobTypeAnalyzeMedia,
		PayloadJSON: string(payload),
	}

	started, err := o.store.BeginAnalysis(m.ID, string(adapter.Provider()), adapter.Model(), job)
	if err != nil {
		terr := classifyTransition(mediaID, err)
		metrics.TriggersTotal.WithLabelValues(string(m.Type), resultLabel(terr)).Inc()
		return storage.Media{}, terr
	}

	metrics.TriggersTotal.WithLabelValues(string(m.Type), "accepted").Inc()
	o.logger.Info("analysis accepted",
		"media_id", started.ID, "media_type", started.Type, "provider", started.Provider, "job_id", job.ID)
	return started, nil
}

// ResetForRetry returns a failed record to pending so it may be triggered
// again. Any other status is invalid_state.
func (o *Orchestrator) ResetForRetry(ctx context.Context, mediaID string) (storage.Media, error) {
	m, err := o.store.ResetForRetry(mediaID)
	if err != nil {
		return storage.Media{}, classifyTransition(mediaID, err)
	}
	o.logger.Info("analysis reset for retry", "media_id", m.ID, "media_type", m.Type)
	return m, nil
}

// Execute runs the adapter for a processing record and records the outcome.
// It is safe to call more than once for the same record: anything not in
// processing is skipped. The returned error is reserved for failures to
// persist an outcome and for cancellation, both of which leave the record
// processing so the job can be retried or recovered.
func (o *Orchestrator) Execute(ctx context.Context, mediaID string) error {
	m, err := o.store.GetMedia(mediaID)
	if errors.Is(err, storage.ErrNotFound) {
		o.logger.Warn("analysis job for missing media", "media_id", mediaID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading media %s: %w", mediaID, err)
	}
	if m.Status != storage.StatusProcessing {
		o.logger.Info("skipping analysis, record not processing", "media_id", m.ID, "status", m.Status)
		return nil
	}

	adapter, ok := o.adapters[m.Type]
	if !ok || adapter == nil {
		return o.fail(m, Errorf(KindProviderConfig, "no analysis provider configured for media type %s", m.Type))
	}

	start := time.Now()
	result, err := adapter.Analyze(ctx, Target{MediaID: m.ID, StoragePath: m.StoragePath, ContentType: m.ContentType})
	metrics.AnalysisDuration.WithLabelValues(string(adapter.Provider())).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: leave the record processing for recovery.
			return fmt.Errorf("analysis of %s interrupted: %w", m.ID, ctx.Err())
		}
		return o.fail(m, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return o.fail(m, Wrap(KindMalformedResponse, "encoding analysis payload", err))
	}
	if err := o.store.CompleteAnalysis(m.ID, body); err != nil {
		return fmt.Errorf("recording success for %s: %w", m.ID, err)
	}

	metrics.OutcomesTotal.WithLabelValues(m.Provider, string(storage.StatusSucceeded), "").Inc()
	o.logger.Info("analysis succeeded",
		"media_id", m.ID, "media_type", m.Type, "provider", m.Provider, "duration", time.Since(start))
	return nil
}

func (o *Orchestrator) fail(m storage.Media, cause error) error {
	kind := KindOf(cause)
	if kind == "" {
		kind = KindProviderTransport
	}
	detail := fmt.Sprintf("kind=%s provider=%s model=%s: %v", kind, m.Provider, m.Model, cause)
	if err := o.store.FailAnalysis(m.ID, cause.Error(), detail); err != nil {
		return fmt.Errorf("recording failure for %s: %w", m.ID, err)
	}

	metrics.OutcomesTotal.WithLabelValues(m.Provider, string(storage.StatusFailed), string(kind)).Inc()
	o.logger.Warn("analysis failed",
		"media_id", m.ID, "media_type", m.Type, "provider", m.Provider, "kind", kind, "error", cause)
	return nil
}

// classifyTransition maps storage transition errors onto the trigger
// taxonomy.
func classifyTransition(mediaID string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return Errorf(KindNotFound, "media %s not found", mediaID)
	}
	var mismatch *storage.StatusMismatchError
	if errors.As(err, &mismatch) {
		switch {
		case mismatch.Current == storage.StatusProcessing:
			return Errorf(KindConflict, "analysis already in progress for media %s", mediaID)
		case mismatch.Current.Terminal():
			outcome := "completed"
			if mismatch.Current == storage.StatusFailed {
				outcome = "failed"
			}
			return Errorf(KindInvalidState, "analysis already %s for media %s", outcome, mediaID)
		default:
			return Errorf(KindInvalidState, "media %s is %s", mediaID, mismatch.Current)
		}
	}
	return err
}

func resultLabel(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
