// Package hume analyses voice recordings with Hume's asynchronous batch API:
// submit one file, poll the job, then fetch its predictions.
package hume

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/kalambet/persona/internal/analysis"
)

const (
	DefaultPollAttempts = 30
	DefaultPollInterval = 10 * time.Second

	topEmotions = 5
	modelName   = "prosody+burst"
)

type Config struct {
	APIKey         string
	BaseURL        string
	PollAttempts   int
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Adapter implements analysis.Adapter for audio.
type Adapter struct {
	cfg     Config
	client  *Client
	objects analysis.Downloader
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config, objects analysis.Downloader) *Adapter {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		client:  NewClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout),
		objects: objects,
		now:     time.Now,
		logger:  slog.Default().With("component", "hume"),
	}
}

// Close releases the underlying HTTP client.
func (a *Adapter) Close() error { return a.client.Close() }

func (a *Adapter) Provider() analysis.Provider { return analysis.ProviderHume }
func (a *Adapter) Model() string               { return modelName }

func (a *Adapter) Analyze(ctx context.Context, t analysis.Target) (analysis.Payload, error) {
	if a.cfg.APIKey == "" {
		return analysis.Payload{}, analysis.Errorf(analysis.KindProviderConfig, "audio provider API key not configured")
	}

	data, err := a.objects.Download(ctx, t.StoragePath)
	if err != nil {
		return analysis.Payload{}, analysis.Wrap(analysis.KindProviderTransport, "downloading media", err)
	}

	jobID, err := a.client.SubmitJob(ctx, path.Base(t.StoragePath), t.ContentType, data)
	if err != nil {
		return analysis.Payload{}, err
	}
	a.logger.Info("audio job submitted", "media_id", t.MediaID, "job_id", jobID)

	if err := a.await(ctx, t.MediaID, jobID); err != nil {
		return analysis.Payload{}, err
	}

	raw, err := a.client.Predictions(ctx, jobID)
	if err != nil {
		return analysis.Payload{}, err
	}
	voice, err := summarize(raw)
	if err != nil {
		return analysis.Payload{}, err
	}
	voice.JobID = jobID
	voice.ProcessedAt = a.now().UTC()
	voice.Raw = raw
	return analysis.VoicePayload(analysis.ProviderHume, voice), nil
}

// await polls until the job completes, fails, or runs out of attempts.
// A transport error on a single poll uses up that attempt but does not end
// the wait; any other error does.
func (a *Adapter) await(ctx context.Context, mediaID, jobID string) error {
	for attempt := 1; attempt <= a.cfg.PollAttempts; attempt++ {
		state, err := a.client.JobStatus(ctx, jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil && analysis.KindOf(err) != analysis.KindProviderTransport:
			return err
		case err != nil:
			a.logger.Warn("audio job poll failed", "media_id", mediaID, "job_id", jobID, "attempt", attempt, "error", err)
		case state.Status == StateCompleted:
			return nil
		case state.Status == StateFailed:
			msg := state.Message
			if msg == "" {
				msg = "no reason given"
			}
			return analysis.Errorf(analysis.KindProviderRejected, "audio job %s failed: %s", jobID, msg)
		}

		// The last attempt waits too, so a job that never finishes fails
		// no earlier than attempts × interval.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.PollInterval):
		}
	}

	return timeoutError(a.cfg.PollAttempts, a.cfg.PollInterval)
}

func timeoutError(attempts int, interval time.Duration) *analysis.Error {
	total := time.Duration(attempts) * interval
	return analysis.Errorf(analysis.KindProviderTimeout,
		"job timed out after %s seconds", strconv.FormatFloat(total.Seconds(), 'f', -1, 64))
}

type predictionsDoc []struct {
	Results struct {
		Predictions []struct {
			Models struct {
				Prosody *modelGroups `json:"prosody"`
				Burst   *modelGroups `json:"burst"`
			} `json:"models"`
		} `json:"predictions"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"results"`
}

type modelGroups struct {
	GroupedPredictions []struct {
		Predictions []struct {
			Emotions []analysis.Score `json:"emotions"`
		} `json:"predictions"`
	} `json:"grouped_predictions"`
}

// summarize averages per-segment scores into one value per emotion. Prosody
// feeds Emotions; vocal bursts feed VocalTraits.
func summarize(raw json.RawMessage) (analysis.VoiceAnalysis, error) {
	var doc predictionsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return analysis.VoiceAnalysis{}, analysis.Wrap(analysis.KindMalformedResponse, "decoding audio predictions", err)
	}

	prosody := newAccumulator()
	burst := newAccumulator()
	var providerErrs []string
	for _, source := range doc {
		for _, e := range source.Results.Errors {
			providerErrs = append(providerErrs, e.Message)
		}
		for _, p := range source.Results.Predictions {
			prosody.add(p.Models.Prosody)
			burst.add(p.Models.Burst)
		}
	}

	if prosody.segments == 0 && burst.segments == 0 {
		if len(providerErrs) > 0 {
			return analysis.VoiceAnalysis{}, analysis.Errorf(analysis.KindProviderRejected, "audio provider reported: %s", providerErrs[0])
		}
		return analysis.VoiceAnalysis{}, analysis.Errorf(analysis.KindMalformedResponse, "no predictions in audio provider response")
	}

	emotions := prosody.means()
	return analysis.VoiceAnalysis{
		Emotions:    emotions,
		TopEmotions: top(emotions, topEmotions),
		VocalTraits: burst.means(),
		Segments:    prosody.segments,
	}, nil
}

type accumulator struct {
	sums     map[string]float64
	counts   map[string]int
	segments int
}

func newAccumulator() *accumulator {
	return &accumulator{sums: map[string]float64{}, counts: map[string]int{}}
}

func (acc *accumulator) add(m *modelGroups) {
	if m == nil {
		return
	}
	for _, g := range m.GroupedPredictions {
		for _, p := range g.Predictions {
			acc.segments++
			for _, e := range p.Emotions {
				acc.sums[e.Name] += e.Score
				acc.counts[e.Name]++
			}
		}
	}
}

func (acc *accumulator) means() map[string]float64 {
	if len(acc.sums) == 0 {
		return nil
	}
	out := make(map[string]float64, len(acc.sums))
	for name, sum := range acc.sums {
		out[name] = sum / float64(acc.counts[name])
	}
	return out
}

func top(scores map[string]float64, n int) []analysis.Score {
	out := make([]analysis.Score, 0, len(scores))
	for name, s := range scores {
		out = append(out, analysis.Score{Name: name, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

var _ analysis.Adapter = (*Adapter)(nil)
