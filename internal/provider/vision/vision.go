// Package vision analyses still images with an OpenAI-compatible
// vision-capable chat model.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/persona/internal/analysis"
)

const instructionPrompt = `Describe the person in this photo for a personality profile. ` +
	`Cover facial expression, posture, gaze, grooming, clothing and setting, and what ` +
	`each suggests about temperament, confidence, sociability and emotional state. ` +
	`Write 2-4 short paragraphs of plain prose. Do not guess identity, age or ethnicity.`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	MaxEdge int
	Timeout time.Duration
}

// Adapter implements analysis.Adapter for images.
type Adapter struct {
	cfg     Config
	client  *openai.Client
	objects analysis.Downloader
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config, objects analysis.Downloader) *Adapter {
	if cfg.MaxEdge <= 0 {
		cfg.MaxEdge = 768
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Adapter{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(oc),
		objects: objects,
		now:     time.Now,
		logger:  slog.Default().With("component", "vision"),
	}
}

func (a *Adapter) Provider() analysis.Provider { return analysis.ProviderOpenAIVision }
func (a *Adapter) Model() string               { return a.cfg.Model }

func (a *Adapter) Analyze(ctx context.Context, t analysis.Target) (analysis.Payload, error) {
	if a.cfg.APIKey == "" {
		return analysis.Payload{}, analysis.Errorf(analysis.KindProviderConfig, "vision provider API key not configured")
	}

	data, err := a.objects.Download(ctx, t.StoragePath)
	if err != nil {
		return analysis.Payload{}, analysis.Wrap(analysis.KindProviderTransport, "downloading media", err)
	}

	img, err := prepare(data, a.cfg.MaxEdge)
	if err != nil {
		return analysis.Payload{}, err
	}
	a.logger.Debug("image prepared",
		"media_id", t.MediaID, "original_bytes", img.size.OriginalBytes, "sent_bytes", img.size.SentBytes, "resized", img.size.Resized)

	dataURI := "data:" + img.contentType + ";base64," + base64.StdEncoding.EncodeToString(img.data)
	req := openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: instructionPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		MaxTokens: 800,
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return analysis.Payload{}, a.classify(ctx, callCtx, err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		return analysis.Payload{}, analysis.Errorf(analysis.KindMalformedResponse, "empty response from vision provider")
	}

	return analysis.ImagePayload(analysis.ProviderOpenAIVision, analysis.ImageAnalysis{
		Description: text,
		Timestamp:   a.now().UTC(),
		Size:        img.size,
	}), nil
}

func (a *Adapter) classify(parent, call context.Context, err error) error {
	if parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded) {
		return analysis.Wrap(analysis.KindProviderTimeout, "vision request timed out after "+a.cfg.Timeout.String(), err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return analysis.Wrap(analysis.KindProviderConfig, "vision provider rejected credentials", err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != http.StatusTooManyRequests:
			return analysis.Wrap(analysis.KindProviderRejected, "vision provider rejected the request", err)
		}
	}
	return analysis.Wrap(analysis.KindProviderTransport, "vision request failed", err)
}
