package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"
)

type OllamaConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OllamaGenerator generates reports with a model served by a local Ollama
// instance.
type OllamaGenerator struct {
	cfg  OllamaConfig
	http *resty.Client
}

func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	return &OllamaGenerator{cfg: cfg, http: c}
}

func (g *OllamaGenerator) Name() string  { return "ollama" }
func (g *OllamaGenerator) Model() string { return g.cfg.Model }

func (g *OllamaGenerator) Close() error { return g.http.Close() }

// IsRunning returns true if the Ollama server answers GET /api/tags with 200.
func (g *OllamaGenerator) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := g.http.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.cfg.BaseURL == "" || g.cfg.Model == "" {
		return "", ErrNotConfigured
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(ollamaChatRequest{
			Model: g.cfg.Model,
			Messages: []ollamaMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: prompt},
			},
			Options: ollamaOptions{Temperature: g.cfg.Temperature, NumPredict: g.cfg.MaxTokens},
		}).
		Post("/api/chat")
	if err != nil {
		return "", errors.Join(ErrGeneration, fmt.Errorf("chat request: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return "", errors.Join(ErrGeneration, fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return "", errors.Join(ErrGeneration, fmt.Errorf("decoding chat response: %w", err))
	}
	return out.Message.Content, nil
}
