package report

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Generator turns a system and user prompt into report text.
type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OpenAIGenerator generates reports with a chat completion model.
type OpenAIGenerator struct {
	cfg    OpenAIConfig
	client *openai.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIGenerator{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (g *OpenAIGenerator) Name() string  { return "openai" }
func (g *OpenAIGenerator) Model() string { return g.cfg.Model }

func (g *OpenAIGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", errors.Join(ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
