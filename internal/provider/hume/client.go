package hume

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/kalambet/persona/internal/analysis"
)

// Job states reported by the batch API.
const (
	StateQueued     = "QUEUED"
	StateInProgress = "IN_PROGRESS"
	StateCompleted  = "COMPLETED"
	StateFailed     = "FAILED"
)

// models requests prosody (speech emotion) and vocal burst predictions.
const models = `{"models":{"prosody":{},"burst":{}}}`

// Client is a thin client for the Hume batch expression measurement API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("X-Hume-Api-Key", apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(0)
	return &Client{http: c}
}

func (c *Client) Close() error {
	return c.http.Close()
}

type JobState struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type jobResponse struct {
	JobID string   `json:"job_id"`
	State JobState `json:"state"`
}

// SubmitJob uploads one file as a batch job and returns the job id.
func (c *Client) SubmitJob(ctx context.Context, fileName, contentType string, data []byte) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", fileName, contentType, bytes.NewReader(data)).
		SetFormData(map[string]string{"json": models}).
		Post("/batch/jobs")
	if err != nil {
		return "", analysis.Wrap(analysis.KindProviderTransport, "submitting audio job", err)
	}
	if err := checkStatus(resp, "submitting audio job"); err != nil {
		return "", err
	}

	var out jobResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return "", analysis.Wrap(analysis.KindMalformedResponse, "decoding job submission", err)
	}
	if out.JobID == "" {
		return "", analysis.Errorf(analysis.KindMalformedResponse, "audio provider returned no job id")
	}
	return out.JobID, nil
}

// JobStatus returns the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (JobState, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		Get("/batch/jobs/{id}")
	if err != nil {
		return JobState{}, analysis.Wrap(analysis.KindProviderTransport, "polling audio job", err)
	}
	if err := checkStatus(resp, "polling audio job"); err != nil {
		return JobState{}, err
	}

	var out jobResponse
	if err := json.Unmarshal(resp.Bytes(), &out); err != nil {
		return JobState{}, analysis.Wrap(analysis.KindMalformedResponse, "decoding job status", err)
	}
	if out.State.Status == "" {
		return JobState{}, analysis.Errorf(analysis.KindMalformedResponse, "audio job status missing from response")
	}
	return out.State, nil
}

// Predictions fetches the raw prediction document of a completed job.
func (c *Client) Predictions(ctx context.Context, jobID string) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		Get("/batch/jobs/{id}/predictions")
	if err != nil {
		return nil, analysis.Wrap(analysis.KindProviderTransport, "fetching audio predictions", err)
	}
	if err := checkStatus(resp, "fetching audio predictions"); err != nil {
		return nil, err
	}
	body := resp.Bytes()
	if !json.Valid(body) {
		return nil, analysis.Errorf(analysis.KindMalformedResponse, "audio predictions are not valid JSON")
	}
	return json.RawMessage(body), nil
}

func checkStatus(resp *resty.Response, op string) error {
	code := resp.StatusCode()
	if code < 300 {
		return nil
	}
	msg := fmt.Sprintf("%s: provider returned status %d: %s", op, code, strings.TrimSpace(resp.String()))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return analysis.Errorf(analysis.KindProviderConfig, "%s", msg)
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		return analysis.Errorf(analysis.KindProviderRejected, "%s", msg)
	default:
		return analysis.Errorf(analysis.KindProviderTransport, "%s", msg)
	}
}
