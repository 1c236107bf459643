package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/persona/internal/auth"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/report"
	"github.com/kalambet/persona/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Analyzer drives the media analysis state machine.
type Analyzer interface {
	Trigger(ctx context.Context, mediaID string) (storage.Media, error)
	ResetForRetry(ctx context.Context, mediaID string) (storage.Media, error)
}

// Reporter generates and reads narrative reports.
type Reporter interface {
	Create(ctx context.Context, req report.Request) (storage.Report, error)
	Get(id string) (storage.Report, error)
	List(primaryUserID string, limit int) ([]storage.Report, error)
}

// Presigner issues time-limited upload URLs.
type Presigner interface {
	PresignUpload(ctx context.Context, storagePath, contentType string, ttl time.Duration) (string, error)
}

// UploadSink accepts PUTs to URLs issued by the local object backend.
type UploadSink interface {
	VerifyUpload(token, storagePath string) (string, error)
	Write(storagePath, contentType string, body io.Reader) (int64, error)
}

// IdentityVerifier resolves a bearer token to the calling identity.
type IdentityVerifier interface {
	VerifyIdentity(token string) (auth.Identity, error)
}

type Deps struct {
	Store    *storage.Store
	Analysis Analyzer
	Reports  Reporter
	Objects  Presigner
	// Uploads is set only for the local object backend.
	Uploads   UploadSink
	Verifier  IdentityVerifier
	Buckets   map[storage.MediaType]string
	UploadTTL time.Duration
	// CORSOrigins enables CORS for the dashboard when non-empty.
	CORSOrigins []string
}

// NewHandler returns the full HTTP surface: health and metrics
// unauthenticated, upload PUTs authorized by their own token, everything else
// behind bearer identity.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())
	if deps.Uploads != nil {
		r.Put("/uploads/*", handleUpload(deps))
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Verifier))

		r.Post("/subjects", handleCreateSubject(deps))
		r.Get("/subjects/{id}", handleGetSubject(deps))

		r.Post("/media", handleCreateMedia(deps))
		r.Post("/media/signed-url", handleCreateMedia(deps))
		r.Get("/media/{id}", handleGetMedia(deps))
		r.Post("/media/{id}/analysis", handleTriggerAnalysis(deps))
		r.Post("/media/{id}/reset", handleResetAnalysis(deps))

		r.Put("/templates/{templateType}/revisions/{revisionId}", handlePutTemplate(deps))

		r.Post("/reports", handleCreateReport(deps))
		r.Get("/reports", handleListReports(deps))
		r.Get("/reports/{id}", handleGetReport(deps))

		r.Mount("/mcp", server.NewStreamableHTTPServer(NewMCPServer(deps)))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
