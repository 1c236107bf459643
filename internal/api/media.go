package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/persona/internal/analysis"
	"github.com/kalambet/persona/internal/objectstore"
	"github.com/kalambet/persona/internal/storage"
)

type userRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type mediaResponse struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	User            *userRef        `json:"user,omitempty"`
	MediaType       string          `json:"mediaType"`
	StoragePath     string          `json:"storagePath"`
	ContentType     string          `json:"contentType,omitempty"`
	Status          string          `json:"status"`
	Provider        string          `json:"provider,omitempty"`
	Model           string          `json:"model,omitempty"`
	AnalysisPayload json.RawMessage `json:"analysisPayload"`
	Error           *string         `json:"error"`
	ErrorDetail     string          `json:"errorDetail,omitempty"`
	CreatedAt       *string         `json:"createdAt"`
	UpdatedAt       *string         `json:"updatedAt,omitempty"`
	StartedAt       *string         `json:"startedAt,omitempty"`
	CompletedAt     *string         `json:"completedAt,omitempty"`
}

func toMediaResponse(m storage.Media, owner *storage.Subject) mediaResponse {
	resp := mediaResponse{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		MediaType:   string(m.Type),
		StoragePath: m.StoragePath,
		ContentType: m.ContentType,
		Status:      string(m.Status),
		Provider:    m.Provider,
		Model:       m.Model,
		ErrorDetail: m.ErrorDetail,
		CreatedAt:   formatTime(m.CreatedAt),
		UpdatedAt:   formatTime(m.UpdatedAt),
		StartedAt:   formatTime(m.StartedAt),
		CompletedAt: formatTime(m.CompletedAt),
	}
	if len(m.Payload) > 0 {
		resp.AnalysisPayload = json.RawMessage(m.Payload)
	}
	if m.Error != "" {
		e := m.Error
		resp.Error = &e
	}
	if owner != nil {
		resp.User = &userRef{ID: owner.ID, Name: owner.Name}
	}
	return resp
}

func handleCreateMedia(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID      string `json:"userId"`
			Type        string `json:"type"`
			ContentType string `json:"contentType"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		mediaType := storage.MediaType(req.Type)
		if !mediaType.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be %q or %q", storage.MediaImage, storage.MediaAudio)
			return
		}
		contentType := strings.TrimSpace(req.ContentType)
		if contentType == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "contentType is required")
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
			return
		}

		if _, err := deps.Store.GetSubject(req.UserID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "subject %s not found", req.UserID)
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get subject: %v", err)
			return
		}

		now := time.Now().UTC()
		path := objectstore.NewStoragePath(deps.Buckets[mediaType], req.UserID, contentType, now)
		uploadURL, err := deps.Objects.PresignUpload(r.Context(), path, contentType, deps.UploadTTL)
		if errors.Is(err, objectstore.ErrDisabled) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create upload url: %v", err)
			return
		}

		m := storage.Media{
			ID:          uuid.New().String(),
			OwnerID:     req.UserID,
			Type:        mediaType,
			StoragePath: path,
			ContentType: contentType,
			CreatedAt:   now,
		}
		if err := deps.Store.CreateMedia(m); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create media: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"mediaId":     m.ID,
			"uploadUrl":   uploadURL,
			"storagePath": path,
		})
	}
}

func handleGetMedia(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.GetMedia(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "media not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get media: %v", err)
			return
		}

		var owner *storage.Subject
		if sub, err := deps.Store.GetSubject(m.OwnerID); err == nil {
			owner = &sub
		}
		writeJSON(w, http.StatusOK, toMediaResponse(m, owner))
	}
}

func handleTriggerAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Analysis.Trigger(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			analysisError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  string(storage.StatusProcessing),
			"mediaId": m.ID,
		})
	}
}

func handleResetAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Analysis.ResetForRetry(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			analysisError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toMediaResponse(m, nil))
	}
}

// analysisError maps orchestrator precondition kinds onto HTTP status codes.
func analysisError(w http.ResponseWriter, err error) {
	switch kind := analysis.KindOf(err); kind {
	case analysis.KindNotFound:
		httpError(w, http.StatusNotFound, string(kind), "%v", err)
	case analysis.KindConflict:
		httpError(w, http.StatusConflict, string(kind), "%v", err)
	case analysis.KindInvalidState:
		httpError(w, http.StatusBadRequest, string(kind), "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
