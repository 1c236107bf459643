package api

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/persona/internal/auth"
	"github.com/kalambet/persona/internal/report"
	"github.com/kalambet/persona/internal/storage"
)

const maxSubjectNameLen = 100

type subjectResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Consent   bool    `json:"consent"`
	CreatedAt *string `json:"createdAt"`
	CreatedBy string  `json:"createdBy"`
}

type subjectDetailResponse struct {
	subjectResponse
	Media   []mediaResponse  `json:"media"`
	Reports []reportResponse `json:"reports"`
}

func toSubjectResponse(s storage.Subject) subjectResponse {
	return subjectResponse{
		ID:        s.ID,
		Name:      s.Name,
		Consent:   s.Consent,
		CreatedAt: formatTime(s.CreatedAt),
		CreatedBy: s.CreatedBy,
	}
}

func handleCreateSubject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if utf8.RuneCountInString(name) > maxSubjectNameLen {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name must be at most %d characters", maxSubjectNameLen)
			return
		}

		id, _ := auth.FromContext(r.Context())
		sub := storage.Subject{
			ID:        uuid.New().String(),
			Name:      name,
			Consent:   true,
			CreatedBy: id.UserID,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateSubject(sub); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create subject: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toSubjectResponse(sub))
	}
}

func handleGetSubject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sub, err := deps.Store.GetSubject(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "subject not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get subject: %v", err)
			return
		}

		media, err := deps.Store.ListMediaByOwner(id, "")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list media: %v", err)
			return
		}
		reports, err := deps.Store.ListReports(id, report.MaxListLimit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reports: %v", err)
			return
		}

		resp := subjectDetailResponse{
			subjectResponse: toSubjectResponse(sub),
			Media:           make([]mediaResponse, len(media)),
			Reports:         make([]reportResponse, len(reports)),
		}
		for i, m := range media {
			resp.Media[i] = toMediaResponse(m, nil)
		}
		for i, rep := range reports {
			resp.Reports[i] = toReportResponse(rep)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handlePutTemplate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Label   string `json:"label"`
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		rev := storage.TemplateRevision{
			TemplateType: chi.URLParam(r, "templateType"),
			RevisionID:   chi.URLParam(r, "revisionId"),
			Label:        req.Label,
			Content:      req.Content,
			CreatedAt:    time.Now().UTC(),
		}
		if rev.Label == "" {
			rev.Label = rev.RevisionID
		}
		if err := deps.Store.PutTemplateRevision(rev); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store template revision: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"templateType": rev.TemplateType,
			"revisionId":   rev.RevisionID,
			"label":        rev.Label,
		})
	}
}
