package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/persona/internal/report"
	"github.com/kalambet/persona/internal/storage"
)

type reportResponse struct {
	ID                    string  `json:"id"`
	ReportType            string  `json:"reportType"`
	PrimaryUserID         string  `json:"primaryUserId"`
	SecondaryUserID       string  `json:"secondaryUserId,omitempty"`
	TemplateType          string  `json:"templateType"`
	TemplateRevisionID    string  `json:"templateRevisionId"`
	TemplateRevisionLabel string  `json:"templateRevisionLabel"`
	ProviderName          string  `json:"providerName"`
	ModelName             string  `json:"modelName"`
	Content               string  `json:"content"`
	CreatedAt             *string `json:"createdAt"`
}

func toReportResponse(r storage.Report) reportResponse {
	return reportResponse{
		ID:                    r.ID,
		ReportType:            r.ReportType,
		PrimaryUserID:         r.PrimarySubjectID,
		SecondaryUserID:       r.SecondarySubjectID,
		TemplateType:          r.TemplateType,
		TemplateRevisionID:    r.TemplateRevisionID,
		TemplateRevisionLabel: r.TemplateRevisionLabel,
		ProviderName:          r.ProviderName,
		ModelName:             r.ModelName,
		Content:               r.Content,
		CreatedAt:             formatTime(r.CreatedAt),
	}
}

func handleCreateReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ReportType              string `json:"reportType"`
			PrimaryUserID           string `json:"primaryUserId"`
			SecondaryUserID         string `json:"secondaryUserId"`
			TemplateType            string `json:"templateType"`
			TemplateRevisionID      string `json:"templateRevisionId"`
			SelfObservedDifferences string `json:"selfObservedDifferences"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		rep, err := deps.Reports.Create(r.Context(), report.Request(req))
		switch {
		case err == nil:
			writeJSON(w, http.StatusCreated, toReportResponse(rep))
		case errors.Is(err, report.ErrInvalidRequest), errors.Is(err, report.ErrTemplateMissing):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.Is(err, report.ErrSubjectNotFound):
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
		case errors.Is(err, report.ErrNotConfigured):
			httpError(w, http.StatusServiceUnavailable, "provider_config", "%v", err)
		case errors.Is(err, report.ErrEmptyCompletion), errors.Is(err, report.ErrGeneration):
			httpError(w, http.StatusBadGateway, "provider_error", "%v", err)
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create report: %v", err)
		}
	}
}

func handleGetReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Reports.Get(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "report not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get report: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toReportResponse(rep))
	}
}

func handleListReports(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", report.DefaultListLimit, report.MaxListLimit)
		reports, err := deps.Reports.List(r.URL.Query().Get("userId"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reports: %v", err)
			return
		}
		out := make([]reportResponse, len(reports))
		for i, rep := range reports {
			out[i] = toReportResponse(rep)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
