package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/persona/internal/objectstore"
)

// handleUpload receives the body of a presigned PUT issued by the local
// object backend. The token in the query string is the only credential.
func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		path := chi.URLParam(r, "*")

		contentType, err := deps.Uploads.VerifyUpload(r.URL.Query().Get("token"), path)
		if err != nil {
			httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
			return
		}

		n, err := deps.Uploads.Write(path, contentType, r.Body)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"storagePath": path, "size": n})
		case errors.Is(err, objectstore.ErrTooLarge):
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "%v", err)
		case errors.Is(err, objectstore.ErrContentMismatch):
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "%v", err)
		case errors.Is(err, objectstore.ErrInvalidPath):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
		}
	}
}
