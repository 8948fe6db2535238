package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cronfire/internal/custom_errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeMappedError translates the error taxonomy to HTTP statuses.
func writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custom_errors.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, custom_errors.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case custom_errors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, custom_errors.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func getPageNumber(r *http.Request) int {
	page := r.URL.Query().Get("page")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		pageNumber = 1
	}
	return int(pageNumber)
}

// enabledFilter reads the optional ?enabled=true|false query parameter.
func enabledFilter(r *http.Request) *bool {
	raw := r.URL.Query().Get("enabled")
	if raw == "" {
		return nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &enabled
}
