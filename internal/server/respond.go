package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	ragerr "github.com/ragkb/ragkb/internal/errors"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// decodeJSON reads a request body into v, rejecting malformed JSON with a
// coded validation error.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ragerr.New(ragerr.ErrCodeInvalidInput, "invalid JSON body: "+err.Error(), err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", slog.String("error", err.Error()))
	}
}

// writeError maps an error to a status code and the coded JSON payload.
func writeError(w http.ResponseWriter, err error) {
	var re *ragerr.Error
	if !errors.As(err, &re) {
		re = ragerr.InternalError(err.Error(), err)
	}

	writeJSON(w, statusFor(re), errorBody{Error: errorDetail{
		Code:       re.Code,
		Message:    re.Message,
		Suggestion: re.Suggestion,
	}})
}

func statusFor(e *ragerr.Error) int {
	switch e.Code {
	case ragerr.ErrCodeChunkNotFound:
		return http.StatusNotFound
	case ragerr.ErrCodeDuplicateDocument:
		return http.StatusConflict
	}

	switch e.Category {
	case ragerr.CategoryValidation:
		return http.StatusBadRequest
	case ragerr.CategoryModel:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
