package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/maruel/selfiegram/internal/errors"
)

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code    apierrors.Kind `json:"code"`
	Message string         `json:"message"`
}

// ErrorResponse wraps an error API response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// RespondJSON sends a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent, log only.
		slog.Debug("Failed to encode response", "err", err)
	}
}

// RespondError sends an error JSON response with an explicit status and code.
func RespondError(w http.ResponseWriter, status int, message string, code apierrors.Kind) {
	RespondJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// RespondErr maps err to a status code and a human-readable message.
//
// Unclassified errors become 500 and their text is not leaked to the client.
func RespondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e *apierrors.Error
	if errors.As(err, &e) {
		status = e.StatusCode()
	}
	RespondError(w, status, apierrors.Message(err), apierrors.KindOf(err))
}
