package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/schemalog/internal/apperr"
)

// errorBody is the wire shape of every failure response.
type errorBody struct {
	Error       string              `json:"error"`
	Message     string              `json:"message"`
	FieldErrors map[string][]string `json:"field_errors,omitempty"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an ad-hoc error with an explicit kind.
func writeError(w http.ResponseWriter, status int, kind apperr.Kind, msg string) {
	writeJSON(w, status, errorBody{Error: string(kind), Message: msg})
}

// writeAppError maps a service failure onto the HTTP surface.
func writeAppError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, apperr.KindInternal, "an internal error occurred")
		return
	}
	writeJSON(w, statusForKind(appErr.Kind), errorBody{
		Error:       string(appErr.Kind),
		Message:     appErr.Message,
		FieldErrors: appErr.FieldErrors,
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation, apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindSchemaValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
