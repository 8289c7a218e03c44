// Package httpx carries the JSON request/response conventions shared by the
// evidence service handlers: enveloped errors with request ids, strict
// request decoding, and a mapping from the domain error taxonomy to status
// codes.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// WriteDomainError translates the evidence error taxonomy into the wire
// envelope. Callers pass the id of the record that could not be finalized so
// the failure is actionable, never swallowed.
func WriteDomainError(w http.ResponseWriter, err error, subjectID string) {
	details := map[string]any{"id": subjectID}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), details)
	case errors.Is(err, domain.ErrSerialization):
		WriteError(w, http.StatusInternalServerError, "SERIALIZATION_ERROR", err.Error(), details)
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, http.StatusConflict, "CONFLICT", err.Error(), details)
	case errors.Is(err, domain.ErrPersistence):
		WriteError(w, http.StatusInternalServerError, "DB_ERROR", "evidence could not be finalized", details)
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), details)
	}
}
