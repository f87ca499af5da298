package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/vbus/internal/attribute"
	"github.com/nerrad567/vbus/internal/audit"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/hotplug"
	"github.com/nerrad567/vbus/internal/journal"
)

// Error is the JSON error body.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeText writes an attribute value the way sysfs reads: one line.
func writeText(w http.ResponseWriter, value string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // connection may be gone
	w.Write([]byte(value + "\n"))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="vbus"`)
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps bus, attribute, journal and hotplug errors to
// HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bus.ErrNotFound), errors.Is(err, attribute.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, attribute.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, bus.ErrDuplicateName), errors.Is(err, hotplug.ErrNotOwned),
		errors.Is(err, bus.ErrInvalidState):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, bus.ErrInvalidName), errors.Is(err, bus.ErrInvalidValue),
		errors.Is(err, journal.ErrInvalidFilter), errors.Is(err, hotplug.ErrInvalidRequest),
		errors.Is(err, audit.ErrInvalidFilter):
		writeBadRequest(w, err.Error())
	case errors.Is(err, bus.ErrClosed), errors.Is(err, attribute.ErrOwnerUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
