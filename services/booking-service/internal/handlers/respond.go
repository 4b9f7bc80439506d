package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/policy"
)

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: booking.CodeInvalidArgument, Field: field})
}

// writeError maps domain errors onto status codes. Unknown errors are logged
// and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *booking.ValidationError
	var conflict *booking.SlotConflictError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: verr.Code, Field: verr.Field})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "requested slot is not available", Code: "slot_conflict", Reason: conflict.Reason})
	case errors.Is(err, booking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "appointment not found", Code: "not_found"})
	case errors.Is(err, policy.ErrWindowNotFound), errors.Is(err, policy.ErrServiceNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, policy.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: booking.CodeInvalidArgument})
	default:
		logger.Error("request failed", "err", err, "method", r.Method, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

// tenantID prefers the X-Tenant-Id header over the tenant_id query parameter.
func tenantID(r *http.Request, body string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Tenant-Id")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("tenant_id")); v != "" {
		return v
	}
	return strings.TrimSpace(body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseDate(raw string) (civil.Date, bool) {
	d, err := civil.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return civil.Date{}, false
	}
	return d, true
}
