package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/storage"
)

type BookingHandler struct {
	engine *booking.Engine
	logger *slog.Logger
}

func NewBookingHandler(engine *booking.Engine, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, logger: logger}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/availability", h.Availability)
	mux.HandleFunc("POST /api/v1/bookings", h.Create)
	mux.HandleFunc("GET /api/v1/bookings", h.List)
	mux.HandleFunc("GET /api/v1/bookings/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/bookings/{id}", h.Reschedule)
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", h.Cancel)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", h.Complete)
}

type customerJSON struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type appointmentResponse struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	ResourceID      string       `json:"resource_id,omitempty"`
	ServiceID       string       `json:"service_id,omitempty"`
	Customer        customerJSON `json:"customer"`
	Date            string       `json:"date"`
	Start           string       `json:"start"`
	End             string       `json:"end"`
	DurationMinutes int          `json:"duration_minutes"`
	Status          string       `json:"status"`
	Notes           string       `json:"notes,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	CreatedAt       string       `json:"created_at"`
	UpdatedAt       string       `json:"updated_at"`
	CancelledAt     string       `json:"cancelled_at,omitempty"`
	CompletedAt     string       `json:"completed_at,omitempty"`
}

func toResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:              a.ID,
		TenantID:        a.TenantID,
		ResourceID:      a.ResourceID,
		ServiceID:       a.ServiceID,
		Customer:        customerJSON(a.Customer),
		Date:            a.Date.String(),
		Start:           model.FormatMinute(a.StartMinute),
		End:             model.FormatMinute(a.EndMinute()),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
		CancelReason:    a.CancelReason,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if a.CompletedAt != nil {
		resp.CompletedAt = a.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type slotJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type availabilityResponse struct {
	Date       string     `json:"date"`
	ResourceID string     `json:"resource_id,omitempty"`
	Slots      []slotJSON `json:"slots"`
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	date, ok := parseDate(q.Get("date"))
	if !ok {
		badRequest(w, "date", "date must be YYYY-MM-DD")
		return
	}
	duration := 0
	if raw := strings.TrimSpace(q.Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "duration_minutes", "duration_minutes must be an integer")
			return
		}
		duration = n
	}

	res, err := h.engine.Availability(r.Context(), booking.AvailabilityQuery{
		TenantID:        tenant,
		ResourceID:      strings.TrimSpace(q.Get("resource_id")),
		ServiceID:       strings.TrimSpace(q.Get("service_id")),
		DurationMinutes: duration,
		Date:            date,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := availabilityResponse{Date: res.Date.String(), ResourceID: res.ResourceID, Slots: make([]slotJSON, 0, len(res.Slots))}
	for _, s := range res.Slots {
		resp.Slots = append(resp.Slots, slotJSON{Start: model.FormatMinute(s.Start), End: model.FormatMinute(s.End)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createRequest struct {
	TenantID        string       `json:"tenant_id"`
	ResourceID      string       `json:"resource_id"`
	ServiceID       string       `json:"service_id"`
	DurationMinutes int          `json:"duration_minutes"`
	Date            string       `json:"date"`
	Time            string       `json:"time"`
	Customer        customerJSON `json:"customer"`
	Notes           string       `json:"notes"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "", "invalid json body")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		badRequest(w, "date", "date must be YYYY-MM-DD")
		return
	}
	start, err := model.ParseClock(strings.TrimSpace(req.Time))
	if err != nil {
		badRequest(w, "time", "time must be HH:MM")
		return
	}

	appt, replayed, err := h.engine.Create(r.Context(), booking.CreateRequest{
		TenantID:        tenantID(r, req.TenantID),
		ResourceID:      strings.TrimSpace(req.ResourceID),
		ServiceID:       strings.TrimSpace(req.ServiceID),
		DurationMinutes: req.DurationMinutes,
		Date:            date,
		StartMinute:     start,
		Customer: model.Customer{
			ID:    strings.TrimSpace(req.Customer.ID),
			Name:  strings.TrimSpace(req.Customer.Name),
			Phone: strings.TrimSpace(req.Customer.Phone),
			Email: strings.TrimSpace(req.Customer.Email),
		},
		Notes:          req.Notes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusCreated, toResponse(appt))
}

type rescheduleRequest struct {
	TenantID string  `json:"tenant_id"`
	Date     string  `json:"date"`
	Time     string  `json:"time"`
	Notes    *string `json:"notes"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "", "invalid json body")
		return
	}
	date, ok := parseDate(req.Date)
	if !ok {
		badRequest(w, "date", "date must be YYYY-MM-DD")
		return
	}
	start, err := model.ParseClock(strings.TrimSpace(req.Time))
	if err != nil {
		badRequest(w, "time", "time must be HH:MM")
		return
	}
	appt, err := h.engine.Reschedule(r.Context(), booking.RescheduleRequest{
		TenantID:    tenantID(r, req.TenantID),
		ID:          r.PathValue("id"),
		Date:        date,
		StartMinute: start,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	appt, err := h.engine.Cancel(r.Context(), tenant, r.PathValue("id"), strings.TrimSpace(r.URL.Query().Get("reason")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	appt, err := h.engine.Complete(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	appt, err := h.engine.Get(r.Context(), tenant, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ListFilter{TenantID: tenantID(r, "")}
	if f.TenantID == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	for field, dst := range map[string]*civil.Date{"from": &f.From, "to": &f.To} {
		raw := strings.TrimSpace(q.Get(field))
		if raw == "" {
			continue
		}
		d, ok := parseDate(raw)
		if !ok {
			badRequest(w, field, field+" must be YYYY-MM-DD")
			return
		}
		*dst = d
	}
	if q.Has("resource_id") {
		resource := strings.TrimSpace(q.Get("resource_id"))
		f.ResourceID = &resource
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		f.Status = model.Status(status)
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			f.Limit = n
		}
	}

	appts, err := h.engine.List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	writeJSON(w, http.StatusOK, items)
}
