package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/policy"
)

// PolicyHandler administers booking rules, weekly windows and services.
type PolicyHandler struct {
	store  policy.Store
	logger *slog.Logger
}

func NewPolicyHandler(store policy.Store, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{store: store, logger: logger}
}

func (h *PolicyHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/policy/rule", h.GetRule)
	mux.HandleFunc("PUT /api/v1/policy/rule", h.PutRule)
	mux.HandleFunc("GET /api/v1/policy/windows", h.ListWindows)
	mux.HandleFunc("POST /api/v1/policy/windows", h.AddWindow)
	mux.HandleFunc("DELETE /api/v1/policy/windows/{id}", h.DeleteWindow)
	mux.HandleFunc("PUT /api/v1/policy/services/{id}", h.PutService)
}

type ruleJSON struct {
	TenantID           string          `json:"tenant_id"`
	LeadTimeMinutes    int             `json:"lead_time_minutes"`
	GranularityMinutes int             `json:"granularity_minutes"`
	MaxBookingsPerDay  int             `json:"max_bookings_per_day"`
	BlackoutDates      []string        `json:"blackout_dates"`
	Timezone           string          `json:"timezone"`
	Capabilities       map[string]bool `json:"capabilities"`
}

func ruleResponse(rule model.BookingRule) ruleJSON {
	out := ruleJSON{
		TenantID:           rule.TenantID,
		LeadTimeMinutes:    rule.LeadTimeMinutes,
		GranularityMinutes: rule.GranularityMinutes,
		MaxBookingsPerDay:  rule.MaxBookingsPerDay,
		BlackoutDates:      make([]string, 0, len(rule.BlackoutDates)),
		Timezone:           rule.Timezone,
		Capabilities:       rule.Capabilities,
	}
	if out.Capabilities == nil {
		out.Capabilities = map[string]bool{}
	}
	for _, d := range rule.BlackoutDates {
		out.BlackoutDates = append(out.BlackoutDates, d.String())
	}
	return out
}

func (h *PolicyHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	rule, err := h.store.Rule(r.Context(), tenant)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse(rule))
}

func (h *PolicyHandler) PutRule(w http.ResponseWriter, r *http.Request) {
	var req ruleJSON
	if err := decode(r, &req); err != nil {
		badRequest(w, "", "invalid json body")
		return
	}
	rule := model.BookingRule{
		TenantID:           tenantID(r, req.TenantID),
		LeadTimeMinutes:    req.LeadTimeMinutes,
		GranularityMinutes: req.GranularityMinutes,
		MaxBookingsPerDay:  req.MaxBookingsPerDay,
		Timezone:           strings.TrimSpace(req.Timezone),
		Capabilities:       req.Capabilities,
	}
	if rule.GranularityMinutes == 0 {
		rule.GranularityMinutes = model.DefaultGranularityMinutes
	}
	if rule.Timezone == "" {
		rule.Timezone = model.DefaultTimezone
	}
	for _, raw := range req.BlackoutDates {
		d, err := civil.ParseDate(strings.TrimSpace(raw))
		if err != nil {
			badRequest(w, "blackout_dates", "blackout dates must be YYYY-MM-DD")
			return
		}
		rule.BlackoutDates = append(rule.BlackoutDates, d)
	}
	if err := h.store.PutRule(r.Context(), rule); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse(rule))
}

type windowJSON struct {
	ID         string `json:"id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	Weekday    int    `json:"weekday"`
	Start      string `json:"start"`
	End        string `json:"end"`
	ResourceID string `json:"resource_id,omitempty"`
}

func windowResponse(win model.AvailabilityWindow) windowJSON {
	return windowJSON{
		ID:         win.ID,
		TenantID:   win.TenantID,
		Weekday:    int(win.Weekday),
		Start:      model.FormatMinute(win.StartMinute),
		End:        model.FormatMinute(win.EndMinute),
		ResourceID: win.ResourceID,
	}
}

func (h *PolicyHandler) ListWindows(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	windows, err := h.store.Windows(r.Context(), tenant)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]windowJSON, 0, len(windows))
	for _, win := range windows {
		items = append(items, windowResponse(win))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PolicyHandler) AddWindow(w http.ResponseWriter, r *http.Request) {
	var req windowJSON
	if err := decode(r, &req); err != nil {
		badRequest(w, "", "invalid json body")
		return
	}
	start, err := model.ParseClock(strings.TrimSpace(req.Start))
	if err != nil {
		badRequest(w, "start", "start must be HH:MM")
		return
	}
	end, err := model.ParseClock(strings.TrimSpace(req.End))
	if err != nil {
		badRequest(w, "end", "end must be HH:MM")
		return
	}
	win, err := h.store.AddWindow(r.Context(), model.AvailabilityWindow{
		TenantID:    tenantID(r, req.TenantID),
		Weekday:     time.Weekday(req.Weekday),
		StartMinute: start,
		EndMinute:   end,
		ResourceID:  strings.TrimSpace(req.ResourceID),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, windowResponse(win))
}

func (h *PolicyHandler) DeleteWindow(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r, "")
	if tenant == "" {
		badRequest(w, "tenant_id", "tenant_id required")
		return
	}
	if err := h.store.DeleteWindow(r.Context(), tenant, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type serviceJSON struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *PolicyHandler) PutService(w http.ResponseWriter, r *http.Request) {
	var req serviceJSON
	if err := decode(r, &req); err != nil {
		badRequest(w, "", "invalid json body")
		return
	}
	svc := model.Service{
		ID:              r.PathValue("id"),
		TenantID:        tenantID(r, req.TenantID),
		Name:            strings.TrimSpace(req.Name),
		DurationMinutes: req.DurationMinutes,
	}
	if err := h.store.PutService(r.Context(), svc); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, serviceJSON(svc))
}
