package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fintrack-api/internal/application/analytics"
	"github.com/fintrack-api/internal/transport/http/middleware"
)

// AnalyticsHandler handles the delivery statistics endpoints.
type AnalyticsHandler struct {
	svc analytics.Service
}

func NewAnalyticsHandler(svc analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// window parses the from/to query parameters, defaulting to the last 7 days.
func window(r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	return from, to, true
}

func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	from, to, ok := window(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from/to must be RFC3339 timestamps")
		return
	}
	report, err := h.svc.Summary(r.Context(), from, to)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AnalyticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	from, to, ok := window(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from/to must be RFC3339 timestamps")
		return
	}
	res, err := h.svc.Export(r.Context(), from, to)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// History lists the caller's own delivery log, newest first.
func (h *AnalyticsHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.History(r.Context(), claims.UserID, limit)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
