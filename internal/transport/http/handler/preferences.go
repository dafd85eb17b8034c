package handler

import (
	"encoding/json"
	"net/http"

	"github.com/fintrack-api/internal/application/preference"
	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/transport/http/middleware"
)

// PreferenceHandler handles notification preference endpoints.
type PreferenceHandler struct {
	svc preference.Service
}

func NewPreferenceHandler(svc preference.Service) *PreferenceHandler {
	return &PreferenceHandler{svc: svc}
}

func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	p, err := h.svc.Get(r.Context(), claims.UserID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.svc.Update(r.Context(), claims.UserID, req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
