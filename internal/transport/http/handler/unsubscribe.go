package handler

import (
	"net/http"

	"github.com/fintrack-api/internal/application/preference"
	"github.com/go-chi/chi/v5"
)

// UnsubscribeHandler handles the public one-click unsubscribe link embedded
// in every outgoing email. No auth: the signed token is the credential.
type UnsubscribeHandler struct {
	svc preference.Service
}

func NewUnsubscribeHandler(svc preference.Service) *UnsubscribeHandler {
	return &UnsubscribeHandler{svc: svc}
}

func (h *UnsubscribeHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Unsubscribe(r.Context(), chi.URLParam(r, "token")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "unsubscribed"})
}
