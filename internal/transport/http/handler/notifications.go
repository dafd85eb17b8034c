package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fintrack-api/internal/application/notification"
	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// NotificationHandler handles event intake and queue inspection endpoints.
type NotificationHandler struct {
	svc notification.Service
}

func NewNotificationHandler(svc notification.Service) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// Trigger ingests a notification event. Admins may trigger for any user;
// everyone else only for themselves.
func (h *NotificationHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req notification.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = claims.UserID
	}
	if req.UserID != claims.UserID && claims.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "cannot trigger notifications for another user")
		return
	}

	res, err := h.svc.Trigger(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	status := http.StatusAccepted
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *NotificationHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.svc.ListQueue(r.Context(), claims.UserID, limit)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.CancelMessage(r.Context(), chi.URLParam(r, "id"), claims.UserID); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "message cancelled"})
}
