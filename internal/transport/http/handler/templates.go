package handler

import (
	"encoding/json"
	"net/http"

	templateapp "github.com/fintrack-api/internal/application/template"
	"github.com/fintrack-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

// TemplateHandler handles the admin template catalog endpoints.
type TemplateHandler struct {
	svc templateapp.Service
}

func NewTemplateHandler(svc templateapp.Service) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.svc.Create(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.List(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "template deleted"})
}

// Preview renders the template against caller-supplied sample variables.
func (h *TemplateHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var vars map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	subject, html, text, err := h.svc.Preview(r.Context(), chi.URLParam(r, "id"), vars)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"subject":   subject,
		"html_body": html,
		"text_body": text,
	})
}
