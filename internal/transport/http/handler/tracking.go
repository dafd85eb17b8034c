package handler

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/fintrack-api/internal/application/analytics"
	"github.com/go-chi/chi/v5"
)

// trackingPixel is a 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingHandler handles the public open-pixel and click-redirect
// endpoints referenced from rendered emails.
type TrackingHandler struct {
	svc analytics.Service
}

func NewTrackingHandler(svc analytics.Service) *TrackingHandler {
	return &TrackingHandler{svc: svc}
}

// Open serves the tracking pixel. The pixel is always returned, even for
// unknown ids, so mail clients never render a broken image.
func (h *TrackingHandler) Open(w http.ResponseWriter, r *http.Request) {
	externalID := strings.TrimSuffix(chi.URLParam(r, "id"), ".gif")
	if err := h.svc.RecordOpen(r.Context(), externalID); err != nil {
		log.Printf("tracking: record open %s: %v", externalID, err)
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(trackingPixel)
}

// Click records the click and redirects to the wrapped destination. Only
// http(s) destinations are allowed; anything else falls back to a 400.
func (h *TrackingHandler) Click(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")
	if err := h.svc.RecordClick(r.Context(), externalID); err != nil {
		log.Printf("tracking: record click %s: %v", externalID, err)
	}

	dest := r.URL.Query().Get("url")
	parsed, err := url.Parse(dest)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "invalid redirect url")
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}
