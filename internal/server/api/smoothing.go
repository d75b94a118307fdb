package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/mudra/internal/smoother"
)

// SmoothingSettings reads and replaces the live smoothing configuration.
type SmoothingSettings interface {
	SmoothingConfig() smoother.Config
	SetSmoothingConfig(cfg smoother.Config) error
}

// SmoothingHandler serves the smoothing configuration.
type SmoothingHandler struct {
	settings SmoothingSettings
}

// NewSmoothingHandler creates a new SmoothingHandler.
func NewSmoothingHandler(s SmoothingSettings) *SmoothingHandler {
	return &SmoothingHandler{settings: s}
}

// Get handles GET /api/smoothing.
func (h *SmoothingHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.SmoothingConfig())
}

// Put handles PUT /api/smoothing. Fields missing from the body keep their
// current values.
func (h *SmoothingHandler) Put(w http.ResponseWriter, r *http.Request) {
	cfg := h.settings.SmoothingConfig()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.settings.SetSmoothingConfig(cfg); err != nil {
		if errors.Is(err, smoother.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save smoothing settings")
		return
	}

	writeJSON(w, http.StatusOK, h.settings.SmoothingConfig())
}
