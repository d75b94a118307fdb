package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ayusman/mudra/internal/store"
	"github.com/go-chi/chi/v5"
)

// DefaultFrameLimit is the page size of frame listings without a limit.
const DefaultFrameLimit = 100

// SessionHandler serves recorded sessions and their frames.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

type listSessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
}

type listFramesResponse struct {
	SessionID string            `json:"session_id"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	Frames    []store.HandFrame `json:"frames"`
}

// List handles GET /api/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

// Get handles GET /api/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Delete handles DELETE /api/sessions/{id}. Frames are removed with the
// session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Sessions().Delete(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Frames handles GET /api/sessions/{id}/frames?limit=&offset=.
func (h *SessionHandler) Frames(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", DefaultFrameLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	frames, err := h.store.Frames().ListBySession(sess.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list frames")
		return
	}
	if frames == nil {
		frames = []store.HandFrame{}
	}

	writeJSON(w, http.StatusOK, listFramesResponse{
		SessionID: sess.ID,
		Limit:     limit,
		Offset:    offset,
		Frames:    frames,
	})
}

func (h *SessionHandler) lookup(w http.ResponseWriter, id string) (*store.Session, bool) {
	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return nil, false
	}
	return sess, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
