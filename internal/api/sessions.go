package api

import (
	"errors"
	"net/http"

	"geofollow/pkg/session"
)

// SessionHandler exposes the connected map pages.
type SessionHandler struct {
	mgr *session.Manager
}

func NewSessionHandler(mgr *session.Manager) *SessionHandler {
	return &SessionHandler{mgr: mgr}
}

// HandleList returns every live session, oldest first.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.List())
}

// HandleGet returns one session. A unique id prefix is accepted.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// HandleLocate issues a position request on the session's page, superseding
// any request still in flight.
func (h *SessionHandler) HandleLocate(w http.ResponseWriter, r *http.Request) {
	seq, err := h.mgr.Locate(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"request": seq})
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
