package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"geofollow/internal/view"
	"geofollow/pkg/mapsync"
	"geofollow/pkg/session"
)

// MapSocketHandler upgrades /ws/map and runs one session per page.
type MapSocketHandler struct {
	base         context.Context
	mgr          *session.Manager
	pingInterval time.Duration
	upgrader     ws.Upgrader
	logger       *slog.Logger
}

// NewMapSocketHandler creates the handler. Sessions end when base is cancelled.
func NewMapSocketHandler(base context.Context, mgr *session.Manager, pingInterval time.Duration) *MapSocketHandler {
	return &MapSocketHandler{
		base:         base,
		mgr:          mgr,
		pingInterval: pingInterval,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: slog.With("component", "ws"),
	}
}

func (h *MapSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := view.NewConn(c, h.pingInterval, h.logger)
	h.logger.Debug("Map page connected", "remote", r.RemoteAddr, "conn", conn.ID())

	go func() {
		if err := conn.Run(h.base); err != nil {
			h.logger.Debug("Map page connection ended", "conn", conn.ID(), "error", err)
		}
	}()

	if err := h.mgr.Serve(h.base, conn); err != nil {
		// Map creation failures are logged by the session.
		var mce *mapsync.MapCreationError
		if errors.As(err, &mce) {
			return
		}
		h.logger.Warn("Session ended", "conn", conn.ID(), "error", err)
	}
}
