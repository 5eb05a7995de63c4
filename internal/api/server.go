package api

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"geofollow/internal/ui"
	"geofollow/pkg/version"
)

// NewServer creates and configures the HTTP server.
// It accepts handlers for all API endpoints and a shutdownFunc for graceful shutdown.
func NewServer(addr string, stats *StatsHandler, cfg *ConfigHandler, sessions *SessionHandler, markersH *MarkerHandler, socket *MapSocketHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2b. Settings Endpoints
	mux.HandleFunc("/api/settings", cfg.HandleConfig)

	// 2c. Stats Endpoint
	mux.Handle("GET /api/stats", stats)

	// 2d. Logs Endpoints
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	mux.HandleFunc("GET /api/log/recent", handleRecentLog)

	// 2e. Session Endpoints
	mux.HandleFunc("GET /api/sessions", sessions.HandleList)
	mux.HandleFunc("GET /api/sessions/{id}", sessions.HandleGet)
	mux.HandleFunc("POST /api/sessions/{id}/locate", sessions.HandleLocate)

	// 2f. Marker Catalogue Endpoints
	mux.HandleFunc("GET /api/markers", markersH.HandleList)
	mux.HandleFunc("PUT /api/markers", markersH.HandleReplace)

	// 2g. Map Page Socket
	mux.Handle("GET /ws/map", socket)

	// 3. Shutdown Endpoint
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// Call shutdown in a goroutine to allow response to flush
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	// 4. Static Frontend Serving (SPA)
	// We need to serve from the "dist" subdirectory of the embedded FS
	distFS, err := fs.Sub(ui.DistFS, "dist")
	if err != nil {
		panic(fmt.Sprintf("Failed to subtree dist from embedded assets: %v", err))
	}

	spaFS := &spaFileSystem{root: http.FS(distFS)}
	mux.Handle("/", http.FileServer(spaFS))

	// No WriteTimeout: /ws/map connections are long-lived and set their own
	// write deadlines.
	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
