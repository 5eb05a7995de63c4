package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"geofollow/pkg/markers"
	"geofollow/pkg/store"
)

const markersFileStateKey = "markers_file_mtime"

// Run executes all startup maintenance tasks. Failures are logged and do not
// stop startup. It blocks until completion.
func Run(ctx context.Context, s store.Store, markersPath string) error {
	slog.Info("Starting database maintenance...")

	imported, err := ImportMarkers(ctx, s, markersPath, false)
	if err != nil {
		slog.Error("Marker import failed", "error", err)
	} else if imported {
		slog.Info("Marker import completed")
	}

	if n, err := s.CountMarkers(ctx); err == nil {
		slog.Info("Marker catalogue ready", "count", n)
	}
	return nil
}

// ImportMarkers replaces the catalogue with the contents of path when the
// file changed since the last import, or always when force is set. It reports
// whether an import took place.
func ImportMarkers(ctx context.Context, s store.Store, path string, force bool) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat markers file: %w", err)
	}

	fileMTime := info.ModTime().UTC().Format(time.RFC3339Nano)
	if !force {
		storedMTime, found := s.GetState(ctx, markersFileStateKey)
		if found && storedMTime == fileMTime {
			return false, nil
		}
	}

	slog.Info("Importing markers...", "path", path)
	ms, err := markers.Load(path)
	if err != nil {
		return false, err
	}
	if err := s.ImportMarkers(ctx, filepath.Base(path), ms); err != nil {
		return false, fmt.Errorf("failed to store markers: %w", err)
	}
	slog.Info("Imported markers", "count", len(ms))

	if err := s.SetState(ctx, markersFileStateKey, fileMTime); err != nil {
		return true, fmt.Errorf("failed to update state: %w", err)
	}
	return true, nil
}
