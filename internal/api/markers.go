package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"geofollow/pkg/geo"
	"geofollow/pkg/markers"
	"geofollow/pkg/model"
	"geofollow/pkg/store"
)

const maxCatalogueBody = 32 << 20

// MarkerReloader pushes the catalogue to connected pages.
type MarkerReloader interface {
	ReloadMarkers(ctx context.Context) int
}

// MarkerHandler serves and replaces the marker catalogue.
type MarkerHandler struct {
	store    store.MarkerStore
	sessions MarkerReloader
}

func NewMarkerHandler(st store.MarkerStore, sessions MarkerReloader) *MarkerHandler {
	return &MarkerHandler{store: st, sessions: sessions}
}

// HandleList returns the catalogue. With lat, lon and rings it returns only
// the markers within that many H3 rings of the point.
func (h *MarkerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		ms  []model.Marker
		err error
	)
	if q.Has("lat") || q.Has("lon") {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			http.Error(w, "lat and lon must be numbers", http.StatusBadRequest)
			return
		}
		if err := (geo.Point{Lat: lat, Lon: lon}).Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rings := 1
		if v := q.Get("rings"); v != "" {
			rings, err = strconv.Atoi(v)
			if err != nil || rings < 0 || rings > store.MaxRings {
				http.Error(w, store.ErrRingsOutOfRange.Error(), http.StatusBadRequest)
				return
			}
		}
		ms, err = h.store.ListMarkersNear(ctx, lat, lon, rings)
	} else {
		ms, err = h.store.ListMarkers(ctx)
	}
	if err != nil {
		slog.Error("Failed to list markers", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ms == nil {
		ms = []model.Marker{}
	}
	writeJSON(w, http.StatusOK, ms)
}

// HandleReplace replaces the catalogue and pushes it to every session. The
// body is a JSON marker array, a GeoJSON document (application/geo+json) or
// CSV (text/csv).
func (h *MarkerHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCatalogueBody+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxCatalogueBody {
		http.Error(w, "Catalogue too large", http.StatusRequestEntityTooLarge)
		return
	}

	ms, err := decodeCatalogue(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	if err := h.store.ReplaceMarkers(ctx, ms); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated := 0
	if h.sessions != nil {
		updated = h.sessions.ReloadMarkers(ctx)
	}
	slog.Info("Marker catalogue replaced", "markers", len(ms), "sessions", updated)
	writeJSON(w, http.StatusOK, map[string]int{"markers": len(ms), "sessions": updated})
}

func decodeCatalogue(contentType string, body []byte) ([]model.Marker, error) {
	mt := "application/json"
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("content type: %w", err)
		}
		mt = parsed
	}

	switch mt {
	case "application/geo+json":
		return markers.ParseGeoJSON(body)
	case "text/csv":
		return markers.ParseCSV(bytes.NewReader(body))
	case "application/json":
		var ms []model.Marker
		if err := json.Unmarshal(body, &ms); err != nil {
			return nil, fmt.Errorf("decode markers: %w", err)
		}
		return ms, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", mt)
	}
}
