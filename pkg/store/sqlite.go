package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/uber/h3-go/v4"

	"geofollow/pkg/db"
	"geofollow/pkg/geo"
	"geofollow/pkg/model"
)

// DefaultResolution is the H3 resolution markers are indexed at (~0.7 km² cells).
const DefaultResolution = 8

// MaxRings bounds nearby queries. A disk of k rings holds 3k²+3k+1 cells,
// so 50 rings is 7651 cells.
const MaxRings = 50

// ErrRingsOutOfRange is returned for a ring count outside [0, MaxRings].
var ErrRingsOutOfRange = fmt.Errorf("rings must be between 0 and %d", MaxRings)

// SourceAPI marks markers stored through ReplaceMarkers.
const SourceAPI = "api"

// inChunk bounds the number of bound parameters per IN clause.
const inChunk = 500

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	MarkerStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db         *db.DB
	resolution int
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithResolution sets the H3 resolution used to index markers.
func WithResolution(res int) Option {
	return func(s *SQLiteStore) {
		if res >= 0 && res <= 15 {
			s.resolution = res
		}
	}
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{db: d, resolution: DefaultResolution}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Resolution returns the H3 resolution of the cell index.
func (s *SQLiteStore) Resolution() int {
	return s.resolution
}

// --- Markers ---

func (s *SQLiteStore) ReplaceMarkers(ctx context.Context, ms []model.Marker) error {
	return s.ImportMarkers(ctx, SourceAPI, ms)
}

// ImportMarkers replaces the whole catalogue in one transaction.
func (s *SQLiteStore) ImportMarkers(ctx context.Context, source string, ms []model.Marker) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM markers"); err != nil {
		return fmt.Errorf("clear markers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO markers (position, lat, lon, info, h3_cell, source) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range ms {
		m := &ms[i]
		if err := geo.FromMarker(m).Validate(); err != nil {
			return fmt.Errorf("marker %d: %w", i, err)
		}
		cell, err := h3.LatLngToCell(h3.LatLng{Lat: m.Latitude, Lng: m.Longitude}, s.resolution)
		if err != nil {
			return fmt.Errorf("marker %d: index cell: %w", i, err)
		}
		info, err := json.Marshal(m.Info)
		if err != nil {
			return fmt.Errorf("marker %d: encode info: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, i, m.Latitude, m.Longitude, string(info), cell.String(), source); err != nil {
			return fmt.Errorf("marker %d: insert: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListMarkers(ctx context.Context) ([]model.Marker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT lat, lon, info FROM markers ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMarkers(rows)
}

// ListMarkersNear returns the markers whose cell lies within rings grid steps
// of the cell containing (lat, lon), in stored order.
func (s *SQLiteStore) ListMarkersNear(ctx context.Context, lat, lon float64, rings int) ([]model.Marker, error) {
	if rings < 0 || rings > MaxRings {
		return nil, fmt.Errorf("%w, got %d", ErrRingsOutOfRange, rings)
	}
	origin, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, s.resolution)
	if err != nil {
		return nil, fmt.Errorf("index origin: %w", err)
	}
	disk, err := h3.GridDisk(origin, rings)
	if err != nil {
		return nil, fmt.Errorf("grid disk: %w", err)
	}

	type row struct {
		pos int
		m   model.Marker
	}
	var found []row

	for start := 0; start < len(disk); start += inChunk {
		end := min(start+inChunk, len(disk))
		chunk := disk[start:end]

		args := make([]any, len(chunk))
		for i, c := range chunk {
			args[i] = c.String()
		}
		query := `SELECT position, lat, lon, info FROM markers WHERE h3_cell IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `)`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var r row
			var info sql.NullString
			if err := rows.Scan(&r.pos, &r.m.Latitude, &r.m.Longitude, &info); err != nil {
				rows.Close()
				return nil, err
			}
			if r.m.Info, err = decodeInfo(info); err != nil {
				rows.Close()
				return nil, err
			}
			found = append(found, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	// Chunks return rows out of global order.
	slices.SortFunc(found, func(a, b row) int { return a.pos - b.pos })

	out := make([]model.Marker, len(found))
	for i, r := range found {
		out[i] = r.m
	}
	return out, nil
}

func (s *SQLiteStore) CountMarkers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM markers").Scan(&n)
	return n, err
}

func scanMarkers(rows *sql.Rows) ([]model.Marker, error) {
	out := []model.Marker{}
	for rows.Next() {
		var m model.Marker
		var info sql.NullString
		if err := rows.Scan(&m.Latitude, &m.Longitude, &info); err != nil {
			return nil, err
		}
		var err error
		if m.Info, err = decodeInfo(info); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func decodeInfo(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil, nil
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(ns.String), &info); err != nil {
		return nil, fmt.Errorf("decode marker info: %w", err)
	}
	return info, nil
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
