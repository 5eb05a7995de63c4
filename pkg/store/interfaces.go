package store

import (
	"context"

	"geofollow/pkg/model"
)

// MarkerStore handles the point-of-interest catalogue.
// List order is the order the markers were stored in.
type MarkerStore interface {
	ReplaceMarkers(ctx context.Context, ms []model.Marker) error
	ImportMarkers(ctx context.Context, source string, ms []model.Marker) error
	ListMarkers(ctx context.Context) ([]model.Marker, error)
	ListMarkersNear(ctx context.Context, lat, lon float64, rings int) ([]model.Marker, error)
	CountMarkers(ctx context.Context) (int, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
