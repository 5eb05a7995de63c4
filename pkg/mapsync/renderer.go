package mapsync

import (
	"errors"

	"geofollow/pkg/geo"
)

// ViewHandle identifies one live map view issued by a Renderer.
type ViewHandle string

// OverlayHandle identifies one live marker overlay issued by a Renderer.
type OverlayHandle string

// IconOptions describe how a marker overlay is drawn.
type IconOptions struct {
	IconURL     string     `yaml:"icon_url" json:"iconUrl,omitempty"`
	IconSize    [2]float64 `yaml:"icon_size" json:"iconSize,omitempty"`
	IconAnchor  [2]float64 `yaml:"icon_anchor" json:"iconAnchor,omitempty"`
	RiseOnHover bool       `yaml:"rise_on_hover" json:"riseOnHover,omitempty"`
	Title       string     `yaml:"-" json:"title,omitempty"`
}

// ErrContainerNotFound is returned by CreateView when the host has no region
// with the requested container id.
var ErrContainerNotFound = errors.New("map container not found")

// Renderer is the map rendering capability. Implementations own tile fetching
// and pan/zoom animation; the Synchronizer only issues these commands.
type Renderer interface {
	CreateView(containerID string, center geo.Point, zoom float64) (ViewHandle, error)
	SetView(v ViewHandle, center geo.Point, zoom float64) error
	AddTileLayer(v ViewHandle, urlTemplate, attribution string) error
	// AddMarker draws an overlay. onClick is invoked each time the overlay is
	// selected; it must not be invoked from within AddMarker itself.
	AddMarker(v ViewHandle, at geo.Point, icon IconOptions, onClick func()) (OverlayHandle, error)
	PanTo(v ViewHandle, at geo.Point, zoom float64) error
	RemoveMarker(o OverlayHandle) error
	RemoveView(v ViewHandle) error
}
