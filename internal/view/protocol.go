// Package view drives a browser map page over a websocket. One Conn is both
// the page's map renderer and its geolocation capability.
package view

import (
	"encoding/json"

	"geofollow/pkg/geo"
	"geofollow/pkg/mapsync"
)

// Page -> server event types.
const (
	EventReady         = "ready"
	EventLocate        = "locate"
	EventClick         = "click"
	EventZoom          = "zoom"
	EventPosition      = "position"
	EventPositionError = "positionError"
)

// Server -> page command types.
const (
	CmdCreateView   = "createView"
	CmdSetView      = "setView"
	CmdAddTileLayer = "addTileLayer"
	CmdAddMarker    = "addMarker"
	CmdPanTo        = "panTo"
	CmdRemoveMarker = "removeMarker"
	CmdRemoveView   = "removeView"
	CmdLocate       = "locate"
	CmdState        = "state"
	CmdError        = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReadyEvent announces the page's map containers and whether it has a
// geolocation API.
type ReadyEvent struct {
	Containers  []string `json:"containers"`
	Geolocation bool     `json:"geolocation"`
}

type ClickEvent struct {
	Overlay mapsync.OverlayHandle `json:"overlay"`
}

type ZoomEvent struct {
	View mapsync.ViewHandle `json:"view"`
	Zoom float64            `json:"zoom"`
}

type PositionEvent struct {
	Request string  `json:"request"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type PositionErrorEvent struct {
	Request string `json:"request"`
	Code    int    `json:"code"`
}

type CreateViewCmd struct {
	View      mapsync.ViewHandle `json:"view"`
	Container string             `json:"container"`
	Center    geo.Point          `json:"center"`
	Zoom      float64            `json:"zoom"`
}

type SetViewCmd struct {
	View   mapsync.ViewHandle `json:"view"`
	Center geo.Point          `json:"center"`
	Zoom   float64            `json:"zoom"`
}

type AddTileLayerCmd struct {
	View        mapsync.ViewHandle `json:"view"`
	URLTemplate string             `json:"urlTemplate"`
	Attribution string             `json:"attribution"`
	MaxZoom     float64            `json:"maxZoom,omitempty"`
}

type AddMarkerCmd struct {
	View    mapsync.ViewHandle    `json:"view"`
	Overlay mapsync.OverlayHandle `json:"overlay"`
	At      geo.Point             `json:"at"`
	Icon    mapsync.IconOptions   `json:"icon"`
}

type PanToCmd struct {
	View mapsync.ViewHandle `json:"view"`
	At   geo.Point          `json:"at"`
	Zoom float64            `json:"zoom"`
}

type RemoveMarkerCmd struct {
	Overlay mapsync.OverlayHandle `json:"overlay"`
}

type RemoveViewCmd struct {
	View mapsync.ViewHandle `json:"view"`
}

type LocateCmd struct {
	Request string `json:"request"`
}

// ErrorCmd reports a fatal session error before the server closes the page.
type ErrorCmd struct {
	Message string `json:"message"`
}

func encode(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}
