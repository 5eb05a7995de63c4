package config

// Persistent state keys (Registry)
const (
	KeyInitialZoom      = "initial_zoom"
	KeyFocusZoom        = "focus_zoom"
	KeyNearbyRings      = "nearby_rings"
	KeyPositionProvider = "position_provider"
	KeyPositionTimeout  = "position_timeout"
	KeyMockLat          = "mock_start_lat"
	KeyMockLon          = "mock_start_lon"
)

// RuntimeKeys lists the keys that may be changed through the settings API.
var RuntimeKeys = []string{
	KeyInitialZoom,
	KeyFocusZoom,
	KeyNearbyRings,
	KeyPositionProvider,
	KeyPositionTimeout,
	KeyMockLat,
	KeyMockLon,
}
