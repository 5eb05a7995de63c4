package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"geofollow/pkg/mapsync"
	"geofollow/pkg/store"
	"geofollow/pkg/tiles"
)

// Position providers.
const (
	PositionClient = "client" // browser geolocation over the page connection
	PositionMock   = "mock"   // simulated walker, see pkg/position/mockgeo
)

// Environment variables consulted after the config file is read.
const (
	EnvTileURL = "GEOFOLLOW_TILE_URL"
	EnvDBPath  = "GEOFOLLOW_DB_PATH"
)

// Config holds the application configuration.
type Config struct {
	Map      MapConfig      `yaml:"map"`
	Position PositionConfig `yaml:"position"`
	Markers  MarkersConfig  `yaml:"markers"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	Viewer   ViewerConfig   `yaml:"viewer"`
}

// MapConfig holds settings for the map view of every session.
type MapConfig struct {
	Container   string              `yaml:"container"`
	InitialZoom float64             `yaml:"initial_zoom"`
	FocusZoom   float64             `yaml:"focus_zoom"`
	Tiles       tiles.Source        `yaml:"tiles"`
	HomeIcon    mapsync.IconOptions `yaml:"home_icon"`
	MarkerIcon  mapsync.IconOptions `yaml:"marker_icon"`
}

// PositionConfig holds settings for the device position source.
type PositionConfig struct {
	Provider        string        `yaml:"provider"`
	Timeout         Duration      `yaml:"timeout"`
	LocateOnConnect bool          `yaml:"locate_on_connect"`
	Mock            MockGeoConfig `yaml:"mock"`
}

// MockGeoConfig holds settings for the simulated position provider.
type MockGeoConfig struct {
	StartLat float64  `yaml:"start_lat"`
	StartLon float64  `yaml:"start_lon"`
	Heading  float64  `yaml:"heading"`
	Speed    float64  `yaml:"speed"` // m/s
	Delay    Duration `yaml:"delay"`
	FailWith int      `yaml:"fail_with"` // 0 = answer with a fix
}

// MarkersConfig holds settings for the point-of-interest catalogue.
type MarkersConfig struct {
	File          string   `yaml:"file"`
	WatchInterval Duration `yaml:"watch_interval"`
	H3Resolution  int      `yaml:"h3_resolution"`
	NearbyRings   int      `yaml:"nearby_rings"` // 0 = show the whole catalogue
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	PingInterval Duration `yaml:"ping_interval"`
}

// ViewerConfig holds settings for the desktop viewer window.
type ViewerConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	defaults := mapsync.DefaultOptions()
	return &Config{
		Map: MapConfig{
			Container:   "map",
			InitialZoom: defaults.InitialZoom,
			FocusZoom:   defaults.FocusZoom,
			Tiles:       tiles.Default(),
			HomeIcon:    defaults.HomeIcon,
			MarkerIcon:  defaults.MarkerIcon,
		},
		Position: PositionConfig{
			Provider:        PositionClient,
			Timeout:         Duration(30 * time.Second),
			LocateOnConnect: true,
			Mock: MockGeoConfig{
				StartLat: 6.3345,
				StartLon: 3.93,
				Heading:  45,
				Speed:    1.4,
				Delay:    Duration(250 * time.Millisecond),
			},
		},
		Markers: MarkersConfig{
			File:          "",
			WatchInterval: Duration(5 * time.Second),
			H3Resolution:  8,
			NearbyRings:   0,
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/geofollow.db",
		},
		Server: ServerConfig{
			Address:      "localhost:1930",
			PingInterval: Duration(30 * time.Second),
		},
		Viewer: ViewerConfig{
			Title:  "GeoFollow",
			Width:  1280,
			Height: 800,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
// Environment overrides and path expansion are applied to the returned copy only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)
	cfg.DB.Path = expandPath(cfg.DB.Path)
	cfg.Markers.File = expandPath(cfg.Markers.File)
	cfg.Log.Server.Path = expandPath(cfg.Log.Server.Path)
	cfg.Log.Requests.Path = expandPath(cfg.Log.Requests.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvTileURL); v != "" {
		cfg.Map.Tiles.URLTemplate = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DB.Path = v
	}
}

var winEnvRe = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// expandPath resolves $VAR, ${VAR} and %VAR% references.
func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = winEnvRe.ReplaceAllStringFunc(p, func(m string) string {
		name := winEnvRe.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
	return os.ExpandEnv(p)
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if c.Map.Container == "" {
		return fmt.Errorf("map.container must not be empty")
	}
	if err := c.Map.Tiles.Validate(); err != nil {
		return fmt.Errorf("map.tiles: %w", err)
	}
	maxZoom := c.Map.Tiles.MaxZoom
	if maxZoom == 0 {
		maxZoom = tiles.DefaultMaxZoom
	}
	if c.Map.InitialZoom <= 0 || c.Map.InitialZoom > maxZoom {
		return fmt.Errorf("map.initial_zoom %v out of range (0, %v]", c.Map.InitialZoom, maxZoom)
	}
	if c.Map.FocusZoom <= 0 || c.Map.FocusZoom > maxZoom {
		return fmt.Errorf("map.focus_zoom %v out of range (0, %v]", c.Map.FocusZoom, maxZoom)
	}
	switch c.Position.Provider {
	case PositionClient, PositionMock:
	default:
		return fmt.Errorf("position.provider %q must be %q or %q", c.Position.Provider, PositionClient, PositionMock)
	}
	if c.Position.Timeout < 0 {
		return fmt.Errorf("position.timeout must not be negative")
	}
	if c.Markers.H3Resolution < 0 || c.Markers.H3Resolution > 15 {
		return fmt.Errorf("markers.h3_resolution %d out of range [0, 15]", c.Markers.H3Resolution)
	}
	if c.Markers.NearbyRings < 0 || c.Markers.NearbyRings > store.MaxRings {
		return fmt.Errorf("markers.nearby_rings %d out of range [0, %d]", c.Markers.NearbyRings, store.MaxRings)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# GeoFollow Configuration
# ----------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Environment overrides: GEOFOLLOW_TILE_URL, GEOFOLLOW_DB_PATH

`)
	data = append(header, data...)

	reProvider := regexp.MustCompile(`(?m)^(\s+)provider:`)
	data = reProvider.ReplaceAll(data, []byte("${1}# Options: client, mock\n${1}provider:"))

	reRings := regexp.MustCompile(`(?m)^(\s+)nearby_rings:`)
	data = reRings.ReplaceAll(data, []byte("${1}# H3 ring distance around the user; 0 shows all markers\n${1}nearby_rings:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
