package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "geofollow.yaml")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Map.InitialZoom != 15 {
					t.Errorf("expected initial zoom 15, got %v", cfg.Map.InitialZoom)
				}
				if cfg.Map.FocusZoom != 18 {
					t.Errorf("expected focus zoom 18, got %v", cfg.Map.FocusZoom)
				}
				if cfg.Position.Provider != PositionClient {
					t.Errorf("expected provider client, got %q", cfg.Position.Provider)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "container: map") {
					t.Error("config file missing default values")
				}
				if !strings.Contains(string(content), "# Options: client, mock") {
					t.Error("config file missing provider comment")
				}
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				err := os.WriteFile(configPath, []byte("map:\n  focus_zoom: 17\nposition:\n  provider: mock\n  timeout: 1m\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Map.FocusZoom != 17 {
					t.Errorf("expected focus zoom 17, got %v", cfg.Map.FocusZoom)
				}
				if cfg.Map.InitialZoom != 15 {
					t.Errorf("unset fields must keep defaults, got %v", cfg.Map.InitialZoom)
				}
				if cfg.Position.Provider != PositionMock {
					t.Errorf("expected mock provider, got %q", cfg.Position.Provider)
				}
				if time.Duration(cfg.Position.Timeout) != time.Minute {
					t.Errorf("expected 1m timeout, got %v", time.Duration(cfg.Position.Timeout))
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "initial_zoom") {
					t.Error("existing config file must not be rewritten")
				}
			},
		},
		{
			name: "Env_Override",
			setup: func() {
				t.Setenv(EnvTileURL, "https://tiles.example.com/{z}/{x}/{y}.png")
				t.Setenv(EnvDBPath, "/tmp/env.db")
				err := os.WriteFile(configPath, []byte("db:\n  path: ./file.db\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Map.Tiles.URLTemplate != "https://tiles.example.com/{z}/{x}/{y}.png" {
					t.Errorf("tile url not taken from env: %q", cfg.Map.Tiles.URLTemplate)
				}
				if cfg.DB.Path != "/tmp/env.db" {
					t.Errorf("db path not taken from env: %q", cfg.DB.Path)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "env.db") {
					t.Error("environment override should NOT be persisted to config file")
				}
			},
		},
		{
			name: "Path_Env_Expansion",
			setup: func() {
				t.Setenv("GEOFOLLOW_HOME", "/home/geo")
				t.Setenv("APP_DATA", "/app/data")
				err := os.WriteFile(configPath, []byte("db:\n  path: \"$GEOFOLLOW_HOME/db.sqlite\"\nmarkers:\n  file: \"%APP_DATA%/pois.geojson\"\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.DB.Path != "/home/geo/db.sqlite" {
					t.Errorf("expected expanded db path, got %q", cfg.DB.Path)
				}
				if cfg.Markers.File != "/app/data/pois.geojson" {
					t.Errorf("expected expanded markers file, got %q", cfg.Markers.File)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "$GEOFOLLOW_HOME") {
					t.Error("config file should keep raw $VAR path")
				}
			},
		},
		{
			name: "Invalid_YAML",
			setup: func() {
				err := os.WriteFile(configPath, []byte("map: [not a map]"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "Invalid_Provider",
			setup: func() {
				err := os.WriteFile(configPath, []byte("position:\n  provider: gps\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
		{
			name: "FocusZoom_Above_Tile_Max",
			setup: func() {
				err := os.WriteFile(configPath, []byte("map:\n  focus_zoom: 23\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if (err != nil) != tt.expectedError {
				t.Fatalf("Load() error = %v, expectedError %v", err, tt.expectedError)
			}
			if err == nil {
				tt.validate(t, cfg)
				tt.checkFile(t)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Defaults", func(*Config) {}, false},
		{"Empty container", func(c *Config) { c.Map.Container = "" }, true},
		{"Bad tiles", func(c *Config) { c.Map.Tiles.URLTemplate = "not a url" }, true},
		{"Zero initial zoom", func(c *Config) { c.Map.InitialZoom = 0 }, true},
		{"Negative rings", func(c *Config) { c.Markers.NearbyRings = -1 }, true},
		{"Max rings", func(c *Config) { c.Markers.NearbyRings = 50 }, false},
		{"Too many rings", func(c *Config) { c.Markers.NearbyRings = 51 }, true},
		{"Resolution too fine", func(c *Config) { c.Markers.H3Resolution = 16 }, true},
		{"Custom max zoom", func(c *Config) { c.Map.Tiles.MaxZoom = 22; c.Map.FocusZoom = 21 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "default_config.yaml")

	if err := GenerateDefault(configPath); err != nil {
		t.Fatalf("GenerateDefault() error = %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("GenerateDefault() did not create file")
	}
	if err := GenerateDefault(configPath); err != nil {
		t.Errorf("GenerateDefault() error on second run = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("generated file does not load: %v", err)
	}
	if cfg.Map.Tiles.URLTemplate == "" {
		t.Error("tile template lost in round trip")
	}
}
