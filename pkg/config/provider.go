package config

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"geofollow/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
// Values set through the settings API take precedence over the file.
type Provider interface {
	// Map
	InitialZoom(ctx context.Context) float64
	FocusZoom(ctx context.Context) float64
	NearbyRings(ctx context.Context) int

	// Position
	PositionProvider(ctx context.Context) string
	PositionTimeout(ctx context.Context) time.Duration
	MockStartLat(ctx context.Context) float64
	MockStartLon(ctx context.Context) float64

	// Raw access (for components that need deep access)
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) InitialZoom(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyInitialZoom, p.base.Map.InitialZoom)
}

func (p *UnifiedProvider) FocusZoom(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyFocusZoom, p.base.Map.FocusZoom)
}

func (p *UnifiedProvider) NearbyRings(ctx context.Context) int {
	return min(max(p.getInt(ctx, KeyNearbyRings, p.base.Markers.NearbyRings), 0), store.MaxRings)
}

func (p *UnifiedProvider) PositionProvider(ctx context.Context) string {
	fallback := p.base.Position.Provider
	if fallback == "" {
		fallback = PositionClient
	}
	return p.getString(ctx, KeyPositionProvider, fallback)
}

func (p *UnifiedProvider) PositionTimeout(ctx context.Context) time.Duration {
	return p.getDuration(ctx, KeyPositionTimeout, time.Duration(p.base.Position.Timeout))
}

func (p *UnifiedProvider) MockStartLat(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyMockLat, p.base.Position.Mock.StartLat)
}

func (p *UnifiedProvider) MockStartLon(ctx context.Context) float64 {
	return p.getFloat64(ctx, KeyMockLon, p.base.Position.Mock.StartLon)
}

// Set validates and stores a runtime override.
func (p *UnifiedProvider) Set(ctx context.Context, key, val string) error {
	if p.store == nil {
		return fmt.Errorf("no state store configured")
	}
	if err := ValidateRuntime(key, val); err != nil {
		return err
	}
	return p.store.SetState(ctx, key, val)
}

// Reset removes a runtime override so the file value applies again.
func (p *UnifiedProvider) Reset(ctx context.Context, key string) error {
	if !slices.Contains(RuntimeKeys, key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	if p.store == nil {
		return nil
	}
	return p.store.DeleteState(ctx, key)
}

// Values returns the effective value of every runtime key.
func (p *UnifiedProvider) Values(ctx context.Context) map[string]any {
	return map[string]any{
		KeyInitialZoom:      p.InitialZoom(ctx),
		KeyFocusZoom:        p.FocusZoom(ctx),
		KeyNearbyRings:      p.NearbyRings(ctx),
		KeyPositionProvider: p.PositionProvider(ctx),
		KeyPositionTimeout:  p.PositionTimeout(ctx).String(),
		KeyMockLat:          p.MockStartLat(ctx),
		KeyMockLon:          p.MockStartLon(ctx),
	}
}

// ValidateRuntime checks a settings API value for key.
func ValidateRuntime(key, val string) error {
	switch key {
	case KeyInitialZoom, KeyFocusZoom:
		z, err := strconv.ParseFloat(val, 64)
		if err != nil || z <= 0 || z > 22 {
			return fmt.Errorf("%s: invalid zoom %q", key, val)
		}
	case KeyNearbyRings:
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 || n > store.MaxRings {
			return fmt.Errorf("%s: invalid ring count %q (0-%d)", key, val, store.MaxRings)
		}
	case KeyPositionProvider:
		if val != PositionClient && val != PositionMock {
			return fmt.Errorf("%s: unknown provider %q", key, val)
		}
	case KeyPositionTimeout:
		if _, err := ParseDuration(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	case KeyMockLat, KeyMockLon:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid coordinate %q", key, val)
		}
		limit := 180.0
		if key == KeyMockLat {
			limit = 90
		}
		if f < -limit || f > limit {
			return fmt.Errorf("%s: %v out of range", key, f)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getFloat64(ctx context.Context, key string, fallback float64) float64 {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}
