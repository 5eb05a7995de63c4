// Package session binds one connected map page to a position source and a
// map synchronizer.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"geofollow/internal/view"
	"geofollow/pkg/config"
	"geofollow/pkg/mapsync"
	"geofollow/pkg/model"
	"geofollow/pkg/position"
	"geofollow/pkg/position/mockgeo"
	"geofollow/pkg/tracker"
)

// Page is a connected map page. *view.Conn implements it.
type Page interface {
	mapsync.Renderer
	position.Capability
	ID() string
	WaitReady(ctx context.Context) error
	Done() <-chan struct{}
	SendState(st position.State) error
	SendError(msg string) error
	SetHandlers(h view.Handlers)
	Close()
}

// Catalogue is the marker data source.
type Catalogue interface {
	ListMarkers(ctx context.Context) ([]model.Marker, error)
	ListMarkersNear(ctx context.Context, lat, lon float64, rings int) ([]model.Marker, error)
}

// Info is the externally visible state of a session.
type Info struct {
	ID       string         `json:"id"`
	Created  time.Time      `json:"created"`
	Provider string         `json:"provider"`
	Rings    int            `json:"nearby_rings"`
	Position position.State `json:"position"`
	Map      mapsync.View   `json:"map"`
}

// Session is one page, its position source and its synchronizer.
type Session struct {
	id        string
	created   time.Time
	provider  string
	rings     int
	page      Page
	source    *position.Source
	sync      *mapsync.Synchronizer
	catalogue Catalogue
	logger    *slog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	capCloser   io.Closer

	errOnce sync.Once
	failed  chan struct{}
	err     error

	closeOnce sync.Once
}

func open(ctx context.Context, page Page, prov config.Provider, cat Catalogue, tr *tracker.Tracker, logger *slog.Logger) (*Session, error) {
	cfg := prov.AppConfig()
	s := &Session{
		id:        page.ID(),
		created:   time.Now(),
		provider:  prov.PositionProvider(ctx),
		rings:     prov.NearbyRings(ctx),
		page:      page,
		catalogue: cat,
		logger:    logger.With("session", shortID(page.ID())),
		failed:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	opts := mapsync.DefaultOptions()
	opts.InitialZoom = prov.InitialZoom(ctx)
	opts.FocusZoom = prov.FocusZoom(ctx)
	opts.Tiles = cfg.Map.Tiles.Sanitized()
	opts.HomeIcon = cfg.Map.HomeIcon
	opts.MarkerIcon = cfg.Map.MarkerIcon
	opts.Tracker = tr
	opts.Logger = s.logger
	opts.OnSelect = func(m model.Marker) {
		s.logger.Info("Marker selected", "title", m.Title(), "lat", m.Latitude, "lon", m.Longitude)
	}

	syncer, err := mapsync.New(cfg.Map.Container, page, opts)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.sync = syncer

	var capability position.Capability = page
	if s.provider == config.PositionMock {
		mc := cfg.Position.Mock
		mock := mockgeo.New(mockgeo.Config{
			StartLat: prov.MockStartLat(ctx),
			StartLon: prov.MockStartLon(ctx),
			Heading:  mc.Heading,
			Speed:    mc.Speed,
			Delay:    time.Duration(mc.Delay),
			FailWith: position.ErrorCode(mc.FailWith),
		})
		capability = mock
		s.capCloser = mock
	}

	s.source = position.NewSource(capability,
		position.WithTimeout(prov.PositionTimeout(ctx)),
		position.WithTracker(tr),
		position.WithLogger(s.logger),
	)
	s.unsubscribe = s.source.Subscribe(s.onState)

	page.SetHandlers(view.Handlers{
		OnLocate: func() { s.Locate() },
		OnZoom:   func(_ mapsync.ViewHandle, z float64) { s.sync.ObserveZoom(z) },
	})

	// Without a fix there is nothing nearby to show yet.
	if s.rings == 0 {
		if err := s.reloadMarkers(s.ctx, nil); err != nil {
			s.logger.Warn("Initial markers not loaded", "error", err)
		}
	}
	if cfg.Position.LocateOnConnect {
		s.Locate()
	}
	return s, nil
}

// ID returns the session id, which is the page connection id.
func (s *Session) ID() string { return s.id }

// Locate issues a new position request and returns its sequence number.
func (s *Session) Locate() uint64 {
	return s.source.RequestPosition(s.ctx)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:       s.id,
		Created:  s.created,
		Provider: s.provider,
		Rings:    s.rings,
		Position: s.source.State(),
		Map:      s.sync.Snapshot(),
	}
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	select {
	case <-s.failed:
		return s.err
	default:
		return nil
	}
}

// Failed is closed when the session hit a fatal error.
func (s *Session) Failed() <-chan struct{} { return s.failed }

// ReloadMarkers re-reads the catalogue and re-diffs the map.
func (s *Session) ReloadMarkers(ctx context.Context) error {
	return s.reloadMarkers(ctx, s.source.State().Position)
}

func (s *Session) reloadMarkers(ctx context.Context, at *model.GeoPosition) error {
	var (
		ms  []model.Marker
		err error
	)
	if s.rings > 0 {
		if at == nil {
			return nil
		}
		ms, err = s.catalogue.ListMarkersNear(ctx, at.Latitude, at.Longitude, s.rings)
	} else {
		ms, err = s.catalogue.ListMarkers(ctx)
	}
	if err != nil {
		return err
	}
	return s.sync.SetMarkers(ms)
}

func (s *Session) onState(st position.State) {
	if err := s.page.SendState(st); err != nil && !errors.Is(err, view.ErrConnClosed) {
		s.logger.Debug("State not sent", "error", err)
	}
	if err := s.sync.ObservePosition(st); err != nil {
		var mce *mapsync.MapCreationError
		if errors.As(err, &mce) {
			s.fail(err)
			return
		}
		if errors.Is(err, mapsync.ErrClosed) {
			return
		}
		// The view exists; a nearby reload below still brings overlays in line.
		s.logger.Warn("Map not fully updated", "error", err)
	}
	if st.Position != nil && s.rings > 0 {
		if err := s.reloadMarkers(s.ctx, st.Position); err != nil {
			s.logger.Warn("Nearby markers not loaded", "error", err)
		}
	}
}

func (s *Session) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		s.logger.Error("Map creation failed", "error", err)
		_ = s.page.SendError(err.Error())
		close(s.failed)
	})
}

// Close tears down the map and the page. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.unsubscribe()
		s.source.Close()
		if err := s.sync.Close(); err != nil && !errors.Is(err, view.ErrConnClosed) {
			s.logger.Debug("Map teardown incomplete", "error", err)
		}
		if s.capCloser != nil {
			_ = s.capCloser.Close()
		}
		s.page.Close()
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
