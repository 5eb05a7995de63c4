// Package mapsync keeps one live map view in step with the user's position and
// a marker list.
//
// A Synchronizer starts Uninitialized. The first position creates the view
// (Active); later positions re-center it. Marker lists that arrive before the
// view exists are buffered and applied once on activation. Every update is
// applied under one lock, so Snapshot never observes a half-applied overlay set.
package mapsync

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"geofollow/pkg/geo"
	"geofollow/pkg/model"
	"geofollow/pkg/position"
	"geofollow/pkg/tiles"
	"geofollow/pkg/tracker"
)

// ErrClosed is returned by operations on a closed Synchronizer.
var ErrClosed = errors.New("map synchronizer closed")

// MapCreationError reports that the view could not be created. It indicates
// an integration defect (for example a missing container) and is not
// recoverable by retrying.
type MapCreationError struct {
	Container string
	Err       error
}

func (e *MapCreationError) Error() string {
	return fmt.Sprintf("create map view in container %q: %v", e.Container, e.Err)
}

func (e *MapCreationError) Unwrap() error {
	return e.Err
}

// Options configures a Synchronizer.
type Options struct {
	InitialZoom float64
	FocusZoom   float64
	Tiles       tiles.Source
	HomeIcon    IconOptions
	MarkerIcon  IconOptions
	// OnSelect is called after a marker overlay was clicked and the view
	// re-centered on it. It runs without the synchronizer lock held.
	OnSelect func(model.Marker)
	Logger   *slog.Logger
	Tracker  *tracker.Tracker
}

// DefaultOptions returns the standard zoom levels, OSM tiles and icons.
func DefaultOptions() Options {
	return Options{
		InitialZoom: 15,
		FocusZoom:   18,
		Tiles:       tiles.Default(),
		HomeIcon: IconOptions{
			IconURL:    "/static/images/green-icon.png",
			IconSize:   [2]float64{38, 65},
			IconAnchor: [2]float64{22, 94},
		},
		MarkerIcon: IconOptions{RiseOnHover: true},
	}
}

type overlay struct {
	handle  OverlayHandle
	marker  model.Marker
	at      geo.Point
	removed bool
}

// View is a consistent snapshot of the synchronizer state.
type View struct {
	Container string         `json:"container"`
	Active    bool           `json:"active"`
	Closed    bool           `json:"closed"`
	Center    *geo.Point     `json:"center,omitempty"`
	Zoom      float64        `json:"zoom"`
	Home      *geo.Point     `json:"home,omitempty"`
	Markers   []model.Marker `json:"markers"`
	Overlays  int            `json:"overlays"`
	Pending   bool           `json:"pending"`
	Selected  *model.Marker  `json:"selected,omitempty"`
}

// Synchronizer owns the single map view of one container.
type Synchronizer struct {
	container string
	renderer  Renderer
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	view     ViewHandle
	active   bool
	closed   bool
	center   geo.Point
	zoom     float64
	lastFix  *model.GeoPosition
	home     *overlay
	markers  []model.Marker
	overlays map[string][]*overlay
	pending  bool
	selected *model.Marker
}

// New creates a Synchronizer for containerID. An empty container id is a
// MapCreationError.
func New(containerID string, r Renderer, opts Options) (*Synchronizer, error) {
	if containerID == "" {
		return nil, &MapCreationError{Container: containerID, Err: ErrContainerNotFound}
	}
	if r == nil {
		return nil, &MapCreationError{Container: containerID, Err: errors.New("nil renderer")}
	}
	def := DefaultOptions()
	if opts.InitialZoom <= 0 {
		opts.InitialZoom = def.InitialZoom
	}
	if opts.FocusZoom <= 0 {
		opts.FocusZoom = def.FocusZoom
	}
	if opts.Tiles.URLTemplate == "" {
		opts.Tiles = def.Tiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Synchronizer{
		container: containerID,
		renderer:  r,
		opts:      opts,
		logger:    logger.With("container", containerID),
		overlays:  make(map[string][]*overlay),
	}, nil
}

// Container returns the container id the synchronizer is bound to.
func (s *Synchronizer) Container() string {
	return s.container
}

// SetPosition creates the view on the first call and re-centers it on later
// calls, keeping the current zoom.
func (s *Synchronizer) SetPosition(p model.GeoPosition) error {
	return s.setPosition(p, nil, false)
}

// SetPositionZoom is SetPosition with an explicit zoom override.
func (s *Synchronizer) SetPositionZoom(p model.GeoPosition, zoom float64) error {
	return s.setPosition(p, &zoom, false)
}

// ObservePosition applies the fix carried by a position state if it differs
// from the last applied one. Loading and error transitions are ignored.
func (s *Synchronizer) ObservePosition(st position.State) error {
	if st.Position == nil {
		return nil
	}
	return s.setPosition(*st.Position, nil, true)
}

func (s *Synchronizer) setPosition(p model.GeoPosition, zoom *float64, skipSame bool) error {
	pt := geo.FromPosition(p)
	if err := pt.Validate(); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if skipSame && s.active && s.lastFix != nil && *s.lastFix == p {
		return nil
	}

	if !s.active {
		z := s.opts.InitialZoom
		if zoom != nil {
			z = *zoom
		}
		err := s.activate(pt, z)
		if s.active {
			s.lastFix = &p
		}
		return err
	}

	z := s.zoom
	if zoom != nil {
		z = *zoom
	}
	if err := s.renderer.SetView(s.view, pt, z); err != nil {
		return fmt.Errorf("re-center view: %w", err)
	}
	s.center = pt
	s.zoom = z
	s.lastFix = &p
	s.logger.Debug("Map re-centered", "lat", pt.Lat, "lon", pt.Lon, "zoom", z)

	return s.placeHome(pt)
}

// activate performs the Uninitialized -> Active transition. Caller holds mu.
func (s *Synchronizer) activate(pt geo.Point, zoom float64) error {
	view, err := s.renderer.CreateView(s.container, pt, zoom)
	if err != nil {
		s.logger.Error("Map view creation failed", "error", err)
		return &MapCreationError{Container: s.container, Err: err}
	}
	s.view = view
	s.active = true
	s.center = pt
	s.zoom = zoom
	s.logger.Info("Map view created", "view", view, "lat", pt.Lat, "lon", pt.Lon, "zoom", zoom)

	var errs []error
	if err := s.renderer.AddTileLayer(view, s.opts.Tiles.URLTemplate, s.opts.Tiles.Attribution); err != nil {
		errs = append(errs, fmt.Errorf("attach tile layer: %w", err))
	}
	if err := s.placeHome(pt); err != nil {
		errs = append(errs, err)
	}
	if s.pending {
		s.pending = false
		s.logger.Debug("Applying deferred markers", "count", len(s.markers))
		if err := s.reconcile(s.markers); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// placeHome replaces the home overlay so exactly one exists. Caller holds mu.
func (s *Synchronizer) placeHome(pt geo.Point) error {
	if s.home != nil {
		if err := s.renderer.RemoveMarker(s.home.handle); err != nil {
			return fmt.Errorf("remove home marker: %w", err)
		}
		s.home.removed = true
		s.home = nil
	}

	ov := &overlay{at: pt}
	h, err := s.renderer.AddMarker(s.view, pt, s.opts.HomeIcon, func() { s.onHomeClick(ov) })
	if err != nil {
		return fmt.Errorf("add home marker: %w", err)
	}
	ov.handle = h
	s.home = ov
	return nil
}

// SetMarkers replaces the logical marker list. Before the view exists the
// list is buffered (the latest one wins) and nothing is drawn.
func (s *Synchronizer) SetMarkers(ms []model.Marker) error {
	for i := range ms {
		if err := geo.FromMarker(&ms[i]).Validate(); err != nil {
			return fmt.Errorf("marker %d: %w", i, err)
		}
	}
	list := model.CloneMarkers(ms)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.markers = list
	if !s.active {
		s.pending = true
		s.logger.Debug("Deferring markers until map is active", "count", len(list))
		return nil
	}
	return s.reconcile(list)
}

// reconcile makes the live overlays equal the given list. Overlays are keyed
// by position and info; matching overlays are kept, surplus ones removed and
// missing ones added. Caller holds mu.
func (s *Synchronizer) reconcile(ms []model.Marker) error {
	want := make(map[string]int, len(ms))
	for i := range ms {
		want[ms[i].Key()]++
	}

	var errs []error
	removed := 0
	for key, live := range s.overlays {
		keep := want[key]
		for len(live) > keep {
			ov := live[len(live)-1]
			if err := s.renderer.RemoveMarker(ov.handle); err != nil {
				errs = append(errs, fmt.Errorf("remove marker overlay: %w", err))
				break
			}
			ov.removed = true
			live = live[:len(live)-1]
			removed++
		}
		if len(live) == 0 {
			delete(s.overlays, key)
		} else {
			s.overlays[key] = live
		}
	}

	added := 0
	seen := make(map[string]int, len(ms))
	for i := range ms {
		key := ms[i].Key()
		n := seen[key]
		seen[key] = n + 1
		if n < len(s.overlays[key]) {
			continue
		}

		pt := geo.FromMarker(&ms[i])
		icon := s.opts.MarkerIcon
		icon.Title = ms[i].Title()
		ov := &overlay{marker: ms[i].Clone(), at: pt}
		h, err := s.renderer.AddMarker(s.view, pt, icon, func() { s.onMarkerClick(ov) })
		if err != nil {
			errs = append(errs, fmt.Errorf("add marker overlay: %w", err))
			continue
		}
		ov.handle = h
		s.overlays[key] = append(s.overlays[key], ov)
		added++
	}

	if s.selected != nil && want[s.selected.Key()] == 0 {
		s.selected = nil
	}
	if s.opts.Tracker != nil {
		s.opts.Tracker.TrackAdded(tracker.ProviderOverlays, added)
		s.opts.Tracker.TrackRemoved(tracker.ProviderOverlays, removed)
	}
	s.logger.Debug("Markers reconciled", "added", added, "removed", removed, "live", s.overlayCount())
	return errors.Join(errs...)
}

func (s *Synchronizer) overlayCount() int {
	n := 0
	for _, live := range s.overlays {
		n += len(live)
	}
	return n
}

// Select focuses the marker at index i of the current list, as if its overlay
// had been clicked.
func (s *Synchronizer) Select(i int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if i < 0 || i >= len(s.markers) {
		s.mu.Unlock()
		return fmt.Errorf("marker index %d out of range [0, %d)", i, len(s.markers))
	}
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("marker %d not drawn yet: map is not active", i)
	}

	key := s.markers[i].Key()
	occurrence := 0
	for j := 0; j < i; j++ {
		if s.markers[j].Key() == key {
			occurrence++
		}
	}
	live := s.overlays[key]
	if occurrence >= len(live) {
		s.mu.Unlock()
		return fmt.Errorf("marker %d has no live overlay", i)
	}
	ov := live[occurrence]
	s.mu.Unlock()

	return s.onMarkerClick(ov)
}

func (s *Synchronizer) onMarkerClick(ov *overlay) error {
	s.mu.Lock()
	if s.closed || ov.removed || !s.active {
		s.mu.Unlock()
		return nil
	}
	if err := s.focus(ov.at); err != nil {
		s.mu.Unlock()
		s.logger.Warn("Failed to focus marker", "error", err)
		return err
	}
	m := ov.marker.Clone()
	s.selected = &m
	onSelect := s.opts.OnSelect
	s.mu.Unlock()

	s.logger.Debug("Marker selected", "title", m.Title())
	if onSelect != nil {
		onSelect(m.Clone())
	}
	return nil
}

func (s *Synchronizer) onHomeClick(ov *overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ov.removed || !s.active {
		return
	}
	if err := s.focus(ov.at); err != nil {
		s.logger.Warn("Failed to focus home marker", "error", err)
	}
}

// focus pans to pt at the focus zoom. Caller holds mu.
func (s *Synchronizer) focus(pt geo.Point) error {
	if err := s.renderer.PanTo(s.view, pt, s.opts.FocusZoom); err != nil {
		return fmt.Errorf("pan to marker: %w", err)
	}
	s.center = pt
	s.zoom = s.opts.FocusZoom
	return nil
}

// ObserveZoom records a zoom change made on the view itself, e.g. by the user.
func (s *Synchronizer) ObserveZoom(z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && !s.closed && z > 0 {
		s.zoom = z
	}
}

// Snapshot returns the current state.
func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Container: s.container,
		Active:    s.active,
		Closed:    s.closed,
		Zoom:      s.zoom,
		Markers:   model.CloneMarkers(s.markers),
		Overlays:  s.overlayCount(),
		Pending:   s.pending,
	}
	if v.Markers == nil {
		v.Markers = []model.Marker{}
	}
	if s.active {
		c := s.center
		v.Center = &c
	}
	if s.home != nil {
		h := s.home.at
		v.Home = &h
	}
	if s.selected != nil {
		m := s.selected.Clone()
		v.Selected = &m
	}
	return v
}

// Close removes all overlays and the view. The synchronizer cannot be reused.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.active {
		return nil
	}

	var errs []error
	removed := 0
	for key, live := range s.overlays {
		for _, ov := range live {
			ov.removed = true
			if err := s.renderer.RemoveMarker(ov.handle); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
		delete(s.overlays, key)
	}
	if s.home != nil {
		s.home.removed = true
		if err := s.renderer.RemoveMarker(s.home.handle); err != nil {
			errs = append(errs, err)
		}
		s.home = nil
	}
	if err := s.renderer.RemoveView(s.view); err != nil {
		errs = append(errs, err)
	}
	if s.opts.Tracker != nil {
		s.opts.Tracker.TrackRemoved(tracker.ProviderOverlays, removed)
	}
	s.logger.Info("Map view destroyed", "view", s.view)
	return errors.Join(errs...)
}
