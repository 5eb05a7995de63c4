package mapsync

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geofollow/pkg/geo"
	"geofollow/pkg/model"
	"geofollow/pkg/position"
	"geofollow/pkg/tracker"
)

type fakeOverlay struct {
	view    ViewHandle
	at      geo.Point
	icon    IconOptions
	onClick func()
}

type fakeCall struct {
	op   string
	at   geo.Point
	zoom float64
}

// fakeRenderer records every command and keeps the live overlay set.
type fakeRenderer struct {
	mu         sync.Mutex
	containers map[string]bool
	next       int
	views      map[ViewHandle]string
	tileLayers map[ViewHandle]int
	overlays   map[OverlayHandle]*fakeOverlay
	calls      []fakeCall
	failAdd    error
}

func newFakeRenderer(containers ...string) *fakeRenderer {
	f := &fakeRenderer{
		containers: make(map[string]bool),
		views:      make(map[ViewHandle]string),
		tileLayers: make(map[ViewHandle]int),
		overlays:   make(map[OverlayHandle]*fakeOverlay),
	}
	for _, c := range containers {
		f.containers[c] = true
	}
	return f
}

func (f *fakeRenderer) CreateView(containerID string, center geo.Point, zoom float64) (ViewHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{op: "createView", at: center, zoom: zoom})
	if !f.containers[containerID] {
		return "", ErrContainerNotFound
	}
	f.next++
	h := ViewHandle(fmt.Sprintf("view-%d", f.next))
	f.views[h] = containerID
	return h, nil
}

func (f *fakeRenderer) SetView(v ViewHandle, center geo.Point, zoom float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{op: "setView", at: center, zoom: zoom})
	return nil
}

func (f *fakeRenderer) AddTileLayer(v ViewHandle, urlTemplate, attribution string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tileLayers[v]++
	return nil
}

func (f *fakeRenderer) AddMarker(v ViewHandle, at geo.Point, icon IconOptions, onClick func()) (OverlayHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return "", f.failAdd
	}
	f.next++
	h := OverlayHandle(fmt.Sprintf("overlay-%d", f.next))
	f.overlays[h] = &fakeOverlay{view: v, at: at, icon: icon, onClick: onClick}
	return h, nil
}

func (f *fakeRenderer) PanTo(v ViewHandle, at geo.Point, zoom float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{op: "panTo", at: at, zoom: zoom})
	return nil
}

func (f *fakeRenderer) RemoveMarker(o OverlayHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.overlays[o]; !ok {
		return fmt.Errorf("unknown overlay %s", o)
	}
	delete(f.overlays, o)
	return nil
}

func (f *fakeRenderer) RemoveView(v ViewHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.views, v)
	return nil
}

// poiOverlays returns the live overlays that are not the home marker.
func (f *fakeRenderer) poiOverlays(home IconOptions) []*fakeOverlay {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeOverlay
	for _, o := range f.overlays {
		if o.icon.IconURL == home.IconURL && o.icon.Title == "" {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (f *fakeRenderer) homeOverlays(home IconOptions) []*fakeOverlay {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeOverlay
	for _, o := range f.overlays {
		if o.icon.IconURL == home.IconURL && o.icon.Title == "" {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeRenderer) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeRenderer) last(op string) fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].op == op {
			return f.calls[i]
		}
	}
	return fakeCall{}
}

func (f *fakeRenderer) overlayAt(p geo.Point) *fakeOverlay {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.overlays {
		if o.at == p && o.icon.Title != "" {
			return o
		}
	}
	return nil
}

func marker(lat, lon float64, name string) model.Marker {
	return model.Marker{Latitude: lat, Longitude: lon, Info: map[string]string{"name": name}}
}

func newSync(t *testing.T, r Renderer, opts Options) *Synchronizer {
	t.Helper()
	s, err := New("map", r, opts)
	require.NoError(t, err)
	return s
}

var home = model.GeoPosition{Latitude: 6.3345, Longitude: 3.93}

func TestNew_EmptyContainer(t *testing.T) {
	_, err := New("", newFakeRenderer(), Options{})
	var mce *MapCreationError
	require.ErrorAs(t, err, &mce)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestSetPosition_MissingContainerIsFatal(t *testing.T) {
	r := newFakeRenderer("other")
	s := newSync(t, r, Options{})

	err := s.SetPosition(home)
	var mce *MapCreationError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, "map", mce.Container)
	assert.ErrorIs(t, err, ErrContainerNotFound)
	assert.False(t, s.Snapshot().Active)
}

func TestSetPosition_ActivatesOnce(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, Options{})

	require.NoError(t, s.SetPosition(home))
	require.NoError(t, s.SetPosition(model.GeoPosition{Latitude: 6.4, Longitude: 3.95}))
	require.NoError(t, s.SetPosition(model.GeoPosition{Latitude: 6.5, Longitude: 3.96}))

	assert.Equal(t, 1, r.count("createView"), "exactly one view per container")
	assert.Equal(t, 2, r.count("setView"))
	assert.Len(t, r.views, 1)
	for v := range r.views {
		assert.Equal(t, 1, r.tileLayers[v], "tile layer attached once")
	}

	first := r.last("createView")
	assert.Equal(t, 15.0, first.zoom)
	assert.Equal(t, geo.FromPosition(home), first.at)
}

func TestSetPosition_KeepsUserZoom(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, Options{})
	require.NoError(t, s.SetPosition(home))

	s.ObserveZoom(12)
	next := model.GeoPosition{Latitude: 7, Longitude: 4}
	require.NoError(t, s.SetPosition(next))

	c := r.last("setView")
	assert.Equal(t, 12.0, c.zoom)
	assert.Equal(t, geo.FromPosition(next), c.at)

	require.NoError(t, s.SetPositionZoom(home, 9))
	assert.Equal(t, 9.0, r.last("setView").zoom)
	assert.Equal(t, 9.0, s.Snapshot().Zoom)
}

func TestSetPosition_InvalidRejected(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, Options{})
	assert.Error(t, s.SetPosition(model.GeoPosition{Latitude: 95, Longitude: 0}))
	assert.Equal(t, 0, r.count("createView"))
}

func TestHomeMarker_SingleAndFollows(t *testing.T) {
	r := newFakeRenderer("map")
	opts := DefaultOptions()
	s := newSync(t, r, opts)

	require.NoError(t, s.SetPosition(home))
	require.Len(t, r.homeOverlays(opts.HomeIcon), 1)

	next := model.GeoPosition{Latitude: 6.4, Longitude: 3.95}
	require.NoError(t, s.SetPosition(next))
	homes := r.homeOverlays(opts.HomeIcon)
	require.Len(t, homes, 1, "home marker must not be duplicated")
	assert.Equal(t, geo.FromPosition(next), homes[0].at)

	snap := s.Snapshot()
	require.NotNil(t, snap.Home)
	assert.Equal(t, geo.FromPosition(next), *snap.Home)
}

func TestSetMarkers_DeferredUntilActive(t *testing.T) {
	r := newFakeRenderer("map")
	opts := DefaultOptions()
	s := newSync(t, r, opts)

	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "a")}))
	require.NoError(t, s.SetMarkers([]model.Marker{marker(2, 2, "b"), marker(3, 3, "c")}))

	assert.Empty(t, r.poiOverlays(opts.HomeIcon), "nothing drawn before activation")
	snap := s.Snapshot()
	assert.True(t, snap.Pending)
	assert.Len(t, snap.Markers, 2)

	require.NoError(t, s.SetPosition(home))
	pois := r.poiOverlays(opts.HomeIcon)
	assert.Len(t, pois, 2, "latest pending list applied")
	assert.False(t, s.Snapshot().Pending)

	// The buffer is flushed exactly once.
	require.NoError(t, s.SetPosition(model.GeoPosition{Latitude: 6.4, Longitude: 3.95}))
	assert.Len(t, r.poiOverlays(opts.HomeIcon), 2)
}

func TestSetMarkers_Reconcile(t *testing.T) {
	a, b, c := marker(1, 1, "a"), marker(2, 2, "b"), marker(3, 3, "c")

	tests := []struct {
		name  string
		steps [][]model.Marker
		want  int
	}{
		{"Add", [][]model.Marker{{a, b}}, 2},
		{"Shrink", [][]model.Marker{{a, b, c}, {a}}, 1},
		{"Swap", [][]model.Marker{{a, b}, {b, c}}, 2},
		{"Clear", [][]model.Marker{{a, b, c}, {}}, 0},
		{"Repeat", [][]model.Marker{{a, b}, {a, b}, {a, b}}, 2},
		{"Duplicates", [][]model.Marker{{a, a, b}, {a}}, 1},
		{"Nil", [][]model.Marker{{a}, nil}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRenderer("map")
			opts := DefaultOptions()
			s := newSync(t, r, opts)
			require.NoError(t, s.SetPosition(home))

			for _, ms := range tt.steps {
				require.NoError(t, s.SetMarkers(ms))
			}
			assert.Len(t, r.poiOverlays(opts.HomeIcon), tt.want)
			assert.Len(t, r.homeOverlays(opts.HomeIcon), 1)
			assert.Equal(t, tt.want, s.Snapshot().Overlays)
		})
	}
}

func TestSetMarkers_KeepsUnchangedOverlays(t *testing.T) {
	r := newFakeRenderer("map")
	tr := tracker.New()
	opts := DefaultOptions()
	opts.Tracker = tr
	s := newSync(t, r, opts)
	require.NoError(t, s.SetPosition(home))

	a, b := marker(1, 1, "a"), marker(2, 2, "b")
	require.NoError(t, s.SetMarkers([]model.Marker{a, b}))
	before := r.overlayAt(geo.FromMarker(&a))
	require.NotNil(t, before)

	require.NoError(t, s.SetMarkers([]model.Marker{a, marker(3, 3, "c")}))
	assert.Same(t, before, r.overlayAt(geo.FromMarker(&a)), "matching overlay must be kept")

	stats := tr.Snapshot()[tracker.ProviderOverlays]
	assert.Equal(t, int64(3), stats.Added)
	assert.Equal(t, int64(1), stats.Removed)
}

func TestSetMarkers_InfoChangeReplacesOverlay(t *testing.T) {
	r := newFakeRenderer("map")
	opts := DefaultOptions()
	s := newSync(t, r, opts)
	require.NoError(t, s.SetPosition(home))

	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "old")}))
	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "new")}))

	pois := r.poiOverlays(opts.HomeIcon)
	require.Len(t, pois, 1)
	assert.Equal(t, "new", pois[0].icon.Title)
}

func TestSetMarkers_InvalidListRejectedWhole(t *testing.T) {
	r := newFakeRenderer("map")
	opts := DefaultOptions()
	s := newSync(t, r, opts)
	require.NoError(t, s.SetPosition(home))
	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "a")}))

	err := s.SetMarkers([]model.Marker{marker(2, 2, "b"), marker(100, 0, "bad")})
	assert.Error(t, err)
	assert.Len(t, r.poiOverlays(opts.HomeIcon), 1)
	assert.Equal(t, "a", s.Snapshot().Markers[0].Info["name"])
}

func TestSetMarkers_RendererFailureReported(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, DefaultOptions())
	require.NoError(t, s.SetPosition(home))

	boom := errors.New("boom")
	r.failAdd = boom
	err := s.SetMarkers([]model.Marker{marker(1, 1, "a")})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Snapshot().Overlays)
}

func TestMarkerClick_FocusesAndSelects(t *testing.T) {
	r := newFakeRenderer("map")
	var got []model.Marker
	opts := DefaultOptions()
	opts.OnSelect = func(m model.Marker) { got = append(got, m) }
	s := newSync(t, r, opts)
	require.NoError(t, s.SetPosition(home))

	m := marker(6.34, 3.94, "Lighthouse")
	require.NoError(t, s.SetMarkers([]model.Marker{m}))

	o := r.overlayAt(geo.FromMarker(&m))
	require.NotNil(t, o)
	o.onClick()

	pan := r.last("panTo")
	assert.Equal(t, geo.FromMarker(&m), pan.at)
	assert.Equal(t, 18.0, pan.zoom)

	snap := s.Snapshot()
	assert.Equal(t, 18.0, snap.Zoom)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, "Lighthouse", snap.Selected.Title())
	require.Len(t, got, 1)
	assert.Equal(t, m.Key(), got[0].Key())
}

func TestMarkerClick_RemovedOverlayIgnored(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, DefaultOptions())
	require.NoError(t, s.SetPosition(home))

	m := marker(1, 1, "gone")
	require.NoError(t, s.SetMarkers([]model.Marker{m}))
	o := r.overlayAt(geo.FromMarker(&m))
	require.NotNil(t, o)

	require.NoError(t, s.SetMarkers(nil))
	o.onClick()
	assert.Equal(t, 0, r.count("panTo"))
}

func TestHomeClick_Focuses(t *testing.T) {
	r := newFakeRenderer("map")
	opts := DefaultOptions()
	s := newSync(t, r, opts)
	require.NoError(t, s.SetPosition(home))

	homes := r.homeOverlays(opts.HomeIcon)
	require.Len(t, homes, 1)
	homes[0].onClick()

	assert.Equal(t, geo.FromPosition(home), r.last("panTo").at)
	assert.Nil(t, s.Snapshot().Selected)
}

func TestSelect(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, DefaultOptions())

	assert.Error(t, s.Select(0), "empty list")
	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "a")}))
	assert.Error(t, s.Select(0), "not active")

	require.NoError(t, s.SetPosition(home))
	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "a"), marker(2, 2, "b")}))
	require.NoError(t, s.Select(1))
	assert.Equal(t, geo.Point{Lat: 2, Lon: 2}, r.last("panTo").at)
	assert.Error(t, s.Select(5))
}

func TestObservePosition(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, DefaultOptions())

	require.NoError(t, s.ObservePosition(position.State{Loading: true}))
	assert.False(t, s.Snapshot().Active)

	p := home
	require.NoError(t, s.ObservePosition(position.State{Position: &p}))
	assert.True(t, s.Snapshot().Active)

	// Same fix again is a no-op.
	require.NoError(t, s.ObservePosition(position.State{Position: &p, Loading: true}))
	assert.Equal(t, 0, r.count("setView"))

	q := model.GeoPosition{Latitude: 6.5, Longitude: 3.9}
	require.NoError(t, s.ObservePosition(position.State{Position: &q}))
	assert.Equal(t, 1, r.count("setView"))
}

func TestClose(t *testing.T) {
	r := newFakeRenderer("map")
	s := newSync(t, r, DefaultOptions())
	require.NoError(t, s.SetPosition(home))
	require.NoError(t, s.SetMarkers([]model.Marker{marker(1, 1, "a")}))

	require.NoError(t, s.Close())
	assert.Empty(t, r.overlays)
	assert.Empty(t, r.views)
	assert.True(t, s.Snapshot().Closed)

	assert.ErrorIs(t, s.SetPosition(home), ErrClosed)
	assert.ErrorIs(t, s.SetMarkers(nil), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestConcurrentUpdates(t *testing.T) {
	r := newFakeRenderer("map")
	opts := DefaultOptions()
	s := newSync(t, r, opts)
	require.NoError(t, s.SetPosition(home))

	lists := [][]model.Marker{
		{marker(1, 1, "a"), marker(2, 2, "b")},
		{marker(3, 3, "c")},
		{marker(1, 1, "a"), marker(4, 4, "d"), marker(5, 5, "e")},
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.SetMarkers(lists[i%len(lists)])
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = s.SetPosition(model.GeoPosition{Latitude: 6 + float64(i)/100, Longitude: 3.9})
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, r.poiOverlays(opts.HomeIcon), len(snap.Markers))
	assert.Equal(t, len(snap.Markers), snap.Overlays)
	assert.Len(t, r.homeOverlays(opts.HomeIcon), 1)
}
