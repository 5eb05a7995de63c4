package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"geofollow/pkg/geo"
	"geofollow/pkg/logging"
	"geofollow/pkg/mapsync"
	"geofollow/pkg/model"
	"geofollow/pkg/position"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 1024
	maxMessageSize = 64 * 1024
)

var (
	// ErrConnClosed is returned by commands issued after the page went away.
	ErrConnClosed = errors.New("view connection closed")
	// ErrSendBufferFull is returned when the page stopped draining commands
	// for longer than the write timeout. The connection is closed with it.
	ErrSendBufferFull = errors.New("view send buffer full")
	// ErrNotReady is returned when the page has not announced itself yet.
	ErrNotReady = errors.New("view page not ready")
	// ErrUnknownHandle is returned for handles this connection did not issue.
	ErrUnknownHandle = errors.New("unknown view or overlay handle")
)

// Handlers receive page events that are not answers to a command.
type Handlers struct {
	// OnLocate fires when the user asks the page to re-locate.
	OnLocate func()
	// OnZoom fires when the user zooms a view.
	OnZoom func(v mapsync.ViewHandle, zoom float64)
}

type locateRequest struct {
	onSuccess func(model.GeoPosition)
	onError   func(position.ErrorCode)
}

// Conn is one browser map page. It implements mapsync.Renderer and
// position.Capability. Commands are queued and written by a single writer
// goroutine; events are read and dispatched on the reader goroutine.
type Conn struct {
	id           string
	conn         *ws.Conn
	logger       *slog.Logger
	pingInterval time.Duration
	sendTimeout  time.Duration

	sendCh    chan []byte
	done      chan struct{}
	readyCh   chan struct{}
	closeOnce sync.Once
	readyOnce sync.Once
	started   atomic.Bool

	mu          sync.Mutex
	containers  []string
	geolocation bool
	views       map[mapsync.ViewHandle]string
	overlays    map[mapsync.OverlayHandle]func()
	locates     map[string]locateRequest
	handlers    Handlers
}

// NewConn wraps an upgraded websocket. pingInterval of zero disables pings.
func NewConn(c *ws.Conn, pingInterval time.Duration, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Conn{
		id:           id,
		conn:         c,
		logger:       logger.With("conn", id[:8]),
		pingInterval: pingInterval,
		sendCh:       make(chan []byte, sendBufferSize),
		sendTimeout:  writeWait,
		done:         make(chan struct{}),
		readyCh:      make(chan struct{}),
		views:        make(map[mapsync.ViewHandle]string),
		overlays:     make(map[mapsync.OverlayHandle]func()),
		locates:      make(map[string]locateRequest),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// SetHandlers replaces the event handlers.
func (c *Conn) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// Run starts the writer and reads events until the page disconnects or ctx
// ends. It always closes the connection before returning.
func (c *Conn) Run(ctx context.Context) error {
	c.started.Store(true)
	go c.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	err := c.readLoop()
	c.Close()
	return err
}

// WaitReady blocks until the page sent its ready event.
func (c *Conn) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Containers returns the container ids the page announced.
func (c *Conn) Containers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.containers)
}

// Close ends the connection. Queued commands are still written, pending
// locate requests are dropped. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		clear(c.locates)
		c.mu.Unlock()
		// The writer flushes queued commands and closes the socket itself.
		if !c.started.Load() {
			_ = c.conn.Close()
		}
	})
}

// SendState pushes the position state to the page.
func (c *Conn) SendState(st position.State) error {
	return c.send(CmdState, st)
}

// SendError reports a fatal error to the page.
func (c *Conn) SendError(msg string) error {
	return c.send(CmdError, ErrorCmd{Message: msg})
}

// --- mapsync.Renderer ---

func (c *Conn) CreateView(containerID string, center geo.Point, zoom float64) (mapsync.ViewHandle, error) {
	select {
	case <-c.readyCh:
	default:
		return "", ErrNotReady
	}

	c.mu.Lock()
	if !slices.Contains(c.containers, containerID) {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %q", mapsync.ErrContainerNotFound, containerID)
	}
	v := mapsync.ViewHandle("v-" + uuid.New().String())
	c.views[v] = containerID
	c.mu.Unlock()

	if err := c.send(CmdCreateView, CreateViewCmd{View: v, Container: containerID, Center: center, Zoom: zoom}); err != nil {
		c.mu.Lock()
		delete(c.views, v)
		c.mu.Unlock()
		return "", err
	}
	return v, nil
}

func (c *Conn) SetView(v mapsync.ViewHandle, center geo.Point, zoom float64) error {
	if !c.hasView(v) {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, v)
	}
	return c.send(CmdSetView, SetViewCmd{View: v, Center: center, Zoom: zoom})
}

func (c *Conn) AddTileLayer(v mapsync.ViewHandle, urlTemplate, attribution string) error {
	if !c.hasView(v) {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, v)
	}
	return c.send(CmdAddTileLayer, AddTileLayerCmd{View: v, URLTemplate: urlTemplate, Attribution: attribution})
}

func (c *Conn) AddMarker(v mapsync.ViewHandle, at geo.Point, icon mapsync.IconOptions, onClick func()) (mapsync.OverlayHandle, error) {
	if !c.hasView(v) {
		return "", fmt.Errorf("%w: %s", ErrUnknownHandle, v)
	}
	o := mapsync.OverlayHandle("o-" + uuid.New().String())
	c.mu.Lock()
	c.overlays[o] = onClick
	c.mu.Unlock()

	if err := c.send(CmdAddMarker, AddMarkerCmd{View: v, Overlay: o, At: at, Icon: icon}); err != nil {
		c.mu.Lock()
		delete(c.overlays, o)
		c.mu.Unlock()
		return "", err
	}
	return o, nil
}

func (c *Conn) PanTo(v mapsync.ViewHandle, at geo.Point, zoom float64) error {
	if !c.hasView(v) {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, v)
	}
	return c.send(CmdPanTo, PanToCmd{View: v, At: at, Zoom: zoom})
}

func (c *Conn) RemoveMarker(o mapsync.OverlayHandle) error {
	c.mu.Lock()
	_, ok := c.overlays[o]
	delete(c.overlays, o)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, o)
	}
	return c.send(CmdRemoveMarker, RemoveMarkerCmd{Overlay: o})
}

func (c *Conn) RemoveView(v mapsync.ViewHandle) error {
	c.mu.Lock()
	_, ok := c.views[v]
	delete(c.views, v)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, v)
	}
	return c.send(CmdRemoveView, RemoveViewCmd{View: v})
}

func (c *Conn) hasView(v mapsync.ViewHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.views[v]
	return ok
}

// --- position.Capability ---

// Available reports whether the page announced a geolocation API. It is
// false until the page is ready.
func (c *Conn) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geolocation
}

// GetCurrentPosition asks the page for one fix. The request is forgotten when
// ctx ends; a late answer is then ignored.
func (c *Conn) GetCurrentPosition(ctx context.Context, onSuccess func(model.GeoPosition), onError func(position.ErrorCode)) {
	id := uuid.New().String()
	c.mu.Lock()
	c.locates[id] = locateRequest{onSuccess: onSuccess, onError: onError}
	c.mu.Unlock()

	if err := c.send(CmdLocate, LocateCmd{Request: id}); err != nil {
		c.logger.Warn("Locate request not sent", "error", err)
		if req, ok := c.takeLocate(id); ok {
			go req.onError(position.CodePositionUnavailable)
		}
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			c.takeLocate(id)
		case <-c.done:
		}
	}()
}

func (c *Conn) takeLocate(id string) (locateRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.locates[id]
	delete(c.locates, id)
	return req, ok
}

// --- loops ---

// send queues a command for the writer, waiting for buffer space while the
// page drains earlier commands. Commands are never dropped: a page that
// stalls past sendTimeout is disconnected so its session ends.
func (c *Conn) send(typ string, payload any) error {
	msg, err := encode(typ, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.sendCh <- msg:
		logging.Trace(c.logger, "View command queued", "type", typ)
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()
	select {
	case c.sendCh <- msg:
		logging.Trace(c.logger, "View command queued after wait", "type", typ)
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-timer.C:
		c.logger.Warn("Page stopped reading commands, closing", "type", typ, "queued", len(c.sendCh))
		c.Close()
		return ErrSendBufferFull
	}
}

func (c *Conn) writeLoop() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = c.conn.Close()
			return
		case msg := <-c.sendCh:
			if err := c.write(msg); err != nil {
				c.logger.Debug("View write failed", "error", err)
				c.Close()
				_ = c.conn.Close()
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("View ping failed", "error", err)
				c.Close()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *Conn) write(msg []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(ws.TextMessage, msg)
}

// flush writes whatever is still queued, stopping at the first failure.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) readLoop() error {
	c.conn.SetReadLimit(maxMessageSize)
	if c.pingInterval > 0 {
		wait := 2 * c.pingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				return nil
			}
			return err
		}
		if c.pingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Malformed view event", "error", err)
			continue
		}
		logging.Trace(c.logger, "View event", "type", env.Type)
		if err := c.dispatch(env); err != nil {
			c.logger.Warn("View event rejected", "type", env.Type, "error", err)
		}
	}
}

func (c *Conn) dispatch(env Envelope) error {
	switch env.Type {
	case EventReady:
		var ev ReadyEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.containers = ev.Containers
		c.geolocation = ev.Geolocation
		c.mu.Unlock()
		c.readyOnce.Do(func() { close(c.readyCh) })

	case EventClick:
		var ev ClickEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		onClick, ok := c.overlays[ev.Overlay]
		c.mu.Unlock()
		if !ok {
			// Clicks on overlays removed while the event was in flight.
			return nil
		}
		if onClick != nil {
			onClick()
		}

	case EventZoom:
		var ev ZoomEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		h := c.handlers.OnZoom
		c.mu.Unlock()
		if h != nil {
			h(ev.View, ev.Zoom)
		}

	case EventLocate:
		c.mu.Lock()
		h := c.handlers.OnLocate
		c.mu.Unlock()
		if h != nil {
			h()
		}

	case EventPosition:
		var ev PositionEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if req, ok := c.takeLocate(ev.Request); ok {
			req.onSuccess(model.GeoPosition{Latitude: ev.Lat, Longitude: ev.Lon})
		}

	case EventPositionError:
		var ev PositionErrorEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if req, ok := c.takeLocate(ev.Request); ok {
			req.onError(position.ErrorCode(ev.Code))
		}

	default:
		return fmt.Errorf("unknown event %q", env.Type)
	}
	return nil
}
