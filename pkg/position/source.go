// Package position turns a single-shot device geolocation capability into an
// observable position state.
package position

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"geofollow/pkg/model"
	"geofollow/pkg/tracker"
)

// Capability is the host's geolocation facility.
type Capability interface {
	// Available reports whether the host supports geolocation at all.
	Available() bool
	// GetCurrentPosition starts a single-shot fix. Exactly one of the callbacks
	// fires, possibly on another goroutine. ctx is cancelled when the caller no
	// longer wants the result; implementations may ignore it.
	GetCurrentPosition(ctx context.Context, onSuccess func(model.GeoPosition), onError func(ErrorCode))
}

// State is the observable result of position requests.
type State struct {
	Position *model.GeoPosition `json:"position,omitempty"`
	Err      *GeoError          `json:"error,omitempty"`
	Loading  bool               `json:"loading"`
	// Seq is the sequence number of the request the state belongs to.
	Seq uint64 `json:"seq"`
}

func (s State) clone() State {
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	if s.Err != nil {
		e := *s.Err
		s.Err = &e
	}
	return s
}

// Option configures a Source.
type Option func(*Source)

// WithTimeout resolves a request as a timeout if the capability has not
// answered within d. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) { s.timeout = d }
}

// WithTracker records request outcomes under tracker.ProviderPosition.
func WithTracker(t *tracker.Tracker) Option {
	return func(s *Source) { s.tracker = t }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Source wraps a Capability and tracks the latest request.
//
// Issuing a new request cancels the previous one: its context is cancelled and
// any resolution it still produces is discarded. The terminal state therefore
// always belongs to the most recently issued request.
type Source struct {
	capability Capability
	timeout    time.Duration
	tracker    *tracker.Tracker
	logger     *slog.Logger

	// notifyMu serializes transitions together with their delivery so that
	// subscribers observe states in the order they were produced.
	notifyMu sync.Mutex

	mu      sync.Mutex
	state   State
	seq     uint64
	cancel  context.CancelFunc
	subs    map[int]func(State)
	nextSub int
	closed  bool
}

// NewSource creates a Source. A nil capability means the host has none.
func NewSource(c Capability, opts ...Option) *Source {
	s := &Source{
		capability: c,
		logger:     slog.Default(),
		subs:       make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn for every state transition. fn must not call
// RequestPosition synchronously. The returned func unregisters it.
func (s *Source) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// RequestPosition starts a new single-shot request and returns its sequence
// number. The capability is invoked at most once per call and never retried.
func (s *Source) RequestPosition(ctx context.Context) uint64 {
	var reqCtx context.Context
	var cancel context.CancelFunc
	if s.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}

	var seq uint64
	closed := false
	s.transition(func(st *State) bool {
		if s.closed {
			closed = true
			return false
		}
		s.seq++
		seq = s.seq
		if s.cancel != nil {
			s.cancel()
		}
		s.cancel = cancel
		st.Loading = true
		st.Err = nil
		st.Seq = seq
		return true
	})
	if closed {
		cancel()
		return 0
	}

	if s.tracker != nil {
		s.tracker.TrackRequest(tracker.ProviderPosition)
	}

	var once sync.Once
	finish := func(p *model.GeoPosition, e *GeoError) {
		once.Do(func() {
			s.resolve(seq, p, e)
			cancel()
		})
	}

	if s.capability == nil || !s.capability.Available() {
		s.logger.Warn("Geolocation capability unavailable", "request", seq)
		finish(nil, unsupported())
		return seq
	}

	go func() {
		<-reqCtx.Done()
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			finish(nil, &GeoError{Kind: KindTimeout, Message: MsgTimeout})
			return
		}
		finish(nil, &GeoError{Kind: KindUnknown, Message: MsgCancelled})
	}()

	s.logger.Debug("Requesting position", "request", seq)
	s.capability.GetCurrentPosition(reqCtx,
		func(p model.GeoPosition) { finish(&p, nil) },
		func(code ErrorCode) { finish(nil, Classify(code)) },
	)
	return seq
}

// Close cancels any in-flight request. After Close the state no longer
// changes and subscribers receive nothing further.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Source) resolve(seq uint64, p *model.GeoPosition, e *GeoError) {
	stale, closed := false, false
	s.transition(func(st *State) bool {
		if s.closed {
			closed = true
			return false
		}
		if seq != s.seq {
			stale = true
			return false
		}
		st.Loading = false
		if p != nil {
			st.Position = p
			st.Err = nil
		} else {
			st.Err = e
		}
		s.cancel = nil
		return true
	})

	switch {
	case closed:
		s.logger.Debug("Dropping position result after close", "request", seq)
	case stale:
		s.logger.Debug("Discarding superseded position result", "request", seq)
		if s.tracker != nil {
			s.tracker.TrackSuperseded(tracker.ProviderPosition)
		}
	case p != nil:
		s.logger.Debug("Position resolved", "request", seq, "lat", p.Latitude, "lon", p.Longitude)
		if s.tracker != nil {
			s.tracker.TrackSuccess(tracker.ProviderPosition)
		}
	default:
		s.logger.Info("Position request failed", "request", seq, "kind", e.Kind, "error", e.Message)
		if s.tracker != nil {
			s.tracker.TrackFailure(tracker.ProviderPosition)
		}
	}
}

// transition applies fn under the state lock and, if it reports a change,
// delivers the new state to all subscribers before the next transition starts.
func (s *Source) transition(fn func(*State) bool) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := fn(&s.state)
	st := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, sub := range subs {
		sub(st.clone())
	}
}
