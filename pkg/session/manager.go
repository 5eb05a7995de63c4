package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"geofollow/pkg/config"
	"geofollow/pkg/tracker"
)

// DefaultReadyTimeout bounds how long a new page may take to announce itself.
const DefaultReadyTimeout = 10 * time.Second

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live sessions.
type Manager struct {
	provider     config.Provider
	catalogue    Catalogue
	tracker      *tracker.Tracker
	logger       *slog.Logger
	readyTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(p config.Provider, c Catalogue, t *tracker.Tracker) *Manager {
	return &Manager{
		provider:     p,
		catalogue:    c,
		tracker:      t,
		logger:       slog.With("component", "session"),
		readyTimeout: DefaultReadyTimeout,
		sessions:     make(map[string]*Session),
	}
}

// Serve runs a session for page until the page disconnects, ctx ends or the
// map cannot be created. The page is closed when Serve returns.
func (m *Manager) Serve(ctx context.Context, page Page) error {
	readyCtx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	err := page.WaitReady(readyCtx)
	cancel()
	if err != nil {
		page.Close()
		return fmt.Errorf("page not ready: %w", err)
	}

	s, err := open(ctx, page, m.provider, m.catalogue, m.tracker, m.logger)
	if err != nil {
		m.logger.Error("Map creation failed", "page", page.ID(), "error", err)
		_ = page.SendError(err.Error())
		page.Close()
		return err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	total := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("Session opened", "session", shortID(s.ID()), "provider", s.provider, "sessions", total)

	defer func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		total := len(m.sessions)
		m.mu.Unlock()
		s.Close()
		m.logger.Info("Session closed", "session", shortID(s.ID()), "sessions", total)
	}()

	select {
	case <-page.Done():
		return nil
	case <-ctx.Done():
		return nil
	case <-s.Failed():
		return s.Err()
	}
}

// Get returns the session with the given id. A unique id prefix is accepted.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	var found *Session
	for sid, s := range m.sessions {
		if id != "" && strings.HasPrefix(sid, id) {
			if found != nil {
				return nil, fmt.Errorf("%w: ambiguous id %q", ErrSessionNotFound, id)
			}
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return found, nil
}

// List returns a snapshot of every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(all))
	for _, s := range all {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Locate issues a position request on the given session.
func (m *Manager) Locate(id string) (uint64, error) {
	s, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return s.Locate(), nil
}

// ReloadMarkers pushes the current catalogue to every session and returns how
// many were updated.
func (m *Manager) ReloadMarkers(ctx context.Context) int {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	updated := 0
	for _, s := range all {
		if err := s.ReloadMarkers(ctx); err != nil {
			s.logger.Warn("Markers not reloaded", "error", err)
			continue
		}
		updated++
	}
	return updated
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}
