package stream

import (
	"log/slog"
	"sync"
)

// Manager tracks the lifecycle of active streams by name, providing
// create/remove/get/list operations used by the ingest boundary and the
// control API.
type Manager struct {
	log     *slog.Logger
	app     string
	workers int
	obs     Observer
	mu      sync.RWMutex
	streams map[string]*Stream
	lastID  uint64
}

// NewManager creates a stream manager for one application. If log is nil,
// slog.Default() is used; obs may be nil.
func NewManager(app string, workers int, obs Observer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager", "application", app),
		app:     app,
		workers: workers,
		obs:     obs,
		streams: make(map[string]*Stream),
	}
}

// Create registers a new stream. Returns the stream and true if created,
// or nil and false if a stream with this name already exists. Stream ids
// increase monotonically and are never reused.
func (m *Manager) Create(name string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[name]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "name", name)
		return nil, false
	}

	m.lastID++
	s := New(Config{
		ID:          m.lastID,
		Application: m.app,
		Name:        name,
		Workers:     m.workers,
		Observer:    m.obs,
		Log:         m.log,
	})

	m.streams[name] = s
	m.log.Info("stream created", "name", name, "id", s.ID())
	return s, true
}

// Get returns the stream with the given name, or nil.
func (m *Manager) Get(name string) *Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[name]
}

// Remove detaches a stream from the manager and stops it if started.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	s, ok := m.streams[name]
	if ok {
		delete(m.streams, name)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if s.State() == StateStarted {
		if err := s.Stop(); err != nil {
			m.log.Warn("stopping removed stream", "name", name, "error", err)
		}
	}
	m.log.Info("stream removed", "name", name)
}

// List returns all active streams.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	return streams
}
