// Package stream implements the live-source aggregate: the lifecycle
// state machine, the set of attached output sessions, and the broadcast
// path that fans ingest packets out to every session through a fixed-size
// worker pool.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/egress/internal/worker"
	"github.com/zsiec/egress/media"
)

// State is the stream lifecycle state.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrBadState is returned by lifecycle operations whose precondition
	// does not hold. No side effect accompanies it.
	ErrBadState = errors.New("stream: operation not legal in current state")

	// ErrTrackExists is returned by AddTrack for an already-registered id.
	ErrTrackExists = errors.New("stream: track already registered")
)

// defaultWorkers is the delivery pool size when none is configured,
// matching the two-worker provisioning of push streams upstream.
const defaultWorkers = 2

// Session is one attached output consumer of a stream. Deliver is invoked
// from the stream's worker pool, always in packet order for a given
// session; a Deliver error is a session-health signal and never aborts
// delivery to other sessions.
type Session interface {
	ID() uint64
	Deliver(pkt *media.Packet) error
	Close() error
}

// Observer receives outbound accounting from the broadcast path. Passed
// in at stream construction so the core stays testable in isolation.
type Observer interface {
	// OnBytesOut reports bytes fanned out by one broadcast call,
	// computed as payload length × current session count. This
	// overcounts when deliveries fail; the approximation is inherited
	// behavior, kept deliberately.
	OnBytesOut(stream string, mediaType media.MediaType, n int64)

	// OnSessionCount reports the session count after an attach/detach.
	OnSessionCount(stream string, count int)
}

type nopObserver struct{}

func (nopObserver) OnBytesOut(string, media.MediaType, int64) {}
func (nopObserver) OnSessionCount(string, int)                {}

// Stream is a live stream: it owns its sessions and broadcasts every
// ingest packet to all of them while started.
type Stream struct {
	log     *slog.Logger
	id      uint64
	name    string
	app     string
	obs     Observer
	pool    *worker.Pool
	workers int

	mu            sync.RWMutex
	state         State
	sessions      map[uint64]Session
	tracks        map[uint32]*media.Track
	lastSessionID uint64
	startedAt     time.Time
}

// Config carries stream construction parameters.
type Config struct {
	ID          uint64
	Application string
	Name        string
	Workers     int      // delivery pool size, defaulted when <= 0
	Observer    Observer // nil for none
	Log         *slog.Logger
}

// New creates a stream in the created state.
func New(cfg Config) *Stream {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Stream{
		log:      log.With("component", "stream", "stream", cfg.Name),
		id:       cfg.ID,
		name:     cfg.Name,
		app:      cfg.Application,
		obs:      obs,
		pool:     worker.NewPool(),
		workers:  workers,
		state:    StateCreated,
		sessions: make(map[uint64]Session),
		tracks:   make(map[uint32]*media.Track),
	}
}

// ID returns the stream id.
func (s *Stream) ID() uint64 { return s.id }

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Application returns the owning application's name. Back-reference only.
func (s *Stream) Application() string { return s.app }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StartedAt returns when Start succeeded, zero before that.
func (s *Stream) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// AddTrack registers a track. Tracks are registered by the ingest side
// before Start and are immutable afterwards.
func (s *Stream) AddTrack(t *media.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("%w: AddTrack in %s", ErrBadState, s.state)
	}
	if _, exists := s.tracks[t.ID]; exists {
		return fmt.Errorf("%w: %d", ErrTrackExists, t.ID)
	}
	s.tracks[t.ID] = t
	return nil
}

// Tracks returns the registered tracks ordered by id.
func (s *Stream) Tracks() []*media.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*media.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start moves the stream to started and provisions the delivery pool.
// Only legal from created; failure to provision fails the start.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("%w: Start in %s", ErrBadState, s.state)
	}
	if err := s.pool.Provision(s.workers); err != nil {
		return fmt.Errorf("stream: provision workers: %w", err)
	}

	s.state = StateStarted
	s.startedAt = time.Now()
	s.log.Info("stream started", "workers", s.workers, "tracks", len(s.tracks))
	return nil
}

// Stop moves the stream to stopped, drains in-flight deliveries, and
// detaches every session. Only legal from started. Session objects may
// outlive the stream but receive no further packets.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return fmt.Errorf("%w: Stop in %s", ErrBadState, s.state)
	}
	s.state = StateStopped
	detached := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		detached = append(detached, sess)
	}
	s.sessions = make(map[uint64]Session)
	s.mu.Unlock()

	// Drain queued deliveries before closing the sessions they target.
	s.pool.Shutdown()

	for _, sess := range detached {
		if err := sess.Close(); err != nil {
			s.log.Warn("closing session", "session", sess.ID(), "error", err)
		}
	}
	s.obs.OnSessionCount(s.name, 0)
	s.log.Info("stream stopped", "sessions_detached", len(detached))
	return nil
}

// SendVideoFrame broadcasts a video packet to all sessions. A silent
// no-op unless the stream is started.
func (s *Stream) SendVideoFrame(pkt *media.Packet) {
	if s.State() != StateStarted {
		return
	}
	s.sendFrame(pkt, media.MediaTypeVideo)
}

// SendAudioFrame broadcasts an audio packet to all sessions. A silent
// no-op unless the stream is started.
func (s *Stream) SendAudioFrame(pkt *media.Packet) {
	if s.State() != StateStarted {
		return
	}
	s.sendFrame(pkt, media.MediaTypeAudio)
}

// sendFrame broadcasts to a single consistent snapshot of the session
// set: a session attached mid-call is either fully included or fully
// excluded, never partially observed. Per-session delivery order equals
// submission order because the pool routes by session id.
func (s *Stream) sendFrame(pkt *media.Packet, mt media.MediaType) {
	s.mu.RLock()
	sessions := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess := sess
		if !s.pool.Submit(sess.ID(), func() {
			if err := sess.Deliver(pkt); err != nil {
				s.log.Warn("session delivery failed", "session", sess.ID(), "error", err)
			}
		}) {
			s.log.Warn("delivery queue full, packet dropped", "session", sess.ID())
		}
	}

	s.obs.OnBytesOut(s.name, mt, int64(len(pkt.Payload))*int64(len(sessions)))
}

// CreateSession allocates the next session id, builds a session with it,
// and attaches it atomically: on build failure nothing is inserted.
// Session ids increase monotonically and are never reused within the
// stream's lifetime. Not legal after the stream has stopped.
func (s *Stream) CreateSession(build func(id uint64) (Session, error)) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		return nil, fmt.Errorf("%w: CreateSession in %s", ErrBadState, s.state)
	}

	s.lastSessionID++
	id := s.lastSessionID

	sess, err := build(id)
	if err != nil {
		return nil, fmt.Errorf("stream: create session: %w", err)
	}
	if sess == nil {
		return nil, errors.New("stream: session builder returned nil")
	}

	s.sessions[id] = sess
	s.obs.OnSessionCount(s.name, len(s.sessions))
	s.log.Info("session attached", "session", id, "sessions", len(s.sessions))
	return sess, nil
}

// RemoveSession detaches a session by id and reports whether it was
// attached. Safe to call concurrently with an in-flight broadcast; the
// broadcast's snapshot keeps delivering to the removed session until the
// call completes, after which it receives nothing.
func (s *Stream) RemoveSession(id uint64) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return false
	}
	if err := sess.Close(); err != nil {
		s.log.Warn("closing session", "session", id, "error", err)
	}
	s.obs.OnSessionCount(s.name, count)
	s.log.Info("session detached", "session", id, "sessions", count)
	return true
}

// SessionCount returns the number of attached sessions.
func (s *Stream) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of the attached sessions ordered by id.
func (s *Stream) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
