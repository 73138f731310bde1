package push

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/egress/internal/container"
	"github.com/zsiec/egress/internal/remux"
	"github.com/zsiec/egress/internal/stream"
	"github.com/zsiec/egress/media"
)

// defaultMaxFailures is how many consecutive delivery failures a session
// tolerates before detaching itself from its stream.
const defaultMaxFailures = 10

// Session remultiplexes one stream's packets for one target. It
// implements stream.Session; Deliver runs on the stream's worker pool.
type Session struct {
	log      *slog.Logger
	id       uint64
	owner    *stream.Stream
	writer   *remux.Writer
	target   Target
	maxFails int32

	failures   atomic.Int32
	detachOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// Create attaches a new push session to s. The target must already be
// connected; the caller keeps ownership of it until Create succeeds. The
// session's writer registers every stream track the target container can
// carry — packets of skipped tracks are silently dropped by the writer —
// then writes the container header. Any failure leaves the stream's
// session set untouched.
func Create(s *stream.Stream, target Target, mux container.Muxer, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	// Snapshot outside the factory: the stream holds its lock while the
	// builder runs, so the builder must not call back into the stream.
	tracks := s.Tracks()

	sess, err := s.CreateSession(func(id uint64) (stream.Session, error) {
		return newSession(id, s, tracks, target, mux, log)
	})
	if err != nil {
		return nil, err
	}
	return sess.(*Session), nil
}

func newSession(id uint64, owner *stream.Stream, tracks []*media.Track, target Target, mux container.Muxer, log *slog.Logger) (*Session, error) {
	log = log.With("component", "push-session", "stream", owner.Name(), "session", id)

	w := remux.NewWriter(mux, log)
	if err := w.SetTarget(target.Destination(), target.Format(), target.Sink()); err != nil {
		return nil, err
	}

	registered := 0
	for _, tr := range tracks {
		if !formatCarries(target.Format(), tr.Codec) {
			log.Info("track excluded from push target", "track", tr.ID, "codec", tr.Codec)
			continue
		}
		if err := w.AddTrack(tr); err != nil {
			w.Stop()
			return nil, err
		}
		registered++
	}
	if registered == 0 {
		w.Stop()
		return nil, fmt.Errorf("push: no track of stream %q fits container %s", owner.Name(), target.Format())
	}

	if err := w.Start(); err != nil {
		w.Stop()
		return nil, err
	}

	log.Info("push session started", "target", target.Destination(), "tracks", registered)
	return &Session{
		log:      log,
		id:       id,
		owner:    owner,
		writer:   w,
		target:   target,
		maxFails: defaultMaxFailures,
	}, nil
}

// formatCarries reports whether the container format can carry the codec.
// Tracks that don't fit are left unregistered so the shared packet
// pipeline silently drops them for this target.
func formatCarries(f container.Format, c media.CodecID) bool {
	switch f {
	case container.FormatFLV:
		switch c {
		case media.CodecIDH264, media.CodecIDAAC, media.CodecIDMP3:
			return true
		}
	case container.FormatMP4:
		switch c {
		case media.CodecIDH264, media.CodecIDH265, media.CodecIDAAC, media.CodecIDMP3:
			return true
		}
	case container.FormatMPEGTS:
		switch c {
		case media.CodecIDH264, media.CodecIDH265, media.CodecIDAAC, media.CodecIDMP3, media.CodecIDOpus:
			return true
		}
	}
	return false
}

// ID returns the stream-assigned session id.
func (s *Session) ID() uint64 { return s.id }

// Target returns the session's downstream destination.
func (s *Session) Target() string { return s.target.Destination() }

// Deliver feeds one packet to the writer. A failure is isolated to this
// call; after maxFails consecutive failures the session detaches itself
// from the stream in the background.
func (s *Session) Deliver(pkt *media.Packet) error {
	if err := s.writer.PutData(pkt); err != nil {
		if n := s.failures.Add(1); n >= s.maxFails {
			s.detachOnce.Do(func() {
				s.log.Warn("too many consecutive failures, detaching", "failures", n)
				go s.owner.RemoveSession(s.id)
			})
		}
		return err
	}
	s.failures.Store(0)
	return nil
}

// Close stops the writer and closes the target transport. Idempotent;
// safe to call concurrently with in-flight Deliver calls, which then fail
// and are isolated as usual.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		err := s.writer.Stop()
		if cerr := s.target.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.closeErr = err
		s.log.Info("push session closed")
	})
	return s.closeErr
}
