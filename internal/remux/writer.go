// Package remux maps tracks into container stream slots, rescales
// timestamps, normalizes bitstream representations per target container,
// and emits packets through the container multiplexer in correct
// interleaved order.
package remux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/egress/internal/bitstream"
	"github.com/zsiec/egress/internal/container"
	"github.com/zsiec/egress/media"
)

// State is the writer lifecycle state.
type State int

const (
	// StateClosed: no container context. The initial state, and the state
	// after Stop or a failed SetTarget.
	StateClosed State = iota
	// StateConfigured: a container context exists, tracks may be added.
	StateConfigured
	// StateOpen: the header has been written, PutData is accepted.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

var (
	// ErrBadState is returned when an operation is not legal in the
	// writer's current state. Treated as a caller bug, not a runtime fault.
	ErrBadState = errors.New("remux: operation not legal in current state")

	// ErrTrackExists is returned by AddTrack for an already-registered id.
	ErrTrackExists = errors.New("remux: track already registered")

	// ErrUnsupportedMedia is returned by AddTrack for a media type the
	// writer cannot place in a container.
	ErrUnsupportedMedia = errors.New("remux: unsupported media type")

	// ErrUnsupportedFormat is returned by PutData when the target
	// container has no rule for the packet's bitstream format.
	ErrUnsupportedFormat = errors.New("remux: unsupported bitstream format for container")
)

// aacSamplesPerFrame is the fixed frame size used to advance timestamps
// when one ADTS buffer bundles several AAC sub-frames.
const aacSamplesPerFrame = 1024

type trackBinding struct {
	slot  int
	track *media.Track
}

// Writer remultiplexes media packets into one container output target.
// All mutating operations are serialized by a single exclusive lock, so
// re-targeting can never race an in-flight write and the container
// context is never touched after release.
type Writer struct {
	log *slog.Logger
	mux container.Muxer

	mu     sync.Mutex
	state  State
	target string
	format container.Format
	ctx    container.Context
	tracks map[uint32]trackBinding
}

// NewWriter creates a Writer that allocates container contexts from mux.
// If mux is nil the production libavformat muxer is used; if log is nil,
// slog.Default() is used.
func NewWriter(mux container.Muxer, log *slog.Logger) *Writer {
	if mux == nil {
		mux = container.NewMuxer()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		log:    log.With("component", "remux-writer"),
		mux:    mux,
		tracks: make(map[uint32]trackBinding),
	}
}

// SetTarget (re)configures the output target, allocating a fresh container
// context. Any existing context is fully released first. On failure the
// writer is left safely unconfigured (closed), never with a half-
// initialized context reachable by later calls. When sink is non-nil the
// container writes its bytes to it instead of opening target itself.
func (w *Writer) SetTarget(target string, format container.Format, sink io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx != nil {
		if err := w.ctx.Close(); err != nil {
			w.log.Warn("closing previous container context", "error", err)
		}
		w.ctx = nil
	}
	w.state = StateClosed
	w.tracks = make(map[uint32]trackBinding)

	if target == "" {
		return errors.New("remux: empty target")
	}

	ctx, err := w.mux.Allocate(format, target, sink)
	if err != nil {
		return fmt.Errorf("remux: allocate context for %q: %w", target, err)
	}

	w.ctx = ctx
	w.target = target
	w.format = format
	w.state = StateConfigured
	return nil
}

// Target returns the configured destination.
func (w *Writer) Target() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target
}

// State returns the current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// AddTrack allocates one container stream slot for the track and records
// the id→slot binding for PutData. Only legal before Start. A codec with
// no mapping for the track's media type still gets a slot, tagged
// CodecNone; missing out-of-band decoder configuration on a video track
// is a warning, not a failure.
func (w *Writer) AddTrack(track *media.Track) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateConfigured {
		return fmt.Errorf("%w: AddTrack in %s", ErrBadState, w.state)
	}
	if _, exists := w.tracks[track.ID]; exists {
		return fmt.Errorf("%w: %d", ErrTrackExists, track.ID)
	}
	if track.Type != media.MediaTypeVideo && track.Type != media.MediaTypeAudio {
		return fmt.Errorf("%w: %v", ErrUnsupportedMedia, track.Type)
	}

	codec, ok := mapCodec(track.Type, track.Codec)
	if !ok {
		w.log.Warn("no container codec mapping, slot will reject data",
			"track", track.ID, "codec", track.Codec)
	}
	if track.Type == media.MediaTypeVideo && len(track.ExtraData) == 0 {
		w.log.Warn("no decoder configuration for video track", "track", track.ID)
	}

	slot, err := w.ctx.NewSlot(container.SlotConfig{
		Type:       track.Type,
		Codec:      codec,
		TimeBase:   track.TimeBase,
		Bitrate:    track.Bitrate,
		Width:      track.Width,
		Height:     track.Height,
		SampleRate: track.SampleRate,
		Channels:   track.Channels,
		Layout:     track.Layout,
		ExtraData:  track.ExtraData,
	})
	if err != nil {
		return fmt.Errorf("remux: add track %d: %w", track.ID, err)
	}

	w.tracks[track.ID] = trackBinding{slot: slot, track: track}
	w.log.Debug("track registered", "track", track.ID, "slot", slot, "codec", track.Codec)
	return nil
}

// Start applies target compatibility options, opens the destination if the
// container format needs an explicit I/O handle, and writes the container
// header. On failure the writer does not enter the open state and PutData
// remains rejected.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateConfigured {
		return fmt.Errorf("%w: Start in %s", ErrBadState, w.state)
	}

	if err := w.ctx.WriteHeader(startOptions(w.format, w.target)); err != nil {
		return fmt.Errorf("remux: start %q: %w", w.target, err)
	}

	w.state = StateOpen
	w.log.Info("writer started", "target", w.target, "format", w.format, "tracks", len(w.tracks))
	return nil
}

// Stop releases the container context and transport unconditionally.
// Idempotent: stopping an already-closed writer is a successful no-op.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.ctx != nil {
		err = w.ctx.Close()
		w.ctx = nil
	}
	w.state = StateClosed
	w.tracks = make(map[uint32]trackBinding)
	return err
}

// PutData shapes one packet for the target container and hands it to the
// interleaving writer. A packet for an unregistered track is silently
// dropped and reported as success: multi-output pipelines commonly filter
// tracks per destination. Conversion or write failures fail only this
// call; the writer stays open and the caller decides escalation.
func (w *Writer) PutData(pkt *media.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateOpen {
		return fmt.Errorf("%w: PutData in %s", ErrBadState, w.state)
	}

	binding, ok := w.tracks[pkt.TrackID]
	if !ok {
		// Intentionally excluded track. Not an error.
		return nil
	}

	slotTB := w.ctx.SlotTimeBase(binding.slot)
	pts := media.Rescale(pkt.PTS, binding.track.TimeBase, slotTB)
	dts := media.Rescale(pkt.DTS, binding.track.TimeBase, slotTB)

	payload, subLens, err := w.shape(pkt)
	if err != nil {
		return err
	}

	if len(subLens) > 1 {
		return w.writeSubFrames(binding, payload, subLens, pts, dts, slotTB, pkt.Keyframe)
	}
	return w.ctx.WriteInterleaved(binding.slot, payload, pts, dts, pkt.Keyframe)
}

// shape applies the (container, bitstream format) decision table. It
// returns the payload to write and, for converted audio, the sub-frame
// lengths when one input buffer bundled several frames.
func (w *Writer) shape(pkt *media.Packet) ([]byte, []int, error) {
	switch w.format {
	case container.FormatFLV:
		switch pkt.Format {
		case media.BitstreamH264AVCC, media.BitstreamAACRaw:
			return pkt.Payload, nil, nil
		case media.BitstreamH264AnnexB:
			out, err := bitstream.AnnexBToAVCC(pkt.Payload)
			if err != nil {
				return nil, nil, fmt.Errorf("remux: convert annexb to avcc: %w", err)
			}
			return out, nil, nil
		case media.BitstreamAACADTS:
			out, lens, err := bitstream.ADTSToRaw(pkt.Payload)
			if err != nil {
				return nil, nil, fmt.Errorf("remux: convert adts to raw: %w", err)
			}
			return out, lens, nil
		default:
			return nil, nil, fmt.Errorf("%w: %v in %s", ErrUnsupportedFormat, pkt.Format, w.format)
		}

	case container.FormatMP4:
		switch pkt.Format {
		case media.BitstreamH264AVCC, media.BitstreamH264AnnexB, media.BitstreamAACRaw:
			// MP4 carries either video form unchanged.
			return pkt.Payload, nil, nil
		case media.BitstreamAACADTS:
			out, lens, err := bitstream.ADTSToRaw(pkt.Payload)
			if err != nil {
				return nil, nil, fmt.Errorf("remux: convert adts to raw: %w", err)
			}
			return out, lens, nil
		default:
			return nil, nil, fmt.Errorf("%w: %v in %s", ErrUnsupportedFormat, pkt.Format, w.format)
		}

	case container.FormatMPEGTS:
		// TS carries every supported representation unchanged.
		return pkt.Payload, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: container %s", ErrUnsupportedFormat, w.format)
	}
}

// writeSubFrames writes each converted audio sub-frame as its own
// container packet. Sub-frame i is offset from the base timestamp by
// i fixed frame durations (1024 samples), rescaled into the slot
// timebase; the first sub-frame keeps the base timestamp.
func (w *Writer) writeSubFrames(binding trackBinding, payload []byte, subLens []int, pts, dts int64, slotTB media.Rational, keyframe bool) error {
	var frameDur int64
	if sr := binding.track.SampleRate; sr > 0 {
		frameDur = media.Rescale(aacSamplesPerFrame, media.Rational{Num: 1, Den: int64(sr)}, slotTB)
	}

	offset := 0
	for i, l := range subLens {
		sub := payload[offset : offset+l]
		offset += l

		adv := int64(i) * frameDur
		if err := w.ctx.WriteInterleaved(binding.slot, sub, pts+adv, dts+adv, keyframe); err != nil {
			return err
		}
	}
	return nil
}
