// Package container defines the boundary to the underlying container
// multiplexer: the component that serializes correctly-shaped packets into
// a target container's byte stream and resolves inter-track interleaving
// order. The remux writer drives this interface; the production backend is
// libavformat via go-astiav, tests substitute counting fakes.
package container

import (
	"errors"
	"io"

	"github.com/zsiec/egress/media"
)

// Format names a target container format, using libavformat muxer names.
type Format string

const (
	FormatFLV    Format = "flv"
	FormatMP4    Format = "mp4"
	FormatMPEGTS Format = "mpegts"
)

// Codec is the container-level codec identifier a stream slot is tagged
// with. CodecNone marks a slot whose source codec has no mapping for the
// target container; the slot exists but the muxer will reject its data.
type Codec int

const (
	CodecNone Codec = iota
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
	CodecAAC
	CodecMP3
	CodecOpus
)

// SlotConfig carries the per-stream parameters copied into a container
// stream slot at creation time.
type SlotConfig struct {
	Type     media.MediaType
	Codec    Codec
	TimeBase media.Rational
	Bitrate  int64

	// Video.
	Width  int
	Height int

	// Audio.
	SampleRate int
	Channels   int
	Layout     media.ChannelLayout

	// Out-of-band decoder configuration, copied into the slot.
	ExtraData []byte
}

// Muxer allocates container contexts for a given format and destination.
// When sink is non-nil the context writes its output bytes to it instead
// of opening the destination itself; destination is then only used for
// diagnostics and format-specific options.
type Muxer interface {
	Allocate(format Format, destination string, sink io.Writer) (Context, error)
}

// Context is one allocated container output. All methods must be called
// from a single goroutine or be externally serialized; the remux writer
// guarantees this with its exclusive lock.
type Context interface {
	// NewSlot creates one container stream slot and returns its index.
	// Only legal before WriteHeader.
	NewSlot(cfg SlotConfig) (int, error)

	// WriteHeader opens the destination I/O if the format requires an
	// explicit handle, applies format options, and writes the container
	// header. After WriteHeader the slot timebases are final.
	WriteHeader(opts map[string]string) error

	// SlotTimeBase returns the timebase the container actually assigned
	// to the slot. Muxers commonly override the requested timebase
	// (e.g. FLV forces 1/1000, MPEG-TS 1/90000).
	SlotTimeBase(slot int) media.Rational

	// WriteInterleaved hands one shaped packet to the interleaving
	// writer. pts/dts are in the slot's timebase.
	WriteInterleaved(slot int, payload []byte, pts, dts int64, keyframe bool) error

	// Close writes the trailer if the header was written, releases the
	// I/O handle and the context. Idempotent.
	Close() error
}

// ErrNoSlot is returned by WriteInterleaved for an out-of-range slot index.
var ErrNoSlot = errors.New("container: no such slot")
