// Package media defines the track and packet types that flow through the
// egress pipeline, from the ingest boundary through broadcast to the
// container remux writers.
package media

import "fmt"

// MediaType identifies the kind of elementary stream a track carries.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
	MediaTypeAudio
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// CodecID identifies the codec of a track's elementary stream.
type CodecID int

const (
	CodecIDNone CodecID = iota
	CodecIDH264
	CodecIDH265
	CodecIDVP8
	CodecIDVP9
	CodecIDAAC
	CodecIDMP3
	CodecIDOpus
)

func (c CodecID) String() string {
	switch c {
	case CodecIDH264:
		return "h264"
	case CodecIDH265:
		return "h265"
	case CodecIDVP8:
		return "vp8"
	case CodecIDVP9:
		return "vp9"
	case CodecIDAAC:
		return "aac"
	case CodecIDMP3:
		return "mp3"
	case CodecIDOpus:
		return "opus"
	default:
		return "none"
	}
}

// ChannelLayout describes the speaker layout of an audio track.
type ChannelLayout int

const (
	ChannelLayoutUnknown ChannelLayout = iota
	ChannelLayoutMono
	ChannelLayoutStereo
)

// Track holds the static metadata of one elementary stream. A Track is
// created by the ingest side before streaming starts and is immutable once
// registered with a stream or writer.
type Track struct {
	ID       uint32
	Type     MediaType
	Codec    CodecID
	TimeBase Rational // unit of this track's pts/dts
	Bitrate  int64

	// Video geometry.
	Width  int
	Height int

	// Audio parameters.
	SampleRate int
	Channels   int
	Layout     ChannelLayout

	// ExtraData carries out-of-band decoder configuration, e.g. an
	// AVCDecoderConfigurationRecord or AudioSpecificConfig. May be nil;
	// containers that need it will produce streams some decoders cannot
	// initialize, but registration still succeeds.
	ExtraData []byte
}

func (t *Track) String() string {
	switch t.Type {
	case MediaTypeVideo:
		return fmt.Sprintf("track %d %s/%s %dx%d tb=%d/%d",
			t.ID, t.Type, t.Codec, t.Width, t.Height, t.TimeBase.Num, t.TimeBase.Den)
	case MediaTypeAudio:
		return fmt.Sprintf("track %d %s/%s %dHz ch=%d tb=%d/%d",
			t.ID, t.Type, t.Codec, t.SampleRate, t.Channels, t.TimeBase.Num, t.TimeBase.Den)
	default:
		return fmt.Sprintf("track %d unknown", t.ID)
	}
}
