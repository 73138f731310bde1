package remux

import (
	"strings"

	"github.com/zsiec/egress/internal/container"
	"github.com/zsiec/egress/media"
)

// Static codec lookup tables per media type. An id absent from its table
// maps to container.CodecNone: the slot is still created, but the muxer
// will reject its data.
var videoCodecs = map[media.CodecID]container.Codec{
	media.CodecIDH264: container.CodecH264,
	media.CodecIDH265: container.CodecH265,
	media.CodecIDVP8:  container.CodecVP8,
	media.CodecIDVP9:  container.CodecVP9,
}

var audioCodecs = map[media.CodecID]container.Codec{
	media.CodecIDAAC:  container.CodecAAC,
	media.CodecIDMP3:  container.CodecMP3,
	media.CodecIDOpus: container.CodecOpus,
}

// mapCodec resolves a track codec to the container-level codec for its
// media type. ok is false when the codec has no mapping.
func mapCodec(t media.MediaType, id media.CodecID) (codec container.Codec, ok bool) {
	switch t {
	case media.MediaTypeVideo:
		codec, ok = videoCodecs[id]
	case media.MediaTypeAudio:
		codec, ok = audioCodecs[id]
	}
	if !ok {
		codec = container.CodecNone
	}
	return codec, ok
}

// startOptions returns the container/target-specific compatibility options
// applied when the writer starts. RTMP targets need tc_url and flashver
// metadata derived from the destination; flush_packets keeps live targets
// from buffering a full interleave window.
func startOptions(format container.Format, target string) map[string]string {
	opts := map[string]string{
		"fflags": "flush_packets",
	}
	if format == container.FormatFLV && strings.HasPrefix(target, "rtmp://") {
		if i := strings.LastIndex(target, "/"); i > len("rtmp://") {
			opts["rtmp_tcurl"] = target[:i]
		}
		opts["rtmp_flashver"] = "FMLE/3.0 (compatible; FMSc/1.0)"
	}
	return opts
}
