package media

// BitstreamFormat tags the elementary-stream representation of a packet's
// payload. Remux writers use it to decide whether a payload needs
// conversion for the target container.
type BitstreamFormat int

const (
	BitstreamUnknown BitstreamFormat = iota
	BitstreamH264AVCC                // length-prefixed NAL units
	BitstreamH264AnnexB              // start-code-delimited NAL units
	BitstreamAACRaw                  // raw AAC frame, no transport header
	BitstreamAACADTS                 // ADTS-wrapped AAC frame(s)
)

func (f BitstreamFormat) String() string {
	switch f {
	case BitstreamH264AVCC:
		return "h264-avcc"
	case BitstreamH264AnnexB:
		return "h264-annexb"
	case BitstreamAACRaw:
		return "aac-raw"
	case BitstreamAACADTS:
		return "aac-adts"
	default:
		return "unknown"
	}
}

// Packet is one encoded access unit. PTS and DTS are expressed in the
// owning track's timebase. Packets are shared read-only across every
// session and writer that consumes them: after submission, neither the
// Packet nor its Payload may be modified by anyone.
//
// Writers require monotonic non-decreasing DTS per track on their input;
// that is a caller contract, not enforced here.
type Packet struct {
	TrackID  uint32
	PTS      int64
	DTS      int64
	Keyframe bool
	Format   BitstreamFormat
	Payload  []byte
}
