// Package push implements output sessions that remultiplex a stream's
// packets into a container format and deliver them to a downstream
// target: an RTMP endpoint, a local file, a UDP address, an SRT listener,
// or a QUIC receiver.
package push

import (
	"fmt"
	"io"
	"strings"

	"github.com/zsiec/egress/internal/container"
)

// Target is the downstream endpoint of one push session.
type Target interface {
	// Destination is the URL or path handed to the container muxer.
	Destination() string
	// Format is the container format this target consumes.
	Format() container.Format
	// Sink returns the byte sink when the target owns the transport
	// (SRT, QUIC); nil when the muxer opens Destination itself.
	Sink() io.Writer
	Close() error
}

// URLTarget pushes to a destination the container multiplexer opens
// itself: an rtmp:// endpoint, a udp:// address, or a local file path.
type URLTarget struct {
	dest   string
	format container.Format
}

// NewURLTarget infers the container format from the destination: rtmp://
// and .flv map to FLV, .mp4 to MP4, udp:// and .ts to MPEG-TS.
func NewURLTarget(dest string) (*URLTarget, error) {
	format, err := formatForDestination(dest)
	if err != nil {
		return nil, err
	}
	return &URLTarget{dest: dest, format: format}, nil
}

func formatForDestination(dest string) (container.Format, error) {
	switch {
	case strings.HasPrefix(dest, "rtmp://"), strings.HasSuffix(dest, ".flv"):
		return container.FormatFLV, nil
	case strings.HasSuffix(dest, ".mp4"):
		return container.FormatMP4, nil
	case strings.HasPrefix(dest, "udp://"), strings.HasSuffix(dest, ".ts"):
		return container.FormatMPEGTS, nil
	default:
		return "", fmt.Errorf("push: cannot infer container format for %q", dest)
	}
}

func (t *URLTarget) Destination() string       { return t.dest }
func (t *URLTarget) Format() container.Format  { return t.format }
func (t *URLTarget) Sink() io.Writer           { return nil }
func (t *URLTarget) Close() error              { return nil }
