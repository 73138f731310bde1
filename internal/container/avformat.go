package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/egress/media"
)

// avioBufferSize is the buffer used for custom-sink I/O contexts. One TS
// burst fits comfortably; libavformat flushes on its own cadence.
const avioBufferSize = 32 * 1024

// NewMuxer returns the production Muxer backed by libavformat via
// go-astiav. Destination URLs use libavformat protocol syntax
// (rtmp://, udp://, plain file paths).
func NewMuxer() Muxer {
	return avMuxer{}
}

type avMuxer struct{}

func (avMuxer) Allocate(format Format, destination string, sink io.Writer) (Context, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, string(format), destination)
	if err != nil {
		return nil, fmt.Errorf("container: allocate output context for %q: %w", destination, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("container: no muxer for format %q", format)
	}
	return &avContext{
		fc:          fc,
		sink:        sink,
		destination: destination,
	}, nil
}

type avContext struct {
	fc          *astiav.FormatContext
	ioCtx       *astiav.IOContext
	sink        io.Writer
	destination string
	slots       []*astiav.Stream
	headerDone  bool
}

func (c *avContext) NewSlot(cfg SlotConfig) (int, error) {
	if c.fc == nil {
		return 0, errors.New("container: context closed")
	}

	st := c.fc.NewStream(nil)
	if st == nil {
		return 0, errors.New("container: new stream failed")
	}

	cp := st.CodecParameters()
	switch cfg.Type {
	case media.MediaTypeVideo:
		cp.SetMediaType(astiav.MediaTypeVideo)
		cp.SetWidth(cfg.Width)
		cp.SetHeight(cfg.Height)
	case media.MediaTypeAudio:
		cp.SetMediaType(astiav.MediaTypeAudio)
		cp.SetSampleRate(cfg.SampleRate)
		switch cfg.Layout {
		case media.ChannelLayoutMono:
			cp.SetChannelLayout(astiav.ChannelLayoutMono)
		default:
			cp.SetChannelLayout(astiav.ChannelLayoutStereo)
		}
	default:
		return 0, fmt.Errorf("container: unsupported media type %v", cfg.Type)
	}

	cp.SetCodecID(avCodecID(cfg.Codec))
	cp.SetCodecTag(0)
	cp.SetBitRate(cfg.Bitrate)
	if len(cfg.ExtraData) > 0 {
		if err := cp.SetExtraData(cfg.ExtraData); err != nil {
			return 0, fmt.Errorf("container: set extradata: %w", err)
		}
	}

	st.SetTimeBase(astiav.NewRational(int(cfg.TimeBase.Num), int(cfg.TimeBase.Den)))

	c.slots = append(c.slots, st)
	return st.Index(), nil
}

func (c *avContext) WriteHeader(opts map[string]string) error {
	if c.fc == nil {
		return errors.New("container: context closed")
	}

	var dict *astiav.Dictionary
	if len(opts) > 0 {
		dict = astiav.NewDictionary()
		defer dict.Free()
		for k, v := range opts {
			if err := dict.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
				return fmt.Errorf("container: set option %s: %w", k, err)
			}
		}
	}

	switch {
	case c.sink != nil:
		ioCtx, err := astiav.AllocIOContext(avioBufferSize, true, nil, nil, c.sink.Write)
		if err != nil {
			return fmt.Errorf("container: allocate sink I/O context: %w", err)
		}
		c.ioCtx = ioCtx
		c.fc.SetPb(ioCtx)
	case !c.fc.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile):
		ioCtx, err := astiav.OpenIOContext(
			c.destination,
			astiav.NewIOContextFlags(astiav.IOContextFlagWrite),
			nil,
			dict,
		)
		if err != nil {
			return fmt.Errorf("container: open %q: %w", c.destination, err)
		}
		c.ioCtx = ioCtx
		c.fc.SetPb(ioCtx)
	}

	if err := c.fc.WriteHeader(dict); err != nil {
		return fmt.Errorf("container: write header: %w", err)
	}
	c.headerDone = true
	return nil
}

func (c *avContext) SlotTimeBase(slot int) media.Rational {
	if slot < 0 || slot >= len(c.slots) {
		return media.Rational{}
	}
	tb := c.slots[slot].TimeBase()
	return media.Rational{Num: int64(tb.Num()), Den: int64(tb.Den())}
}

func (c *avContext) WriteInterleaved(slot int, payload []byte, pts, dts int64, keyframe bool) error {
	if c.fc == nil {
		return errors.New("container: context closed")
	}
	if slot < 0 || slot >= len(c.slots) {
		return fmt.Errorf("%w: %d", ErrNoSlot, slot)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()

	if err := pkt.FromData(payload); err != nil {
		return fmt.Errorf("container: packet from data: %w", err)
	}
	pkt.SetStreamIndex(slot)
	pkt.SetPts(pts)
	pkt.SetDts(dts)
	if keyframe {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}

	if err := c.fc.WriteInterleavedFrame(pkt); err != nil {
		return fmt.Errorf("container: write interleaved frame: %w", err)
	}
	return nil
}

func (c *avContext) Close() error {
	if c.fc == nil {
		return nil
	}

	var errs []error
	if c.headerDone {
		if err := c.fc.WriteTrailer(); err != nil {
			errs = append(errs, fmt.Errorf("container: write trailer: %w", err))
		}
	}
	if c.ioCtx != nil {
		if err := c.ioCtx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("container: close I/O context: %w", err))
		}
		c.ioCtx = nil
	}
	c.fc.Free()
	c.fc = nil
	c.slots = nil
	return errors.Join(errs...)
}

func avCodecID(c Codec) astiav.CodecID {
	switch c {
	case CodecH264:
		return astiav.CodecIDH264
	case CodecH265:
		return astiav.CodecIDH265
	case CodecVP8:
		return astiav.CodecIDVp8
	case CodecVP9:
		return astiav.CodecIDVp9
	case CodecAAC:
		return astiav.CodecIDAac
	case CodecMP3:
		return astiav.CodecIDMp3
	case CodecOpus:
		return astiav.CodecIDOpus
	default:
		return astiav.CodecIDNone
	}
}
