package remux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/egress/internal/container"
	"github.com/zsiec/egress/media"
)

// fakeMuxer counts allocations and hands out fakeContexts, letting tests
// observe slot creation, header writes, interleaved writes, and release
// ordering without a real container library.
type fakeMuxer struct {
	allocated int
	failAlloc bool
	slotTB    media.Rational
	contexts  []*fakeContext
}

func newFakeMuxer(slotTB media.Rational) *fakeMuxer {
	return &fakeMuxer{slotTB: slotTB}
}

func (m *fakeMuxer) Allocate(format container.Format, dest string, _ io.Writer) (container.Context, error) {
	if m.failAlloc {
		return nil, errors.New("fake: allocation refused")
	}
	m.allocated++
	ctx := &fakeContext{format: format, dest: dest, slotTB: m.slotTB}
	m.contexts = append(m.contexts, ctx)
	return ctx, nil
}

type writeCall struct {
	slot     int
	payload  []byte
	pts, dts int64
	keyframe bool
}

type fakeContext struct {
	format     container.Format
	dest       string
	slotTB     media.Rational
	slots      []container.SlotConfig
	headerOpts map[string]string
	headerErr  error
	writeErr   error
	writes     []writeCall
	closed     int
}

func (c *fakeContext) NewSlot(cfg container.SlotConfig) (int, error) {
	c.slots = append(c.slots, cfg)
	return len(c.slots) - 1, nil
}

func (c *fakeContext) WriteHeader(opts map[string]string) error {
	if c.headerErr != nil {
		return c.headerErr
	}
	c.headerOpts = opts
	return nil
}

func (c *fakeContext) SlotTimeBase(int) media.Rational { return c.slotTB }

func (c *fakeContext) WriteInterleaved(slot int, payload []byte, pts, dts int64, keyframe bool) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	c.writes = append(c.writes, writeCall{slot, p, pts, dts, keyframe})
	return nil
}

func (c *fakeContext) Close() error {
	c.closed++
	return nil
}

func videoTrack() *media.Track {
	return &media.Track{
		ID:        1,
		Type:      media.MediaTypeVideo,
		Codec:     media.CodecIDH264,
		TimeBase:  media.Rational{Num: 1, Den: 1000},
		Width:     1920,
		Height:    1080,
		ExtraData: []byte{0x01, 0x64, 0x00, 0x1F},
	}
}

func audioTrack() *media.Track {
	return &media.Track{
		ID:         2,
		Type:       media.MediaTypeAudio,
		Codec:      media.CodecIDAAC,
		TimeBase:   media.Rational{Num: 1, Den: 1000},
		SampleRate: 48000,
		Channels:   2,
		Layout:     media.ChannelLayoutStereo,
	}
}

func openWriter(t *testing.T, mux *fakeMuxer, format container.Format, tracks ...*media.Track) *Writer {
	t.Helper()

	w := NewWriter(mux, nil)
	if err := w.SetTarget("rtmp://example.com/live/key", format, nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	for _, tr := range tracks {
		if err := w.AddTrack(tr); err != nil {
			t.Fatalf("AddTrack(%d): %v", tr.ID, err)
		}
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w
}

func TestWriterLifecycleGating(t *testing.T) {
	t.Parallel()

	w := NewWriter(newFakeMuxer(media.Rational{Num: 1, Den: 1000}), nil)

	if err := w.AddTrack(videoTrack()); !errors.Is(err, ErrBadState) {
		t.Fatalf("AddTrack before SetTarget = %v, want ErrBadState", err)
	}
	if err := w.Start(); !errors.Is(err, ErrBadState) {
		t.Fatalf("Start before SetTarget = %v, want ErrBadState", err)
	}
	if err := w.PutData(&media.Packet{TrackID: 1}); !errors.Is(err, ErrBadState) {
		t.Fatalf("PutData before Start = %v, want ErrBadState", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop on closed writer = %v, want nil", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop = %v, want nil", err)
	}
}

func TestWriterAddTrackAfterStart(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack())

	if err := w.AddTrack(audioTrack()); !errors.Is(err, ErrBadState) {
		t.Fatalf("AddTrack after Start = %v, want ErrBadState", err)
	}
}

func TestWriterAddTrackDuplicate(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)
	if err := w.SetTarget("/tmp/out.flv", container.FormatFLV, nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := w.AddTrack(videoTrack()); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := w.AddTrack(videoTrack()); !errors.Is(err, ErrTrackExists) {
		t.Fatalf("duplicate AddTrack = %v, want ErrTrackExists", err)
	}
	if got := len(mux.contexts[0].slots); got != 1 {
		t.Fatalf("slots = %d after duplicate AddTrack, want 1", got)
	}
}

func TestWriterAddTrackUnsupportedMediaType(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)
	if err := w.SetTarget("/tmp/out.flv", container.FormatFLV, nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	bad := &media.Track{ID: 9, Type: media.MediaTypeUnknown}
	if err := w.AddTrack(bad); !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("AddTrack(unknown type) = %v, want ErrUnsupportedMedia", err)
	}
	if got := len(mux.contexts[0].slots); got != 0 {
		t.Fatalf("slots = %d after rejected AddTrack, want 0", got)
	}

	// The rejected id stays unregistered: its packets are silently dropped.
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.PutData(&media.Packet{TrackID: 9, Format: media.BitstreamH264AVCC, Payload: []byte{1}}); err != nil {
		t.Fatalf("PutData for rejected track = %v, want nil", err)
	}
	if got := len(mux.contexts[0].writes); got != 0 {
		t.Fatalf("writes = %d, want 0", got)
	}
}

func TestWriterUnknownCodecGetsNoneSlot(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)
	if err := w.SetTarget("/tmp/out.flv", container.FormatFLV, nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}

	tr := audioTrack()
	tr.Codec = media.CodecID(999)
	if err := w.AddTrack(tr); err != nil {
		t.Fatalf("AddTrack(unknown codec) = %v, want nil", err)
	}
	if got := mux.contexts[0].slots[0].Codec; got != container.CodecNone {
		t.Fatalf("slot codec = %v, want CodecNone", got)
	}
}

func TestWriterTrackSilence(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack())

	pkt := &media.Packet{TrackID: 42, Format: media.BitstreamH264AVCC, Payload: []byte{1, 2, 3}}
	if err := w.PutData(pkt); err != nil {
		t.Fatalf("PutData(unregistered track) = %v, want nil", err)
	}
	if got := len(mux.contexts[0].writes); got != 0 {
		t.Fatalf("writes = %d, want 0", got)
	}
}

func TestWriterTimestampRescale(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 90000})
	w := openWriter(t, mux, container.FormatMPEGTS, videoTrack())

	pkt := &media.Packet{
		TrackID: 1,
		PTS:     500,
		DTS:     500,
		Format:  media.BitstreamH264AnnexB,
		Payload: []byte{0, 0, 0, 1, 0x65},
	}
	if err := w.PutData(pkt); err != nil {
		t.Fatalf("PutData: %v", err)
	}

	writes := mux.contexts[0].writes
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	if writes[0].pts != 45000 || writes[0].dts != 45000 {
		t.Fatalf("pts/dts = %d/%d, want 45000/45000", writes[0].pts, writes[0].dts)
	}
}

func TestWriterFLVPassthroughIsByteIdentical(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack())

	payload := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x88}
	pkt := &media.Packet{TrackID: 1, Format: media.BitstreamH264AVCC, Payload: payload}
	if err := w.PutData(pkt); err != nil {
		t.Fatalf("PutData: %v", err)
	}

	writes := mux.contexts[0].writes
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	if !bytes.Equal(writes[0].payload, payload) {
		t.Fatalf("payload = %x, want byte-identical %x", writes[0].payload, payload)
	}
}

func TestWriterFLVConvertsAnnexB(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack())

	pkt := &media.Packet{
		TrackID:  1,
		Keyframe: true,
		Format:   media.BitstreamH264AnnexB,
		Payload:  []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88},
	}
	if err := w.PutData(pkt); err != nil {
		t.Fatalf("PutData: %v", err)
	}

	writes := mux.contexts[0].writes
	want := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x88}
	if !bytes.Equal(writes[0].payload, want) {
		t.Fatalf("payload = %x, want %x", writes[0].payload, want)
	}
	if !writes[0].keyframe {
		t.Fatal("keyframe flag not propagated")
	}
}

func TestWriterConversionFailureAbortsPacketOnly(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack())

	bad := &media.Packet{TrackID: 1, Format: media.BitstreamH264AnnexB, Payload: []byte{0x65}}
	if err := w.PutData(bad); err == nil {
		t.Fatal("PutData with unconvertible payload = nil, want error")
	}
	if got := w.State(); got != StateOpen {
		t.Fatalf("state after failed packet = %v, want open", got)
	}

	good := &media.Packet{TrackID: 1, Format: media.BitstreamH264AVCC, Payload: []byte{0, 0, 0, 1, 0x65}}
	if err := w.PutData(good); err != nil {
		t.Fatalf("PutData after failed packet = %v, want nil", err)
	}
}

func TestWriterADTSSubFrameBundle(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 90000})
	w := openWriter(t, mux, container.FormatFLV, audioTrack())

	// Two bundled ADTS frames of 3 and 2 payload bytes.
	frame := func(payload []byte) []byte {
		frameLen := 7 + len(payload)
		h := []byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0x1F, 0xFC}
		h[3] |= byte(frameLen>>11) & 0x03
		h[4] = byte(frameLen >> 3)
		h[5] = byte(frameLen&0x07)<<5 | 0x1F
		return append(h, payload...)
	}
	var in []byte
	in = append(in, frame([]byte{0x01, 0x02, 0x03})...)
	in = append(in, frame([]byte{0x04, 0x05})...)

	pkt := &media.Packet{TrackID: 2, PTS: 100, DTS: 100, Format: media.BitstreamAACADTS, Payload: in}
	if err := w.PutData(pkt); err != nil {
		t.Fatalf("PutData: %v", err)
	}

	writes := mux.contexts[0].writes
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if !bytes.Equal(writes[0].payload, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("sub-frame 0 = %x", writes[0].payload)
	}
	if !bytes.Equal(writes[1].payload, []byte{0x04, 0x05}) {
		t.Fatalf("sub-frame 1 = %x", writes[1].payload)
	}

	// Base ts 100ms = 9000 @90kHz; 1024 samples @48kHz = 1920 ticks.
	if writes[0].pts != 9000 {
		t.Fatalf("sub-frame 0 pts = %d, want 9000", writes[0].pts)
	}
	if writes[1].pts != 9000+1920 {
		t.Fatalf("sub-frame 1 pts = %d, want %d", writes[1].pts, 9000+1920)
	}
}

func TestWriterMPEGTSPassthrough(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 90000})
	w := openWriter(t, mux, container.FormatMPEGTS, audioTrack())

	payload := []byte{0xFF, 0xF1, 0x4C, 0x80, 0x01, 0x7F, 0xFC, 0xAA}
	pkt := &media.Packet{TrackID: 2, Format: media.BitstreamAACADTS, Payload: payload}
	if err := w.PutData(pkt); err != nil {
		t.Fatalf("PutData: %v", err)
	}

	writes := mux.contexts[0].writes
	if len(writes) != 1 || !bytes.Equal(writes[0].payload, payload) {
		t.Fatalf("TS payload not passed through unchanged: %x", writes[0].payload)
	}
}

func TestWriterUnsupportedContainerRejectsPacket(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)
	if err := w.SetTarget("/tmp/out.mkv", container.Format("matroska"), nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := w.AddTrack(videoTrack()); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pkt := &media.Packet{TrackID: 1, Format: media.BitstreamH264AVCC, Payload: []byte{1}}
	if err := w.PutData(pkt); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("PutData = %v, want ErrUnsupportedFormat", err)
	}
}

func TestWriterRetargetReleasesPreviousContext(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)

	if err := w.SetTarget("rtmp://a/app/one", container.FormatFLV, nil); err != nil {
		t.Fatalf("first SetTarget: %v", err)
	}
	if err := w.SetTarget("rtmp://b/app/two", container.FormatFLV, nil); err != nil {
		t.Fatalf("second SetTarget: %v", err)
	}

	if mux.allocated != 2 {
		t.Fatalf("allocated = %d, want 2", mux.allocated)
	}
	if got := mux.contexts[0].closed; got != 1 {
		t.Fatalf("first context closed = %d, want exactly 1", got)
	}
	if got := mux.contexts[1].closed; got != 0 {
		t.Fatalf("second context closed = %d, want 0", got)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := mux.contexts[1].closed; got != 1 {
		t.Fatalf("second context closed after Stop = %d, want 1", got)
	}
	if got := mux.contexts[0].closed; got != 1 {
		t.Fatalf("first context closed after Stop = %d, want still 1 (no double free)", got)
	}
}

func TestWriterFailedSetTargetLeavesWriterUnconfigured(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	mux.failAlloc = true

	w := NewWriter(mux, nil)
	if err := w.SetTarget("rtmp://a/app/one", container.FormatFLV, nil); err == nil {
		t.Fatal("SetTarget = nil, want allocation error")
	}
	if got := w.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := w.Start(); !errors.Is(err, ErrBadState) {
		t.Fatalf("Start after failed SetTarget = %v, want ErrBadState", err)
	}
}

func TestWriterStartFailureStaysUnopened(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)
	if err := w.SetTarget("rtmp://a/app/one", container.FormatFLV, nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	mux.contexts[0].headerErr = errors.New("fake: header refused")

	if err := w.Start(); err == nil {
		t.Fatal("Start = nil, want header error")
	}
	if err := w.PutData(&media.Packet{TrackID: 1}); !errors.Is(err, ErrBadState) {
		t.Fatalf("PutData after failed Start = %v, want ErrBadState", err)
	}
}

func TestWriterWriteFailureDoesNotTearDown(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack())
	mux.contexts[0].writeErr = errors.New("fake: broken pipe")

	pkt := &media.Packet{TrackID: 1, Format: media.BitstreamH264AVCC, Payload: []byte{1}}
	if err := w.PutData(pkt); err == nil {
		t.Fatal("PutData = nil, want write error")
	}
	if got := w.State(); got != StateOpen {
		t.Fatalf("state after write failure = %v, want open", got)
	}
	if got := mux.contexts[0].closed; got != 0 {
		t.Fatalf("context closed = %d after write failure, want 0", got)
	}
}

func TestWriterRTMPStartOptions(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 1000})
	w := NewWriter(mux, nil)
	if err := w.SetTarget("rtmp://example.com/live/key", container.FormatFLV, nil); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	opts := mux.contexts[0].headerOpts
	if got := opts["rtmp_tcurl"]; got != "rtmp://example.com/live" {
		t.Fatalf("rtmp_tcurl = %q, want rtmp://example.com/live", got)
	}
	if opts["rtmp_flashver"] == "" {
		t.Fatal("rtmp_flashver not set")
	}
	if opts["fflags"] != "flush_packets" {
		t.Fatalf("fflags = %q, want flush_packets", opts["fflags"])
	}
}

func TestWriterEndToEndFLV(t *testing.T) {
	t.Parallel()

	mux := newFakeMuxer(media.Rational{Num: 1, Den: 90000})
	w := openWriter(t, mux, container.FormatFLV, videoTrack(), audioTrack())

	video := &media.Packet{
		TrackID:  1,
		PTS:      0,
		DTS:      0,
		Keyframe: true,
		Format:   media.BitstreamH264AVCC,
		Payload:  []byte{0, 0, 0, 1, 0x65},
	}
	audio := &media.Packet{
		TrackID: 2,
		PTS:     0,
		DTS:     0,
		Format:  media.BitstreamAACRaw,
		Payload: []byte{0x21, 0x10},
	}

	if err := w.PutData(video); err != nil {
		t.Fatalf("PutData(video): %v", err)
	}
	if err := w.PutData(audio); err != nil {
		t.Fatalf("PutData(audio): %v", err)
	}

	writes := mux.contexts[0].writes
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if writes[0].slot != 0 || writes[1].slot != 1 {
		t.Fatalf("slots = %d,%d, want 0,1", writes[0].slot, writes[1].slot)
	}
	if !writes[0].keyframe || writes[1].keyframe {
		t.Fatalf("keyframe flags = %v,%v, want true,false", writes[0].keyframe, writes[1].keyframe)
	}
	if writes[0].pts != 0 || writes[1].pts != 0 {
		t.Fatalf("pts = %d,%d, want 0,0", writes[0].pts, writes[1].pts)
	}
}
