package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zsiec/egress/internal/metrics"
	"github.com/zsiec/egress/internal/push"
	"github.com/zsiec/egress/internal/stream"
	"github.com/zsiec/egress/media"
)

type trackRequest struct {
	ID       uint32 `json:"id"`
	Type     string `json:"type"`  // "video" or "audio"
	Codec    string `json:"codec"` // "h264", "h265", "aac", ...
	TimeBase struct {
		Num int64 `json:"num"`
		Den int64 `json:"den"`
	} `json:"timebase"`
	Bitrate    int64  `json:"bitrate,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	ExtraData  []byte `json:"extradata,omitempty"`
}

type createStreamRequest struct {
	Name   string         `json:"name" binding:"required"`
	Tracks []trackRequest `json:"tracks" binding:"required,min=1"`
}

type createPushRequest struct {
	URL         string `json:"url" binding:"required"`
	StreamID    string `json:"stream_id,omitempty"`   // SRT streamid
	Fingerprint string `json:"fingerprint,omitempty"` // QUIC cert pin
}

type streamResponse struct {
	Name     string            `json:"name"`
	State    string            `json:"state"`
	Tracks   []trackResponse   `json:"tracks"`
	Sessions []sessionResponse `json:"sessions"`
}

type trackResponse struct {
	ID    uint32 `json:"id"`
	Type  string `json:"type"`
	Codec string `json:"codec"`
}

type sessionResponse struct {
	ID     uint64 `json:"id"`
	Target string `json:"target,omitempty"`
}

func (s *Server) listStreams(c *gin.Context) {
	streams := s.mgr.List()
	out := make([]streamResponse, len(streams))
	for i, st := range streams {
		out[i] = describeStream(st)
	}
	c.JSON(http.StatusOK, gin.H{"streams": out})
}

func (s *Server) createStream(c *gin.Context) {
	var req createStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, created := s.mgr.Create(req.Name)
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("stream %q already exists", req.Name)})
		return
	}

	for _, tr := range req.Tracks {
		track, err := trackFromRequest(tr)
		if err == nil {
			err = st.AddTrack(track)
		}
		if err != nil {
			s.mgr.Remove(req.Name)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := st.Start(); err != nil {
		s.mgr.Remove(req.Name)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.log.Info("stream created", "stream", req.Name, "tracks", len(req.Tracks))
	c.JSON(http.StatusCreated, describeStream(st))
}

func (s *Server) getStream(c *gin.Context) {
	st := s.mgr.Get(c.Param("name"))
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	c.JSON(http.StatusOK, describeStream(st))
}

func (s *Server) deleteStream(c *gin.Context) {
	name := c.Param("name")
	if s.mgr.Get(name) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	s.mgr.Remove(name)
	metrics.StreamRemoved(name)
	c.JSON(http.StatusOK, gin.H{"removed": name})
}

func (s *Server) createPush(c *gin.Context) {
	st := s.mgr.Get(c.Param("name"))
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	var req createPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, err := s.dialTarget(c, req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	sess, err := push.Create(st, target, s.mux, s.log)
	if err != nil {
		target.Close()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	metrics.SessionCreated(st.Name())
	c.JSON(http.StatusCreated, sessionResponse{ID: sess.ID(), Target: sess.Target()})
}

// dialTarget builds the transport for a push request. srt:// and quic://
// destinations are dialed here; everything else is opened by the
// container muxer itself.
func (s *Server) dialTarget(c *gin.Context, req createPushRequest) (push.Target, error) {
	switch {
	case strings.HasPrefix(req.URL, "srt://"):
		return push.DialSRT(c.Request.Context(), strings.TrimPrefix(req.URL, "srt://"), push.SRTOptions{
			StreamID:    req.StreamID,
			Latency:     time.Duration(s.cfg.SRT.LatencyMs) * time.Millisecond,
			DialTimeout: time.Duration(s.cfg.SRT.DialTimeout) * time.Second,
		}, s.log)
	case strings.HasPrefix(req.URL, "quic://"):
		fingerprint := req.Fingerprint
		if fingerprint == "" {
			fingerprint = s.cfg.QUIC.Fingerprint
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		return push.DialQUIC(ctx, strings.TrimPrefix(req.URL, "quic://"), fingerprint)
	default:
		return push.NewURLTarget(req.URL)
	}
}

func (s *Server) deletePush(c *gin.Context) {
	st := s.mgr.Get(c.Param("name"))
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	if !st.RemoveSession(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

func describeStream(st *stream.Stream) streamResponse {
	tracks := st.Tracks()
	tr := make([]trackResponse, len(tracks))
	for i, t := range tracks {
		tr[i] = trackResponse{ID: t.ID, Type: t.Type.String(), Codec: t.Codec.String()}
	}

	sessions := st.Sessions()
	sr := make([]sessionResponse, len(sessions))
	for i, sess := range sessions {
		sr[i] = sessionResponse{ID: sess.ID()}
		if t, ok := sess.(interface{ Target() string }); ok {
			sr[i].Target = t.Target()
		}
	}

	return streamResponse{
		Name:     st.Name(),
		State:    st.State().String(),
		Tracks:   tr,
		Sessions: sr,
	}
}

func trackFromRequest(tr trackRequest) (*media.Track, error) {
	mt, err := parseMediaType(tr.Type)
	if err != nil {
		return nil, err
	}
	codec, err := parseCodec(tr.Codec)
	if err != nil {
		return nil, err
	}
	tb := media.Rational{Num: tr.TimeBase.Num, Den: tr.TimeBase.Den}
	if !tb.IsValid() {
		return nil, fmt.Errorf("track %d: invalid timebase %d/%d", tr.ID, tb.Num, tb.Den)
	}

	layout := media.ChannelLayoutUnknown
	switch tr.Channels {
	case 1:
		layout = media.ChannelLayoutMono
	case 2:
		layout = media.ChannelLayoutStereo
	}

	return &media.Track{
		ID:         tr.ID,
		Type:       mt,
		Codec:      codec,
		TimeBase:   tb,
		Bitrate:    tr.Bitrate,
		Width:      tr.Width,
		Height:     tr.Height,
		SampleRate: tr.SampleRate,
		Channels:   tr.Channels,
		Layout:     layout,
		ExtraData:  tr.ExtraData,
	}, nil
}

func parseMediaType(s string) (media.MediaType, error) {
	switch s {
	case "video":
		return media.MediaTypeVideo, nil
	case "audio":
		return media.MediaTypeAudio, nil
	default:
		return media.MediaTypeUnknown, fmt.Errorf("unknown media type %q", s)
	}
}

func parseCodec(s string) (media.CodecID, error) {
	switch s {
	case "h264":
		return media.CodecIDH264, nil
	case "h265", "hevc":
		return media.CodecIDH265, nil
	case "vp8":
		return media.CodecIDVP8, nil
	case "vp9":
		return media.CodecIDVP9, nil
	case "aac":
		return media.CodecIDAAC, nil
	case "mp3":
		return media.CodecIDMP3, nil
	case "opus":
		return media.CodecIDOpus, nil
	default:
		return media.CodecIDNone, fmt.Errorf("unknown codec %q", s)
	}
}
