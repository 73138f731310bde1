package push

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/egress/internal/container"
)

// Fallbacks for SRTOptions fields left zero.
const (
	defaultSRTLatency     = 120 * time.Millisecond
	defaultSRTDialTimeout = 10 * time.Second
)

// SRTOptions configures an outbound SRT connection.
type SRTOptions struct {
	// StreamID is the SRT streamid handed to the listener. May be empty.
	StreamID string
	// Latency is the SRT latency setting. Zero means 120ms.
	Latency time.Duration
	// DialTimeout bounds the synchronous caller-mode handshake. Zero
	// means 10s.
	DialTimeout time.Duration
}

func (o SRTOptions) withDefaults() SRTOptions {
	if o.Latency <= 0 {
		o.Latency = defaultSRTLatency
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultSRTDialTimeout
	}
	return o
}

// SRTTarget pushes MPEG-TS over an SRT caller-mode connection. The muxer
// writes into the connection through Sink.
type SRTTarget struct {
	conn *srtgo.Conn
	addr string
}

// DialSRT dials the remote SRT listener synchronously, bounded by the
// configured dial timeout, returning an error if the handshake fails.
func DialSRT(ctx context.Context, addr string, opts SRTOptions, log *slog.Logger) (*SRTTarget, error) {
	if log == nil {
		log = slog.Default()
	}
	if addr == "" {
		return nil, fmt.Errorf("push: SRT address is required")
	}

	opts = opts.withDefaults()

	cfg := srtgo.DefaultConfig()
	cfg.Latency = opts.Latency.Nanoseconds()
	cfg.StreamID = opts.StreamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(opts.DialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("push: SRT dial %s: %w", addr, res.err)
		}
		log.Info("SRT push connected",
			"address", addr, "stream_id", opts.StreamID, "latency", opts.Latency)
		return &SRTTarget{conn: res.conn, addr: addr}, nil
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("push: SRT dial %s timed out after %s", addr, opts.DialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (t *SRTTarget) Destination() string      { return "srt://" + t.addr }
func (t *SRTTarget) Format() container.Format { return container.FormatMPEGTS }
func (t *SRTTarget) Sink() io.Writer          { return t.conn }

func (t *SRTTarget) Close() error {
	t.conn.Close()
	return nil
}
