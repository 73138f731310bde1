package push

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/egress/internal/certs"
	"github.com/zsiec/egress/internal/container"
)

// quicALPN is the application protocol negotiated with push receivers.
const quicALPN = "egress-ts"

// QUICTarget pushes MPEG-TS bytes over a single QUIC stream.
type QUICTarget struct {
	conn   quic.Connection
	stream quic.Stream
	addr   string
}

// DialQUIC connects to a QUIC push receiver and opens the data stream.
// fingerprint, when non-empty, is the base64 SHA-256 of the server's
// certificate; the connection is then pinned to it instead of verified
// against the system roots, which suits receivers with self-signed certs.
func DialQUIC(ctx context.Context, addr, fingerprint string) (*QUICTarget, error) {
	tlsConf, err := certs.ClientTLS(quicALPN, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("push: QUIC TLS config: %w", err)
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("push: QUIC dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("push: QUIC open stream: %w", err)
	}

	return &QUICTarget{conn: conn, stream: stream, addr: addr}, nil
}

func (t *QUICTarget) Destination() string      { return "quic://" + t.addr }
func (t *QUICTarget) Format() container.Format { return container.FormatMPEGTS }
func (t *QUICTarget) Sink() io.Writer          { return t.stream }

func (t *QUICTarget) Close() error {
	if err := t.stream.Close(); err != nil {
		t.conn.CloseWithError(0, "stream close failed")
		return err
	}
	return t.conn.CloseWithError(0, "done")
}
