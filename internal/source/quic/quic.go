// Package quic provides a push-only demuxer source fed over QUIC: a
// publisher opens one unidirectional stream and writes the transport stream
// into it.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/basedemux/internal/source"
)

// ALPN is the application protocol negotiated by listener and publisher.
const ALPN = "basedemux-ts"

const idleTimeout = 30 * time.Second

// Config configures a Listener.
type Config struct {
	Log    *slog.Logger
	TLS    *tls.Config
	Source source.Config
}

// Listener accepts QUIC publishers.
type Listener struct {
	log *slog.Logger
	cfg Config
	ln  *quic.Listener
}

// Listen starts listening on addr. cfg.TLS must carry a certificate; the
// ALPN protocol is added when absent.
func Listen(addr string, cfg Config) (*Listener, error) {
	if cfg.TLS == nil || len(cfg.TLS.Certificates) == 0 {
		return nil, errors.New("quic listener: TLS certificate required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	tlsConf := cfg.TLS.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{MaxIdleTimeout: idleTimeout})
	if err != nil {
		return nil, fmt.Errorf("QUIC listen on %s: %w", addr, err)
	}
	l := &Listener{log: cfg.Log.With("component", "quic-listener"), cfg: cfg, ln: ln}
	l.log.Info("listening", "addr", ln.Addr())
	return l, nil
}

// Addr returns the local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting publishers and releases the socket, which ends
// every feed accepted from l.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Feed is one publisher's stream wrapped as a push-only source.
type Feed struct {
	*source.Reader
	Remote string
}

// Accept waits for a publisher and its first unidirectional stream.
func (l *Listener) Accept(ctx context.Context) (*Feed, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept connection: %w", err)
	}
	remote := conn.RemoteAddr().String()
	str, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, fmt.Errorf("accept stream from %s: %w", remote, err)
	}
	l.log.Info("publish", "remote", remote)

	scfg := l.cfg.Source
	if scfg.Log == nil {
		scfg.Log = l.cfg.Log
	}
	return &Feed{
		Reader: source.NewReader(&streamReader{str: str, conn: conn}, scfg),
		Remote: remote,
	}, nil
}

// streamReader closes the whole connection when the source is deactivated.
type streamReader struct {
	str  quic.ReceiveStream
	conn quic.Connection
}

func (r *streamReader) Read(p []byte) (int, error) {
	return r.str.Read(p)
}

func (r *streamReader) Close() error {
	r.str.CancelRead(0)
	return r.conn.CloseWithError(0, "")
}

// Send publishes everything read from r to the listener at addr and waits
// until the listener closes the connection or ctx is done. It returns the
// number of bytes sent.
func Send(ctx context.Context, addr string, r io.Reader, tlsConf *tls.Config) (int64, error) {
	if tlsConf == nil {
		return 0, errors.New("quic send: TLS configuration required")
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{MaxIdleTimeout: idleTimeout})
	if err != nil {
		return 0, fmt.Errorf("QUIC dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	str, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}
	n, err := io.Copy(str, r)
	if err != nil {
		str.CancelWrite(0)
		return n, fmt.Errorf("send: %w", err)
	}
	if err := str.Close(); err != nil {
		return n, fmt.Errorf("close stream: %w", err)
	}

	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
		return n, ctx.Err()
	}
	return n, nil
}
