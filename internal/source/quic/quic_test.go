package quic

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/certs"
)

type collectInput struct {
	mu   sync.Mutex
	data []byte
	eos  chan struct{}
}

func (c *collectInput) Chain(buf *demux.Buffer) demux.FlowReturn {
	c.mu.Lock()
	c.data = append(c.data, buf.Data...)
	c.mu.Unlock()
	return demux.FlowOK
}

func (c *collectInput) SinkEvent(ev *demux.Event) bool {
	if ev.Type == demux.EventEOS {
		close(c.eos)
	}
	return true
}

func (c *collectInput) SinkQuery(*demux.Query) bool { return false }

func TestListenRequiresCertificate(t *testing.T) {
	t.Parallel()
	if _, err := Listen("127.0.0.1:0", Config{}); err == nil {
		t.Fatal("expected error without TLS")
	}
}

func TestSendToFeed(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := Listen("127.0.0.1:0", Config{TLS: cert.ServerConfig(ALPN)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	payload := bytes.Repeat([]byte{0x47, 1, 2, 3}, 10000)
	sent := make(chan error, 1)
	go func() {
		_, err := Send(ctx, ln.Addr().String(), bytes.NewReader(payload), certs.PinnedClientConfig(cert.Fingerprint, ALPN))
		sent <- err
	}()

	feed, err := ln.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	in := &collectInput{eos: make(chan struct{})}
	feed.Connect(in)
	if err := feed.ActivateMode(demux.ModePush, true); err != nil {
		t.Fatal(err)
	}

	select {
	case <-in.eos:
	case <-ctx.Done():
		t.Fatal("timed out waiting for end of stream")
	}
	if err := feed.ActivateMode(demux.ModePush, false); err != nil {
		t.Fatal(err)
	}
	if err := <-sent; err != nil {
		t.Fatalf("send: %v", err)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if !bytes.Equal(in.data, payload) {
		t.Fatalf("received %d bytes, want %d", len(in.data), len(payload))
	}
	if feed.Stats().BytesRead != int64(len(payload)) {
		t.Fatalf("stats bytes = %d", feed.Stats().BytesRead)
	}
}

func TestSendRejectsUnpinnedServer(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := Listen("127.0.0.1:0", Config{TLS: cert.ServerConfig(ALPN)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Send(ctx, ln.Addr().String(), bytes.NewReader([]byte("x")), certs.PinnedClientConfig(other.Fingerprint, ALPN))
	if err == nil {
		t.Fatal("expected handshake failure")
	}
}
