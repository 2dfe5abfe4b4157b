// Package srt provides push-only demuxer sources fed by SRT (Secure
// Reliable Transport), either by accepting a publisher (listener mode) or by
// dialing a remote listener (caller mode).
package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/basedemux/internal/source"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// DefaultDialTimeout bounds Dial when Config.DialTimeout is zero.
const DefaultDialTimeout = 10 * time.Second

// Config configures a listener or caller.
type Config struct {
	Log *slog.Logger
	// StreamID is sent by Dial; empty uses "live/default".
	StreamID    string
	DialTimeout time.Duration
	Source      source.Config
}

// Feed is an SRT connection wrapped as a push-only source.
type Feed struct {
	*source.Reader
	Key    string
	Remote string
}

// Listen waits on addr for one publisher and returns its connection as a
// Feed. Publishers without a stream id are rejected. The listener is closed
// once a publisher is accepted or ctx is done.
func Listen(ctx context.Context, addr string, cfg Config) (*Feed, error) {
	log := logger(cfg.Log).With("component", "srt-listener")

	scfg := srtgo.DefaultConfig()
	scfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(addr, scfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	log.Info("listening", "addr", addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("accept error", "error", err)
			continue
		}
		key := extractStreamKey(conn.StreamID())
		remote := conn.RemoteAddr().String()
		log.Info("publish", "stream_key", key, "remote", remote)
		return newFeed(conn, key, remote, cfg), nil
	}
}

// Dial connects to a remote SRT listener and returns the connection as a
// Feed.
func Dial(ctx context.Context, addr string, cfg Config) (*Feed, error) {
	if addr == "" {
		return nil, errors.New("address is required")
	}
	log := logger(cfg.Log).With("component", "srt-caller")

	scfg := srtgo.DefaultConfig()
	scfg.Latency = srtLatencyNs
	scfg.StreamID = cfg.StreamID
	if scfg.StreamID == "" {
		scfg.StreamID = "live/default"
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	log.Info("dialing", "address", addr, "stream_id", scfg.StreamID)

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, scfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		log.Info("connected", "address", addr)
		return newFeed(res.conn, extractStreamKey(scfg.StreamID), addr, cfg), nil
	case <-timer.C:
		go closeLate(ch)
		return nil, fmt.Errorf("SRT dial timed out after %s", timeout)
	case <-ctx.Done():
		go closeLate(ch)
		return nil, ctx.Err()
	}
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// closeLate drains an abandoned dial and closes any connection it produced.
func closeLate(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

func newFeed(conn *srtgo.Conn, key, remote string, cfg Config) *Feed {
	scfg := cfg.Source
	if scfg.Log == nil {
		scfg.Log = cfg.Log
	}
	if scfg.BlockSize == 0 {
		scfg.BlockSize = source.DefaultBlockSize
	}
	return &Feed{Reader: source.NewReader(conn, scfg), Key: key, Remote: remote}
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
