// Command tspush replays a transport stream file into a live tsdemux input
// over SRT or QUIC, paced at the file's own bitrate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/basedemux/internal/certs"
	"github.com/zsiec/basedemux/internal/publish"
	quicsrc "github.com/zsiec/basedemux/internal/source/quic"
)

func main() {
	srtAddr := flag.String("srt", "", "SRT listener address")
	quicAddr := flag.String("quic", "", "QUIC listener address")
	fingerprint := flag.String("fingerprint", "", "base64 SHA-256 fingerprint of the QUIC listener certificate")
	streamID := flag.String("streamid", "", "SRT stream id (default: live/<file name>)")
	duration := flag.Duration("duration", 0, "file duration, overriding the PTS scan")
	loop := flag.Bool("loop", false, "repeat the file until interrupted")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 || (*srtAddr == "") == (*quicAddr == "") {
		fmt.Fprintln(os.Stderr, "usage: tspush (-srt host:port | -quic host:port -fingerprint fp) [flags] file.ts")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("read input", "error", err)
		os.Exit(1)
	}
	d := *duration
	if d <= 0 {
		d = publish.Duration(data)
	}
	var rate float64
	if d > 0 {
		rate = float64(len(data)) / d.Seconds()
	} else {
		slog.Warn("no timestamps found, sending unpaced")
	}
	slog.Info("input", "file", path, "bytes", len(data), "duration", d, "rate", int64(rate))

	r := publish.NewReader(ctx, data, publish.Config{Rate: rate, Loop: *loop})
	start := time.Now()
	if *srtAddr != "" {
		id := *streamID
		if id == "" {
			id = defaultStreamID(path)
		}
		err = pushSRT(*srtAddr, id, r)
	} else {
		err = pushQUIC(ctx, *quicAddr, *fingerprint, r)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		slog.Error("push failed", "error", err, "sent", r.Sent())
		os.Exit(1)
	}
	slog.Info("done", "sent", r.Sent(), "elapsed", time.Since(start).Truncate(time.Millisecond))
}

// defaultStreamID derives an SRT stream id from the file name.
func defaultStreamID(path string) string {
	base := filepath.Base(path)
	return "live/" + strings.TrimSuffix(base, filepath.Ext(base))
}

func pushSRT(addr, streamID string, r io.Reader) error {
	cfg := srtgo.DefaultConfig()
	cfg.StreamID = streamID
	conn, err := srtgo.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT dial %s: %w", addr, err)
	}
	defer conn.Close()
	slog.Info("connected", "addr", addr, "stream_id", streamID)

	buf := make([]byte, publish.DefaultChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("SRT write: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func pushQUIC(ctx context.Context, addr, fingerprint string, r io.Reader) error {
	fp, err := certs.ParseFingerprint(fingerprint)
	if err != nil {
		return err
	}
	_, err = quicsrc.Send(ctx, addr, r, certs.PinnedClientConfig(fp, quicsrc.ALPN))
	return err
}
