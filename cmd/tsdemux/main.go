package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/basedemux/internal/certs"
	"github.com/zsiec/basedemux/internal/config"
	"github.com/zsiec/basedemux/internal/pipeline"
	"github.com/zsiec/basedemux/internal/source"
	quicsrc "github.com/zsiec/basedemux/internal/source/quic"
	srtsrc "github.com/zsiec/basedemux/internal/source/srt"
)

var version = "dev"

const statsInterval = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("TSDEMUX_CONFIG"), os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tsdemux:", err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("tsdemux starting",
		"version", version,
		"input", cfg.Input.Kind,
		"output", cfg.Output.Path,
		"mode", cfg.Demux.Mode,
	)

	if err := run(ctx, cfg); err != nil {
		slog.Error("tsdemux failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	out, closeOut, err := openOutput(cfg.Output.Path)
	if err != nil {
		return err
	}
	defer closeOut()

	src, closeSrc, err := openInput(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	mode, _ := cfg.Mode()
	p := pipeline.New(src, out, pipeline.Config{
		Name:      cfg.Input.Kind,
		Mode:      mode,
		BlockSize: cfg.Demux.BlockSize,
		Captions:  cfg.Demux.Captions,
	})

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return p.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				snap := p.Snapshot()
				slog.Info("progress",
					"streams", snap.Streams,
					"frames", snap.Frames,
					"bytes_out", snap.BytesWritten,
					"position", snap.Position,
					"packets", snap.Parser.Packets,
					"cc_errors", snap.Parser.CCErrors,
				)
			}
		}
	})
	return g.Wait()
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" || path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			slog.Error("close output", "error", err)
		}
	}, nil
}

func openInput(ctx context.Context, cfg *config.Config) (pipeline.Source, func(), error) {
	scfg := source.Config{BlockSize: cfg.Demux.BlockSize}
	nop := func() {}

	switch cfg.Input.Kind {
	case config.InputFile:
		f, err := source.Open(cfg.Input.Path, scfg)
		if err != nil {
			return nil, nil, err
		}
		f.PushOnly = cfg.Input.PushOnly
		return f, func() { f.Close() }, nil

	case config.InputStdin:
		return source.NewReader(os.Stdin, scfg), nop, nil

	case config.InputSRTListen, config.InputSRTDial:
		srtCfg := srtsrc.Config{
			StreamID:    cfg.Input.StreamID,
			DialTimeout: cfg.Input.DialTimeout,
			Source:      scfg,
		}
		var (
			feed *srtsrc.Feed
			err  error
		)
		if cfg.Input.Kind == config.InputSRTListen {
			feed, err = srtsrc.Listen(ctx, cfg.Input.Addr, srtCfg)
		} else {
			feed, err = srtsrc.Dial(ctx, cfg.Input.Addr, srtCfg)
		}
		if err != nil {
			return nil, nil, err
		}
		slog.Info("SRT feed connected", "key", feed.Key, "remote", feed.Remote)
		return feed, nop, nil

	case config.InputQUIC:
		cert, err := certs.Generate(cfg.Input.CertValidity)
		if err != nil {
			return nil, nil, fmt.Errorf("generate certificate: %w", err)
		}
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		ln, err := quicsrc.Listen(cfg.Input.Addr, quicsrc.Config{
			TLS:    cert.ServerConfig(quicsrc.ALPN),
			Source: scfg,
		})
		if err != nil {
			return nil, nil, err
		}
		closeLn := func() {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				slog.Debug("close QUIC listener", "error", err)
			}
		}
		// The listener owns the socket, so it stays open while the feed runs.
		feed, err := ln.Accept(ctx)
		if err != nil {
			closeLn()
			return nil, nil, err
		}
		slog.Info("QUIC feed connected", "remote", feed.Remote)
		return feed, closeLn, nil
	}
	return nil, nil, fmt.Errorf("unknown input kind %q", cfg.Input.Kind)
}
