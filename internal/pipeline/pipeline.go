// Package pipeline runs a single transport stream through the demuxer: it
// links a source to an MPEG-TS demuxer, writes every output stream to one
// framed sink, and tears everything down at end of stream.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/mpegts"
	"github.com/zsiec/basedemux/internal/sink"
	"github.com/zsiec/basedemux/internal/tsdemux"
)

// Source is an upstream that delivers pushed data into an input.
type Source interface {
	demux.Upstream
	Connect(in demux.Input)
}

// Config configures a Pipeline.
type Config struct {
	Name string
	Log  *slog.Logger
	// Mode forces a scheduling mode; ModeNone negotiates.
	Mode      demux.Mode
	BlockSize int
	Captions  bool
}

// Snapshot is a point-in-time view of pipeline progress.
type Snapshot struct {
	UptimeMs     int64
	Mode         demux.Mode
	Streams      int
	Frames       int64
	BytesWritten int64
	Position     int64
	Parser       mpegts.Stats
}

// Pipeline couples one source, one demuxer and one framed output.
type Pipeline struct {
	log       *slog.Logger
	cfg       Config
	src       Source
	ts        *tsdemux.Demuxer
	out       *sink.Writer
	startTime time.Time

	outputs atomic.Int32

	doneOnce sync.Once
	done     chan struct{}
	errMu    sync.Mutex
	err      error
}

// New creates a Pipeline reading from src and writing framed output to w.
func New(src Source, w io.Writer, cfg Config) *Pipeline {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	log := cfg.Log.With("stream", cfg.Name)

	p := &Pipeline{
		log:  log,
		cfg:  cfg,
		src:  src,
		out:  sink.NewWriter(w, log),
		done: make(chan struct{}),
	}
	p.ts = tsdemux.New(tsdemux.Config{
		Log:      log,
		Captions: cfg.Captions,
		Link:     p.link,
		Engine: demux.Config{
			Name:      cfg.Name,
			BlockSize: cfg.BlockSize,
			OnError:   p.fail,
			OnEOS:     p.finish,
		},
	})

	engine := p.ts.Engine()
	engine.Link(src)
	src.Connect(engine)
	return p
}

// Demuxer returns the pipeline's demuxer.
func (p *Pipeline) Demuxer() *tsdemux.Demuxer {
	return p.ts
}

// Run activates the demuxer and blocks until end of stream, a streaming
// error or ctx cancellation, then deactivates it. Cancellation is not an
// error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.startTime = time.Now()
	engine := p.ts.Engine()

	var err error
	if p.cfg.Mode == demux.ModeNone {
		err = engine.Activate()
	} else {
		err = engine.ActivateMode(p.cfg.Mode)
	}
	if err != nil {
		return err
	}
	p.log.Info("pipeline started", "mode", engine.Mode())

	select {
	case <-p.done:
		p.log.Info("end of stream")
	case <-ctx.Done():
		p.log.Info("pipeline cancelled")
	}

	snap := p.Snapshot()
	if derr := engine.Deactivate(); derr != nil && !errors.Is(derr, demux.ErrNotActive) {
		p.fail(derr)
	}
	p.log.Info("pipeline stopped",
		"streams", snap.Streams,
		"frames", snap.Frames,
		"bytes", snap.BytesWritten,
		"uptime_ms", snap.UptimeMs,
	)

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return errors.Join(p.err, p.out.Err())
}

// Snapshot returns current progress counters.
func (p *Pipeline) Snapshot() Snapshot {
	engine := p.ts.Engine()
	return Snapshot{
		UptimeMs:     time.Since(p.startTime).Milliseconds(),
		Mode:         engine.Mode(),
		Streams:      int(p.outputs.Load()),
		Frames:       p.out.Frames(),
		BytesWritten: p.out.Bytes(),
		Position:     engine.ByteOffset(),
		Parser:       p.ts.Stats(),
	}
}

func (p *Pipeline) link(s *demux.Stream[tsdemux.Track]) demux.Downstream {
	n := p.outputs.Add(1)
	p.log.Info("output", "track", n-1, "stream", s.ID, "codec", s.Caps, "language", s.Payload.Language)
	return p.out.Output()
}

func (p *Pipeline) fail(err error) {
	p.log.Error("pipeline error", "error", err)
	p.errMu.Lock()
	p.err = errors.Join(p.err, err)
	p.errMu.Unlock()
	p.finish()
}

func (p *Pipeline) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}
