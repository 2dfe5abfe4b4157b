// Package publish replays a transport stream at its own bitrate, for feeding
// live inputs from a file.
package publish

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/basedemux/internal/mpegts"
)

// DefaultChunk is seven packets, one SRT payload.
const DefaultChunk = 7 * mpegts.PacketSize

// Duration returns the PTS span of the transport stream in data, or zero
// when fewer than two timestamps are found.
func Duration(data []byte) time.Duration {
	p := mpegts.NewParser(slog.New(slog.DiscardHandler))
	first, last := mpegts.TimestampNone, mpegts.TimestampNone
	observe := func(units []*mpegts.Unit) {
		for _, u := range units {
			if u.PES == nil || u.PES.PTS < 0 {
				continue
			}
			if first < 0 || u.PES.PTS < first {
				first = u.PES.PTS
			}
			if u.PES.PTS > last {
				last = u.PES.PTS
			}
		}
	}

	for off := mpegts.FindSync(data); off >= 0 && off+mpegts.PacketSize <= len(data); off += mpegts.PacketSize {
		units, err := p.Feed(data[off : off+mpegts.PacketSize])
		if err != nil {
			continue
		}
		observe(units)
	}
	observe(p.Drain())

	if first < 0 || last <= first {
		return 0
	}
	return time.Duration(last-first) * time.Second / 90000
}

// Config configures a Reader.
type Config struct {
	// Rate is the target rate in bytes per second; zero disables pacing.
	Rate float64
	// Chunk bounds a single Read. Defaults to DefaultChunk.
	Chunk int
	// Loop restarts from the beginning at the end of data.
	Loop bool
	Log  *slog.Logger
}

// Reader reads data no faster than the configured rate. Pacing follows one
// clock across loops, so there is no burst at the seam.
type Reader struct {
	ctx  context.Context
	cfg  Config
	log  *slog.Logger
	data []byte

	pos   int
	loops int
	sent  int64
	start time.Time
}

// NewReader returns a paced reader over data. Reads fail with ctx.Err()
// once ctx is done.
func NewReader(ctx context.Context, data []byte, cfg Config) *Reader {
	if cfg.Chunk <= 0 {
		cfg.Chunk = DefaultChunk
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Reader{ctx: ctx, cfg: cfg, log: cfg.Log.With("component", "publish"), data: data}
}

// Sent returns the number of bytes read so far.
func (r *Reader) Sent() int64 {
	return r.sent
}

func (r *Reader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.start.IsZero() {
		r.start = time.Now()
	}
	if r.pos >= len(r.data) {
		if !r.cfg.Loop || len(r.data) == 0 {
			return 0, io.EOF
		}
		r.loops++
		r.pos = 0
		r.log.Info("loop complete", "loop", r.loops, "sent", r.sent, "elapsed", time.Since(r.start).Truncate(time.Second))
	}

	n := copy(p[:min(len(p), r.cfg.Chunk)], r.data[r.pos:])
	r.pos += n
	r.sent += int64(n)

	if r.cfg.Rate > 0 {
		due := r.start.Add(time.Duration(float64(r.sent) / r.cfg.Rate * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-r.ctx.Done():
				return n, r.ctx.Err()
			}
		}
	}
	return n, nil
}
