// Package source provides demux.Upstream implementations: a seekable File
// that supports both scheduling modes and a push-only Reader for streams
// such as pipes and network connections.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/basedemux/demux"
)

// DefaultBlockSize is the read size used when Config.BlockSize is zero.
// 1316 bytes is 7 transport stream packets, the usual SRT payload.
const DefaultBlockSize = 1316 * 10

// ErrNotConnected is returned when a source is activated before Connect.
var ErrNotConnected = errors.New("source: no input connected")

// Config configures a source.
type Config struct {
	Log       *slog.Logger
	BlockSize int
	// OnError is called when reading fails. End-of-stream follows.
	OnError func(error)
}

func (c *Config) defaults(component string) *slog.Logger {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	return c.Log.With("component", component)
}

// Stats captures what a source has delivered.
type Stats struct {
	BytesRead   int64
	ReadCount   int64
	ConnectedAt time.Time
}

type counters struct {
	bytes     atomic.Int64
	reads     atomic.Int64
	connected time.Time
}

func (c *counters) record(n int) {
	c.bytes.Add(int64(n))
	c.reads.Add(1)
}

func (c *counters) snapshot() Stats {
	return Stats{BytesRead: c.bytes.Load(), ReadCount: c.reads.Load(), ConnectedAt: c.connected}
}

// Reader is a push-only upstream over an io.Reader. Once activated it reads
// on its own goroutine and delivers every chunk to the connected input,
// followed by end-of-stream. It cannot seek.
type Reader struct {
	log  *slog.Logger
	cfg  Config
	r    io.Reader
	in   demux.Input
	stat counters

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReader creates a Reader on r. If r is an io.Closer it is closed on
// deactivation to unblock a pending read.
func NewReader(r io.Reader, cfg Config) *Reader {
	log := cfg.defaults("source-reader")
	return &Reader{log: log, cfg: cfg, r: r, stat: counters{connected: time.Now()}}
}

// Connect sets the input data is delivered to.
func (s *Reader) Connect(in demux.Input) {
	s.mu.Lock()
	s.in = in
	s.mu.Unlock()
}

// Stats returns a snapshot of the read counters.
func (s *Reader) Stats() Stats {
	return s.stat.snapshot()
}

// Query implements demux.Upstream.
func (s *Reader) Query(q *demux.Query) bool {
	switch q.Type {
	case demux.QueryScheduling:
		q.Modes = []demux.Mode{demux.ModePush}
		q.Flags = 0
		return true
	case demux.QuerySeeking:
		q.SetSeeking(q.Format, false, 0, -1)
		return true
	case demux.QueryPosition:
		if q.Format == demux.FormatBytes {
			q.SetPosition(demux.FormatBytes, s.stat.bytes.Load())
			return true
		}
	}
	return false
}

// ActivateMode implements demux.Upstream. Only push mode is supported.
func (s *Reader) ActivateMode(mode demux.Mode, active bool) error {
	if mode != demux.ModePush {
		if active {
			return fmt.Errorf("source: %v mode: %w", mode, demux.ErrPullUnsupported)
		}
		return nil
	}

	s.mu.Lock()
	if !active {
		cancel, done := s.cancel, s.done
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
		if cancel == nil {
			return nil
		}
		cancel()
		if c, ok := s.r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.log.Debug("close on deactivate", "error", err)
			}
		}
		<-done
		return nil
	}
	defer s.mu.Unlock()
	if s.in == nil {
		return ErrNotConnected
	}
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel, s.done = cancel, make(chan struct{})
	go s.loop(ctx, s.in, s.done)
	return nil
}

// SendEvent implements demux.Upstream. A Reader handles no events.
func (s *Reader) SendEvent(ev *demux.Event) bool {
	s.log.Debug("event not handled", "event", ev.Type)
	return false
}

// Pull implements demux.Upstream. A Reader cannot be pulled from.
func (s *Reader) Pull(context.Context, int64, int) ([]byte, error) {
	return nil, demux.ErrPullUnsupported
}

func (s *Reader) loop(ctx context.Context, in demux.Input, done chan struct{}) {
	defer close(done)
	s.log.Debug("streaming started")

	var offset int64
	first := true
	for ctx.Err() == nil {
		chunk := make([]byte, s.cfg.BlockSize)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.stat.record(n)
			buf := demux.NewBuffer(chunk[:n])
			buf.Offset = offset
			buf.Discont = first
			first = false
			offset += int64(n)

			if ret := in.Chain(buf); ret != demux.FlowOK {
				if ctx.Err() == nil && ret != demux.FlowFlushing {
					s.log.Info("streaming stopped", "reason", ret, "offset", offset)
					if ret.IsFatal() {
						in.SinkEvent(demux.NewEOSEvent())
					}
				}
				return
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, io.EOF) {
			s.log.Warn("read error", "offset", offset, "error", err)
			if s.cfg.OnError != nil {
				s.cfg.OnError(fmt.Errorf("source read at %d: %w", offset, err))
			}
		}
		st := s.stat.snapshot()
		s.log.Info("end of input", "bytes", st.BytesRead, "reads", st.ReadCount,
			"uptime_ms", time.Since(st.ConnectedAt).Milliseconds())
		in.SinkEvent(demux.NewEOSEvent())
		return
	}
}
