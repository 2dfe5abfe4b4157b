package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zsiec/basedemux/demux"
)

// File is an upstream over random-access data of known size. It offers
// pull mode and reports itself seekable. In push mode it reads on its own
// goroutine and handles flushing byte seeks: FLUSH_START, FLUSH_STOP and a
// byte segment carrying the seek's seqnum are delivered before SendEvent
// returns. Seeks may be issued from within the input's Chain.
type File struct {
	log    *slog.Logger
	cfg    Config
	r      io.ReaderAt
	size   int64
	closer io.Closer
	stat   counters

	// PushOnly hides pull mode from scheduling queries.
	PushOnly bool

	mu     sync.Mutex
	in     demux.Input
	mode   demux.Mode
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	// streamMu is held by the push loop while it reads a chunk and by
	// seeks while they reposition the loop. It is not held across Chain.
	streamMu sync.Mutex
	offset   int64
	discont  bool
	gen      uint64
}

// NewFile creates a File over size bytes of r.
func NewFile(r io.ReaderAt, size int64, cfg Config) *File {
	log := cfg.defaults("source-file")
	return &File{
		log:  log,
		cfg:  cfg,
		r:    r,
		size: size,
		stat: counters{connected: time.Now()},
		wake: make(chan struct{}, 1),
	}
}

// Open opens the named file. Close releases it.
func Open(path string, cfg Config) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("source %s: not a regular file", path)
	}
	src := NewFile(f, fi.Size(), cfg)
	src.closer = f
	src.log = src.log.With("path", path)
	return src, nil
}

// Close releases the underlying file, if Open created it.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Connect sets the input pushed data is delivered to.
func (f *File) Connect(in demux.Input) {
	f.mu.Lock()
	f.in = in
	f.mu.Unlock()
}

// Size returns the data length in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Stats returns a snapshot of the read counters.
func (f *File) Stats() Stats {
	return f.stat.snapshot()
}

// Query implements demux.Upstream.
func (f *File) Query(q *demux.Query) bool {
	switch q.Type {
	case demux.QueryScheduling:
		q.Modes = []demux.Mode{demux.ModePush}
		if !f.PushOnly {
			q.Modes = append(q.Modes, demux.ModePull)
		}
		q.Flags = demux.SchedSeekable
		return true
	case demux.QueryDuration:
		if q.Format == demux.FormatBytes {
			q.SetDuration(demux.FormatBytes, f.size)
			return true
		}
	case demux.QuerySeeking:
		if q.Format == demux.FormatBytes {
			q.SetSeeking(demux.FormatBytes, true, 0, f.size)
			return true
		}
	}
	return false
}

// ActivateMode implements demux.Upstream.
func (f *File) ActivateMode(mode demux.Mode, active bool) error {
	switch mode {
	case demux.ModePull:
		if active && f.PushOnly {
			return demux.ErrPullUnsupported
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if active {
			f.mode = demux.ModePull
		} else if f.mode == demux.ModePull {
			f.mode = demux.ModeNone
		}
		return nil

	case demux.ModePush:
		if active {
			return f.startPush()
		}
		f.stopPush()
		return nil
	}
	return fmt.Errorf("source: unknown mode %v", mode)
}

func (f *File) startPush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.in == nil {
		return ErrNotConnected
	}
	if f.cancel != nil {
		return nil
	}
	f.streamMu.Lock()
	f.offset = 0
	f.discont = true
	f.streamMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	f.mode = demux.ModePush
	f.cancel, f.done = cancel, make(chan struct{})
	go f.loop(ctx, f.in, f.done)
	return nil
}

func (f *File) stopPush() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	if f.mode == demux.ModePush {
		f.mode = demux.ModeNone
	}
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Pull implements demux.Upstream.
func (f *File) Pull(ctx context.Context, offset int64, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset >= f.size {
		return nil, io.EOF
	}
	size = int(min(int64(size), f.size-offset))
	buf := make([]byte, size)
	n, err := f.r.ReadAt(buf, offset)
	f.stat.record(n)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return buf[:n], fmt.Errorf("read at %d: %w", offset, err)
	}
	return buf[:n], nil
}

// SendEvent implements demux.Upstream. Only byte seeks in push mode are
// handled; in pull mode the demuxer positions its own reads.
func (f *File) SendEvent(ev *demux.Event) bool {
	if ev.Type != demux.EventSeek || ev.Seek == nil {
		return false
	}
	seek := ev.Seek
	if seek.Format != demux.FormatBytes || seek.StartType != demux.SeekTypeSet {
		f.log.Debug("unsupported seek", "format", seek.Format, "start_type", seek.StartType)
		return false
	}
	if seek.Start < 0 || seek.Start > f.size {
		return false
	}

	f.mu.Lock()
	in, mode := f.in, f.mode
	f.mu.Unlock()
	if mode != demux.ModePush || in == nil {
		return false
	}

	flush := seek.Flags&demux.SeekFlagFlush != 0
	f.streamMu.Lock()
	if flush {
		in.SinkEvent(demux.NewFlushStartEvent().WithSeqnum(ev.Seqnum))
	}
	f.offset = seek.Start
	f.discont = true
	f.gen++
	if flush {
		in.SinkEvent(demux.NewFlushStopEvent().WithSeqnum(ev.Seqnum))
	}
	seg := demux.NewSegment(demux.FormatBytes)
	seg.Start = seek.Start
	seg.Stop = f.size
	seg.Duration = f.size
	in.SinkEvent(demux.NewSegmentEvent(seg).WithSeqnum(ev.Seqnum))
	f.streamMu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	f.log.Debug("seek", "offset", seek.Start, "flush", flush, "seqnum", ev.Seqnum)
	return true
}

func (f *File) loop(ctx context.Context, in demux.Input, done chan struct{}) {
	defer close(done)

	seg := demux.NewSegment(demux.FormatBytes)
	seg.Start = 0
	seg.Stop = f.size
	seg.Duration = f.size
	in.SinkEvent(demux.NewSegmentEvent(seg))

	for {
		ret, gen := f.step(ctx, in)
		if ctx.Err() != nil {
			return
		}
		if ret == demux.FlowOK || f.moved(gen) {
			continue
		}

		switch {
		case ret == demux.FlowEOS:
			f.log.Info("end of input", "bytes", f.stat.bytes.Load())
			in.SinkEvent(demux.NewEOSEvent())
		case ret.IsFatal():
			f.log.Warn("streaming stopped", "reason", ret)
			in.SinkEvent(demux.NewEOSEvent())
		}

		// Paused until a seek repositions the loop.
		for !f.moved(gen) {
			select {
			case <-ctx.Done():
				return
			case <-f.wake:
			}
		}
	}
}

func (f *File) moved(gen uint64) bool {
	f.streamMu.Lock()
	defer f.streamMu.Unlock()
	return f.gen != gen
}

// step reads and delivers one chunk. It returns the flow result and the
// seek generation it ran under; a seek made while the chunk was in flight
// changes the generation.
func (f *File) step(ctx context.Context, in demux.Input) (demux.FlowReturn, uint64) {
	buf, ret, gen := f.read(ctx)
	if buf == nil {
		return ret, gen
	}
	return in.Chain(buf), gen
}

func (f *File) read(ctx context.Context) (*demux.Buffer, demux.FlowReturn, uint64) {
	f.streamMu.Lock()
	defer f.streamMu.Unlock()

	gen := f.gen
	if f.offset >= f.size {
		return nil, demux.FlowEOS, gen
	}
	data, err := f.Pull(ctx, f.offset, f.cfg.BlockSize)
	if err != nil && len(data) == 0 {
		if ctx.Err() != nil {
			return nil, demux.FlowFlushing, gen
		}
		f.log.Error("read failed", "offset", f.offset, "error", err)
		if f.cfg.OnError != nil {
			f.cfg.OnError(err)
		}
		return nil, demux.FlowError, gen
	}

	buf := demux.NewBuffer(data)
	buf.Offset = f.offset
	buf.Discont = f.discont
	f.discont = false
	f.offset += int64(len(data))
	return buf, demux.FlowOK, gen
}
