package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/basedemux/demux"
)

// FrameType identifies what a frame carries.
type FrameType uint64

// Frame types.
const (
	FrameData  FrameType = 0
	FrameStart FrameType = 1 // payload is the stream id
	FrameEOS   FrameType = 2
)

// Frame flags.
const (
	FlagDiscont uint64 = 1 << iota
	FlagDelta
)

// MaxFrameSize bounds the payload accepted by ReadFrame.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned by ReadFrame for an oversized payload.
var ErrFrameTooLarge = errors.New("sink: frame too large")

// Frame is one record of the framed output.
// Wire format: [track (varint)] [type (varint)] [flags (varint)]
// [pts+1 (varint), 0 if unknown] [length (varint)] [payload].
type Frame struct {
	Track   uint64
	Type    FrameType
	Flags   uint64
	PTS     time.Duration
	Payload []byte
}

// Writer multiplexes several outputs into one io.Writer. Each output gets a
// track number; every record is written with a single Write call.
type Writer struct {
	log *slog.Logger

	mu   sync.Mutex
	w    io.Writer
	next uint64
	err  error

	frames atomic.Int64
	bytes  atomic.Int64
}

// NewWriter returns a Writer on w. A nil logger uses slog.Default().
func NewWriter(w io.Writer, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{w: w, log: log.With("component", "sink")}
}

// Output returns a new downstream writing on the next track number.
func (fw *Writer) Output() demux.Downstream {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	o := &output{w: fw, track: fw.next}
	fw.next++
	return o
}

// Frames returns the number of frames written.
func (fw *Writer) Frames() int64 { return fw.frames.Load() }

// Bytes returns the number of bytes written.
func (fw *Writer) Bytes() int64 { return fw.bytes.Load() }

// Err returns the first write error, after which every push fails.
func (fw *Writer) Err() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.err
}

func (fw *Writer) write(f *Frame) error {
	buf := AppendFrame(nil, f)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.err != nil {
		return fw.err
	}
	if _, err := fw.w.Write(buf); err != nil {
		fw.err = fmt.Errorf("write frame: %w", err)
		fw.log.Error("framed output failed", "track", f.Track, "error", err)
		return fw.err
	}
	fw.frames.Add(1)
	fw.bytes.Add(int64(len(buf)))
	return nil
}

type output struct {
	w     *Writer
	track uint64
}

func (o *output) Push(buf *demux.Buffer) demux.FlowReturn {
	var flags uint64
	if buf.Discont {
		flags |= FlagDiscont
	}
	if buf.Delta {
		flags |= FlagDelta
	}
	err := o.w.write(&Frame{Track: o.track, Type: FrameData, Flags: flags, PTS: buf.PTS, Payload: buf.Data})
	if err != nil {
		return demux.FlowError
	}
	return demux.FlowOK
}

func (o *output) SendEvent(ev *demux.Event) bool {
	switch ev.Type {
	case demux.EventStreamStart:
		return o.w.write(&Frame{Track: o.track, Type: FrameStart, PTS: demux.ClockTimeNone, Payload: []byte(ev.StreamID)}) == nil
	case demux.EventEOS:
		return o.w.write(&Frame{Track: o.track, Type: FrameEOS, PTS: demux.ClockTimeNone}) == nil
	}
	return true
}

func (o *output) Query(*demux.Query) bool { return false }

// AppendFrame appends the wire encoding of f to b.
func AppendFrame(b []byte, f *Frame) []byte {
	var pts uint64
	if f.PTS >= 0 {
		pts = uint64(f.PTS) + 1
	}
	b = quicvarint.Append(b, f.Track)
	b = quicvarint.Append(b, uint64(f.Type))
	b = quicvarint.Append(b, f.Flags)
	b = quicvarint.Append(b, pts)
	b = quicvarint.Append(b, uint64(len(f.Payload)))
	return append(b, f.Payload...)
}

// ReadFrame reads one frame from r. It returns io.EOF only when r is
// exhausted at a frame boundary.
func ReadFrame(r quicvarint.Reader) (*Frame, error) {
	track, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	var fields [4]uint64
	for i := range fields {
		if fields[i], err = quicvarint.Read(r); err != nil {
			return nil, fmt.Errorf("read frame header: %w", noEOF(err))
		}
	}
	typ, flags, pts, length := fields[0], fields[1], fields[2], fields[3]
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	f := &Frame{Track: track, Type: FrameType(typ), Flags: flags, PTS: demux.ClockTimeNone}
	if pts > 0 {
		f.PTS = time.Duration(pts - 1)
	}
	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", noEOF(err))
	}
	return f, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
