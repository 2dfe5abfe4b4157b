package demux

import (
	"log/slog"
	"sync"

	"github.com/zsiec/basedemux/adapter"
)

// DefaultBlockSize is the number of bytes requested per pull in pull mode.
const DefaultBlockSize = 64 * 1024

// Config configures a Demuxer.
type Config struct {
	// Name identifies the demuxer in logs.
	Name string
	// Log is the base logger. If nil, slog.Default() is used.
	Log *slog.Logger
	// BlockSize is the pull-mode read size. Defaults to DefaultBlockSize.
	BlockSize int
	// OnError receives fatal streaming errors from the pull task.
	OnError func(error)
	// OnEOS is called whenever end-of-stream is sent to the outputs.
	OnEOS func()
}

// Demuxer is the generic engine. T is the per-stream payload type the
// handler attaches to every output Stream.
type Demuxer[T any] struct {
	log      *slog.Logger
	cfg      Config
	handler  Handler[T]
	upstream Upstream

	// streamMu serializes payload delivery: one Chain call or one pull
	// iteration at a time. Deactivation acquires it to wait for in-flight
	// delivery.
	streamMu sync.Mutex
	// seekMu keeps at most one internally issued seek outstanding.
	seekMu sync.Mutex
	// lifeMu serializes Activate, Deactivate and Close.
	lifeMu sync.Mutex

	// mu guards everything below.
	mu                sync.Mutex
	mode              Mode
	upstreamFormat    Format
	segment           Segment
	duration          int64
	durationFormat    Format
	adapter           *adapter.Adapter
	byteOffset        int64
	syncOffset        int64
	pendingSeekSeqnum uint32
	skip              int
	discont           bool
	flushing          bool
	// seekFlushing is set while a flush started by an internal seek has
	// not been stopped.
	seekFlushing      bool
	streams           []*Stream[T]
	pending           []*Stream[T]
	flow              *FlowCombiner[*Stream[T]]
	task              *pullTask
	pullOffset        int64
	pullSeek          int64
}

// New creates an inactive Demuxer driven by h.
func New[T any](h Handler[T], cfg Config) *Demuxer[T] {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	log := cfg.Log.With("component", "demux")
	if cfg.Name != "" {
		log = log.With("demuxer", cfg.Name)
	}
	d := &Demuxer[T]{
		log:      log,
		cfg:      cfg,
		handler:  h,
		adapter:  adapter.New(),
		flow:     NewFlowCombiner[*Stream[T]](),
		flushing: true,
		pullSeek: -1,
	}
	d.reset(true)
	return d
}

// Link sets the upstream source. It must be called before Activate.
func (d *Demuxer[T]) Link(u Upstream) {
	d.mu.Lock()
	d.upstream = u
	d.mu.Unlock()
}

// Log returns the demuxer's scoped logger for use by handlers.
func (d *Demuxer[T]) Log() *slog.Logger {
	return d.log
}

// Mode returns the current scheduling mode.
func (d *Demuxer[T]) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// UpstreamFormat returns the unit in which upstream addresses data.
func (d *Demuxer[T]) UpstreamFormat() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upstreamFormat
}

// SetUpstreamFormat records the negotiated upstream format.
func (d *Demuxer[T]) SetUpstreamFormat(f Format) {
	d.mu.Lock()
	d.upstreamFormat = f
	d.mu.Unlock()
}

// Segment returns a copy of the demuxer-level segment.
func (d *Demuxer[T]) Segment() Segment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.segment
}

// UpdateSegment runs fn on the demuxer-level segment under the object lock.
func (d *Demuxer[T]) UpdateSegment(fn func(seg *Segment)) {
	d.mu.Lock()
	fn(&d.segment)
	d.mu.Unlock()
}

// Duration returns the best known stream length and its format. The value
// is -1 when unknown.
func (d *Demuxer[T]) Duration() (int64, Format) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration, d.durationFormat
}

// SetDuration publishes the stream length.
func (d *Demuxer[T]) SetDuration(format Format, duration int64) {
	d.mu.Lock()
	d.duration = duration
	d.durationFormat = format
	d.segment.Duration = duration
	d.mu.Unlock()
}

// ByteOffset returns the number of input bytes consumed so far.
func (d *Demuxer[T]) ByteOffset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byteOffset
}

// SyncOffset returns the last input position known to be aligned to a sync
// point.
func (d *Demuxer[T]) SyncOffset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncOffset
}

// SetSyncOffset marks offset as aligned to a sync point.
func (d *Demuxer[T]) SetSyncOffset(offset int64) {
	d.mu.Lock()
	d.syncOffset = offset
	d.mu.Unlock()
}

// Skip returns the number of leading push-mode bytes still to be discarded.
func (d *Demuxer[T]) Skip() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.skip
}

// SetSkip sets the number of upcoming push-mode bytes to discard.
func (d *Demuxer[T]) SetSkip(n int) {
	if n < 0 {
		n = 0
	}
	d.mu.Lock()
	d.skip = n
	d.mu.Unlock()
}

// PendingSeekSeqnum returns the sequence number of the internal seek in
// flight, or SeqnumInvalid.
func (d *Demuxer[T]) PendingSeekSeqnum() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingSeekSeqnum
}

// WithAdapter runs fn with exclusive access to the input adapter.
func (d *Demuxer[T]) WithAdapter(fn func(a *adapter.Adapter)) {
	d.mu.Lock()
	fn(d.adapter)
	d.mu.Unlock()
}

// reset re-initializes the tracked state. Hard resets also clear the byte
// accounting and skip configuration.
func (d *Demuxer[T]) reset(hard bool) {
	d.mu.Lock()
	d.segment.Init(FormatTime)
	d.duration = -1
	d.durationFormat = FormatUndefined
	d.adapter.Clear()
	if d.mode != ModePull {
		d.upstreamFormat = FormatUndefined
	}
	d.flow.Reset()
	for _, s := range d.streams {
		s.markFlushed()
	}
	for _, s := range d.pending {
		s.markFlushed()
	}
	d.discont = true
	if hard {
		d.skip = 0
		d.byteOffset = 0
		d.syncOffset = 0
		d.pullOffset = 0
		d.pullSeek = -1
	}
	d.mu.Unlock()

	if r, ok := d.handler.(Resetter[T]); ok {
		r.Reset(d, hard)
	}
}

// Close deactivates the demuxer if needed and releases every stream.
func (d *Demuxer[T]) Close() error {
	err := d.Deactivate()
	if err == ErrNotActive {
		err = nil
	}

	d.mu.Lock()
	for _, s := range d.streams {
		d.releaseLocked(s)
	}
	for _, s := range d.pending {
		d.releaseLocked(s)
	}
	d.streams = nil
	d.pending = nil
	d.mu.Unlock()
	return err
}
