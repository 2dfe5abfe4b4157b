package demux

import "context"

// Upstream is the source the demuxer reads from. In pull mode the demuxer
// calls Pull on its own goroutine; in push mode the source delivers data by
// calling the demuxer's Chain from a goroutine it owns.
type Upstream interface {
	// Query answers scheduling, duration and seeking queries. It returns
	// false when the query is not handled.
	Query(q *Query) bool
	// ActivateMode starts or stops the source in mode.
	ActivateMode(mode Mode, active bool) error
	// SendEvent delivers an event travelling upstream, typically a seek.
	SendEvent(ev *Event) bool
	// Pull reads up to size bytes at offset. It returns io.EOF at the end
	// of the data.
	Pull(ctx context.Context, offset int64, size int) ([]byte, error)
}

// Downstream consumes the data and events of one output stream.
type Downstream interface {
	Push(buf *Buffer) FlowReturn
	SendEvent(ev *Event) bool
	Query(q *Query) bool
}

// Input is the entry point a push-mode upstream delivers into. Demuxer
// implements it.
type Input interface {
	Chain(buf *Buffer) FlowReturn
	SinkEvent(ev *Event) bool
	SinkQuery(q *Query) bool
}

// Handler is the format-specific part of a demuxer. HandleBuffer receives
// every chunk of input after skip processing and returns the flow result
// together with a number of upcoming input bytes to skip (0 for none).
type Handler[T any] interface {
	HandleBuffer(d *Demuxer[T], buf *Buffer) (FlowReturn, int)
}

// Starter is implemented by handlers that acquire resources when the
// demuxer is activated.
type Starter[T any] interface {
	Start(d *Demuxer[T]) error
}

// Stopper is implemented by handlers that release resources when the
// demuxer is deactivated. Stop never runs concurrently with HandleBuffer.
type Stopper[T any] interface {
	Stop(d *Demuxer[T]) error
}

// SinkEventHandler overrides input-side event handling. Implementations
// chain up to Demuxer.SinkEventDefault for events they do not consume.
type SinkEventHandler[T any] interface {
	SinkEvent(d *Demuxer[T], ev *Event) bool
}

// SrcEventHandler overrides output-side event handling, typically to turn
// seeks into byte requests. Chain up to Demuxer.SrcEventDefault.
type SrcEventHandler[T any] interface {
	SrcEvent(d *Demuxer[T], s *Stream[T], ev *Event) bool
}

// SinkQueryHandler overrides input-side query handling.
type SinkQueryHandler[T any] interface {
	SinkQuery(d *Demuxer[T], q *Query) bool
}

// SrcQueryHandler overrides output-side query handling.
type SrcQueryHandler[T any] interface {
	SrcQuery(d *Demuxer[T], s *Stream[T], q *Query) bool
}

// DurationGetter supplies the stream duration in time format.
type DurationGetter[T any] interface {
	Duration(d *Demuxer[T]) (int64, bool)
}

// Resetter is called after every engine reset. hard is true on activation
// and deactivation, false on flush.
type Resetter[T any] interface {
	Reset(d *Demuxer[T], hard bool)
}
