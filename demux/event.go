package demux

import (
	"fmt"
	"sync/atomic"
)

// SeqnumInvalid is never handed out by NextSeqnum.
const SeqnumInvalid uint32 = 0

var seqnumCounter atomic.Uint32

// NextSeqnum returns a process-wide unique, non-zero sequence number.
func NextSeqnum() uint32 {
	for {
		if n := seqnumCounter.Add(1); n != SeqnumInvalid {
			return n
		}
	}
}

// EventType identifies a control event.
type EventType int

// Event types.
const (
	EventFlushStart EventType = iota + 1
	EventFlushStop
	EventStreamStart
	EventSegment
	EventEOS
	EventSeek
	EventCustom
)

func (t EventType) String() string {
	switch t {
	case EventFlushStart:
		return "flush-start"
	case EventFlushStop:
		return "flush-stop"
	case EventStreamStart:
		return "stream-start"
	case EventSegment:
		return "segment"
	case EventEOS:
		return "eos"
	case EventSeek:
		return "seek"
	case EventCustom:
		return "custom"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// SeekFlags modify how a seek is performed.
type SeekFlags uint

// Seek flags.
const (
	SeekFlagFlush SeekFlags = 1 << iota
	SeekFlagAccurate
	SeekFlagKeyUnit
)

// SeekType says how a seek boundary is interpreted.
type SeekType int

// Seek boundary types.
const (
	SeekTypeNone SeekType = iota
	SeekTypeSet
	SeekTypeEnd
)

// Seek carries the parameters of a seek event.
type Seek struct {
	Rate      float64
	Format    Format
	Flags     SeekFlags
	StartType SeekType
	Start     int64
	StopType  SeekType
	Stop      int64
}

// Event is a control-plane message travelling alongside data. Flush events
// produced in response to a seek carry the seek's Seqnum.
type Event struct {
	Type     EventType
	Seqnum   uint32
	StreamID string   // EventStreamStart
	Segment  *Segment // EventSegment
	Seek     *Seek    // EventSeek
	Name     string   // EventCustom
}

func newEvent(t EventType) *Event {
	return &Event{Type: t, Seqnum: NextSeqnum()}
}

// NewFlushStartEvent creates a FLUSH_START event.
func NewFlushStartEvent() *Event { return newEvent(EventFlushStart) }

// NewFlushStopEvent creates a FLUSH_STOP event.
func NewFlushStopEvent() *Event { return newEvent(EventFlushStop) }

// NewEOSEvent creates an end-of-stream event.
func NewEOSEvent() *Event { return newEvent(EventEOS) }

// NewStreamStartEvent announces the first data of stream id.
func NewStreamStartEvent(id string) *Event {
	ev := newEvent(EventStreamStart)
	ev.StreamID = id
	return ev
}

// NewSegmentEvent carries a copy of seg.
func NewSegmentEvent(seg Segment) *Event {
	ev := newEvent(EventSegment)
	ev.Segment = &seg
	return ev
}

// NewSeekEvent creates a seek request.
func NewSeekEvent(rate float64, format Format, flags SeekFlags, startType SeekType, start int64, stopType SeekType, stop int64) *Event {
	ev := newEvent(EventSeek)
	ev.Seek = &Seek{
		Rate:      rate,
		Format:    format,
		Flags:     flags,
		StartType: startType,
		Start:     start,
		StopType:  stopType,
		Stop:      stop,
	}
	return ev
}

// NewCustomEvent creates an application-defined event.
func NewCustomEvent(name string) *Event {
	ev := newEvent(EventCustom)
	ev.Name = name
	return ev
}

// WithSeqnum overrides the event sequence number and returns ev.
func (ev *Event) WithSeqnum(seqnum uint32) *Event {
	ev.Seqnum = seqnum
	return ev
}
