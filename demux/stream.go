package demux

import "slices"

// Stream is one output of a Demuxer. The handler creates streams with
// DeclareStream and publishes them with CommitPendingStreams. Payload holds
// the handler's per-stream state.
type Stream[T any] struct {
	ID      string
	Kind    StreamKind
	Flags   StreamFlags
	Caps    string
	Payload T

	demux *Demuxer[T]

	// guarded by demux.mu
	downstream  Downstream
	segment     Segment
	discont     bool
	needSegment bool
	started     bool
	released    bool
}

func newStream[T any](d *Demuxer[T], id string, kind StreamKind, flags StreamFlags) *Stream[T] {
	return &Stream[T]{
		ID:          id,
		Kind:        kind,
		Flags:       flags,
		demux:       d,
		segment:     NewSegment(FormatTime),
		discont:     true,
		needSegment: true,
	}
}

// Demuxer returns the owning demuxer.
func (s *Stream[T]) Demuxer() *Demuxer[T] {
	return s.demux
}

// Link connects the stream to ds. Data pushed while unlinked yields
// FlowNotLinked.
func (s *Stream[T]) Link(ds Downstream) {
	s.demux.mu.Lock()
	s.downstream = ds
	s.demux.mu.Unlock()
}

// Unlink disconnects the stream from its downstream.
func (s *Stream[T]) Unlink() {
	s.Link(nil)
}

// Linked reports whether the stream has a downstream.
func (s *Stream[T]) Linked() bool {
	s.demux.mu.Lock()
	defer s.demux.mu.Unlock()
	return s.downstream != nil
}

// Segment returns a copy of the stream's segment.
func (s *Stream[T]) Segment() Segment {
	s.demux.mu.Lock()
	defer s.demux.mu.Unlock()
	return s.segment
}

// UpdateSegment runs fn on the stream's segment. A new segment event is sent
// before the next buffer.
func (s *Stream[T]) UpdateSegment(fn func(seg *Segment)) {
	s.demux.mu.Lock()
	fn(&s.segment)
	s.needSegment = true
	s.demux.mu.Unlock()
}

// SendEvent delivers an event arriving from the stream's downstream, such
// as a seek.
func (s *Stream[T]) SendEvent(ev *Event) bool {
	return s.demux.SrcEvent(s, ev)
}

// Query answers a query arriving from the stream's downstream.
func (s *Stream[T]) Query(q *Query) bool {
	return s.demux.SrcQuery(s, q)
}

// markFlushed must be called with demux.mu held.
func (s *Stream[T]) markFlushed() {
	s.segment.Init(FormatTime)
	s.discont = true
	s.needSegment = true
}

// DeclareStream adds a stream to the pending set. Declaring the id of a
// committed stream carries that stream into the pending set unchanged apart
// from kind and flags. Declaring an id that is already pending returns
// ErrStreamExists.
func (d *Demuxer[T]) DeclareStream(id string, kind StreamKind, flags StreamFlags) (*Stream[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if findStream(d.pending, id) >= 0 {
		return nil, ErrStreamExists
	}
	if i := findStream(d.streams, id); i >= 0 {
		s := d.streams[i]
		s.Kind = kind
		s.Flags = flags
		d.pending = append(d.pending, s)
		return s, nil
	}

	s := newStream(d, id, kind, flags)
	d.pending = append(d.pending, s)
	d.log.Debug("stream declared", "stream", id, "kind", kind)
	return s, nil
}

// CommitPendingStreams makes the pending set the committed set in one step
// and empties the pending set. Committed streams that were not declared again
// are released.
func (d *Demuxer[T]) CommitPendingStreams() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.streams {
		if findStream(d.pending, s.ID) < 0 {
			d.releaseLocked(s)
		}
	}
	d.streams = d.pending
	d.pending = nil
	for _, s := range d.streams {
		d.flow.Add(s)
	}
	d.log.Debug("streams committed", "count", len(d.streams))
}

// RemoveStream releases the stream with the given id, looking in the pending
// set first. The caller must ensure no push is in flight for that stream.
func (d *Demuxer[T]) RemoveStream(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var s *Stream[T]
	if i := findStream(d.pending, id); i >= 0 {
		s = d.pending[i]
		d.pending = slices.Delete(d.pending, i, i+1)
		if j := slices.Index(d.streams, s); j >= 0 {
			d.streams = slices.Delete(d.streams, j, j+1)
		}
	} else if i := findStream(d.streams, id); i >= 0 {
		s = d.streams[i]
		d.streams = slices.Delete(d.streams, i, i+1)
	} else {
		return ErrStreamNotFound
	}

	d.releaseLocked(s)
	d.log.Debug("stream removed", "stream", id)
	return nil
}

// Streams returns the committed streams in declaration order.
func (d *Demuxer[T]) Streams() []*Stream[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.streams)
}

// PendingStreams returns the declared, uncommitted streams.
func (d *Demuxer[T]) PendingStreams() []*Stream[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.pending)
}

// Stream returns the committed or pending stream with the given id.
func (d *Demuxer[T]) Stream(id string) (*Stream[T], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := findStream(d.streams, id); i >= 0 {
		return d.streams[i], true
	}
	if i := findStream(d.pending, id); i >= 0 {
		return d.pending[i], true
	}
	return nil, false
}

// PushBuffer delivers buf on s and returns the combined flow result of all
// outputs. Stream-start and segment events are sent first when due, and the
// stream's pending discontinuity is applied to buf.
func (d *Demuxer[T]) PushBuffer(s *Stream[T], buf *Buffer) FlowReturn {
	d.mu.Lock()
	if s.released {
		d.mu.Unlock()
		return FlowNotLinked
	}
	ds := s.downstream
	sendStart := !s.started
	var segEvent *Event
	if s.needSegment {
		segEvent = NewSegmentEvent(s.segment)
	}
	if ds != nil {
		s.started = true
		s.needSegment = false
	}
	if s.discont {
		buf.Discont = true
		s.discont = false
	}
	if buf.PTS >= 0 {
		s.segment.Advance(int64(buf.PTS))
		d.segment.Advance(int64(buf.PTS))
	}
	d.mu.Unlock()

	ret := FlowNotLinked
	if ds != nil {
		if sendStart {
			ds.SendEvent(NewStreamStartEvent(s.ID))
		}
		if segEvent != nil {
			ds.SendEvent(segEvent)
		}
		ret = ds.Push(buf)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s.released {
		return d.flow.Aggregate()
	}
	return d.flow.Record(s, ret)
}

// PushEvent sends ev to the downstream of s.
func (d *Demuxer[T]) PushEvent(s *Stream[T], ev *Event) bool {
	d.mu.Lock()
	ds := s.downstream
	if ds != nil {
		switch ev.Type {
		case EventStreamStart:
			s.started = true
		case EventSegment:
			if ev.Segment != nil {
				s.segment = *ev.Segment
			}
			s.needSegment = false
		}
	}
	d.mu.Unlock()

	if ds == nil {
		return false
	}
	return ds.SendEvent(ev)
}

// PushEventAll sends ev to every linked committed output. It returns true
// when there are no linked outputs or at least one of them accepted ev.
func (d *Demuxer[T]) PushEventAll(ev *Event) bool {
	targets := d.linkedOutputs()
	if len(targets) == 0 {
		return true
	}
	handled := false
	for _, ds := range targets {
		if ds.SendEvent(ev) {
			handled = true
		}
	}
	return handled
}

func (d *Demuxer[T]) linkedOutputs() []Downstream {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Downstream, 0, len(d.streams))
	for _, s := range d.streams {
		if s.downstream != nil {
			out = append(out, s.downstream)
		}
	}
	return out
}

// releaseLocked must be called with d.mu held.
func (d *Demuxer[T]) releaseLocked(s *Stream[T]) {
	s.released = true
	s.downstream = nil
	d.flow.Remove(s)
}

func findStream[T any](list []*Stream[T], id string) int {
	return slices.IndexFunc(list, func(s *Stream[T]) bool { return s.ID == id })
}
