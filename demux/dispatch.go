package demux

import "slices"

// SinkEvent handles an event arriving from upstream.
func (d *Demuxer[T]) SinkEvent(ev *Event) bool {
	if h, ok := d.handler.(SinkEventHandler[T]); ok {
		return h.SinkEvent(d, ev)
	}
	return d.SinkEventDefault(ev)
}

// SinkEventDefault is the engine's input-side event handling. Flush events
// belonging to a seek issued by SeekToByteOffset are absorbed; FLUSH_STOP
// always resets the tracked state first.
func (d *Demuxer[T]) SinkEventDefault(ev *Event) bool {
	switch ev.Type {
	case EventFlushStart:
		d.mu.Lock()
		d.flushing = true
		own := d.ownSeqnumLocked(ev.Seqnum)
		if own {
			d.seekFlushing = true
		}
		d.mu.Unlock()
		if own {
			d.log.Debug("absorbed flush-start of internal seek", "seqnum", ev.Seqnum)
			return true
		}
		return d.PushEventAll(ev)

	case EventFlushStop:
		d.reset(false)
		d.mu.Lock()
		if d.mode != ModeNone {
			d.flushing = false
		}
		d.seekFlushing = false
		own := d.ownSeqnumLocked(ev.Seqnum)
		d.mu.Unlock()
		if own {
			d.log.Debug("absorbed flush-stop of internal seek", "seqnum", ev.Seqnum)
			return true
		}
		return d.PushEventAll(ev)

	case EventSegment:
		if ev.Segment == nil {
			return false
		}
		seg := *ev.Segment
		if seg.Format == FormatBytes {
			d.mu.Lock()
			d.upstreamFormat = FormatBytes
			if seg.Start >= 0 {
				d.byteOffset = seg.Start
				d.syncOffset = seg.Start
			}
			d.mu.Unlock()
			return true
		}
		d.mu.Lock()
		d.upstreamFormat = seg.Format
		d.segment = seg
		d.mu.Unlock()
		return d.PushEventAll(ev)

	case EventEOS:
		ok := d.PushEventAll(ev)
		if d.cfg.OnEOS != nil {
			d.cfg.OnEOS()
		}
		return ok

	default:
		return d.PushEventAll(ev)
	}
}

func (d *Demuxer[T]) ownSeqnumLocked(seqnum uint32) bool {
	return seqnum != SeqnumInvalid && seqnum == d.pendingSeekSeqnum
}

// SrcEvent handles an event arriving from the downstream of s.
func (d *Demuxer[T]) SrcEvent(s *Stream[T], ev *Event) bool {
	if h, ok := d.handler.(SrcEventHandler[T]); ok {
		return h.SrcEvent(d, s, ev)
	}
	return d.SrcEventDefault(s, ev)
}

// SrcEventDefault forwards ev upstream.
func (d *Demuxer[T]) SrcEventDefault(_ *Stream[T], ev *Event) bool {
	d.mu.Lock()
	up := d.upstream
	d.mu.Unlock()
	if up == nil {
		return false
	}
	return up.SendEvent(ev)
}

// SinkQuery answers a query arriving from upstream.
func (d *Demuxer[T]) SinkQuery(q *Query) bool {
	if h, ok := d.handler.(SinkQueryHandler[T]); ok {
		return h.SinkQuery(d, q)
	}
	return d.SinkQueryDefault(q)
}

// SinkQueryDefault forwards q to the outputs and reports whether any of them
// answered.
func (d *Demuxer[T]) SinkQueryDefault(q *Query) bool {
	if q.Type == QueryFormats {
		q.Formats = slices.Clone(supportedFormats)
		return true
	}
	for _, ds := range d.linkedOutputs() {
		if ds.Query(q) {
			return true
		}
	}
	return false
}

// SrcQuery answers a query arriving from the downstream of s. s may be nil
// for queries addressed to the demuxer as a whole.
func (d *Demuxer[T]) SrcQuery(s *Stream[T], q *Query) bool {
	if h, ok := d.handler.(SrcQueryHandler[T]); ok {
		return h.SrcQuery(d, s, q)
	}
	return d.SrcQueryDefault(s, q)
}

// Query is SrcQuery without a specific output.
func (d *Demuxer[T]) Query(q *Query) bool {
	return d.SrcQuery(nil, q)
}

// SrcQueryDefault answers formats, duration, position and seeking queries
// from the tracked state where upstream cannot, and forwards everything else
// upstream.
func (d *Demuxer[T]) SrcQueryDefault(s *Stream[T], q *Query) bool {
	d.mu.Lock()
	up := d.upstream
	d.mu.Unlock()

	switch q.Type {
	case QueryFormats:
		q.Formats = slices.Clone(supportedFormats)
		return true

	case QueryDuration:
		if q.Format == FormatTime {
			if g, ok := d.handler.(DurationGetter[T]); ok {
				if dur, ok := g.Duration(d); ok && dur >= 0 {
					q.SetDuration(FormatTime, dur)
					return true
				}
			}
		}
		if up != nil && up.Query(q) {
			return true
		}
		dur, format := d.Duration()
		if dur >= 0 && format == q.Format {
			q.SetDuration(format, dur)
			return true
		}
		return false

	case QueryPosition:
		switch q.Format {
		case FormatTime:
			d.mu.Lock()
			pos := d.segment.Position
			if s != nil && s.segment.Position >= 0 {
				pos = s.segment.Position
			}
			d.mu.Unlock()
			if pos >= 0 {
				q.SetPosition(FormatTime, pos)
				return true
			}
		case FormatBytes:
			q.SetPosition(FormatBytes, d.ByteOffset())
			return true
		}
		return up != nil && up.Query(q)

	case QuerySeeking:
		if up != nil && up.Query(q) {
			return true
		}
		d.mu.Lock()
		seekable := d.mode == ModePull && q.Format == FormatBytes
		d.mu.Unlock()
		q.SetSeeking(q.Format, seekable, 0, -1)
		return true

	default:
		return up != nil && up.Query(q)
	}
}
