package demux

// SeekToByteOffset asks upstream to continue delivering data from offset.
//
// In push mode a flushing, accurate BYTES seek is sent upstream. The flush
// events upstream produces in response carry the seek's sequence number and
// are absorbed by SinkEventDefault instead of reaching the outputs; a
// FLUSH_START without its FLUSH_STOP is ended when the seek returns. In pull
// mode the seek is applied by the pull task before its next read, and a
// paused task is resumed.
func (d *Demuxer[T]) SeekToByteOffset(offset uint64) bool {
	d.mu.Lock()
	mode := d.mode
	up := d.upstream
	if mode == ModePull {
		d.pullSeek = int64(offset)
		d.restartTaskLocked()
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	if mode == ModeNone || up == nil {
		return false
	}

	d.seekMu.Lock()
	defer d.seekMu.Unlock()

	ev := NewSeekEvent(1.0, FormatBytes, SeekFlagFlush|SeekFlagAccurate,
		SeekTypeSet, int64(offset), SeekTypeNone, -1)

	d.mu.Lock()
	d.pendingSeekSeqnum = ev.Seqnum
	d.mu.Unlock()

	ok := up.SendEvent(ev)

	d.mu.Lock()
	d.pendingSeekSeqnum = SeqnumInvalid
	unterminated := d.seekFlushing
	if unterminated {
		d.seekFlushing = false
		if d.mode != ModeNone {
			d.flushing = false
		}
	}
	d.mu.Unlock()
	if unterminated {
		d.log.Warn("upstream left internal seek flushing", "seqnum", ev.Seqnum, "accepted", ok)
	}

	d.log.Debug("byte seek", "offset", offset, "seqnum", ev.Seqnum, "accepted", ok)
	return ok
}
