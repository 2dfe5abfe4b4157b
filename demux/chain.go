package demux

// Chain is the push-mode entry point. Upstream calls it with consecutive
// chunks of input. Leading bytes configured with SetSkip (or requested by
// the handler) are discarded before the remainder reaches HandleBuffer.
// Data pushed while the demuxer pulls is refused with FlowNotSupported.
func (d *Demuxer[T]) Chain(buf *Buffer) FlowReturn {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	d.mu.Lock()
	if d.flushing || d.mode == ModeNone {
		d.mu.Unlock()
		return FlowFlushing
	}
	if d.mode != ModePush {
		d.mu.Unlock()
		return FlowNotSupported
	}

	if buf.Discont {
		d.skip = 0
	}

	data := buf.Data
	if d.skip > 0 {
		n := len(data)
		if n <= d.skip {
			d.skip -= n
			d.byteOffset += int64(n)
			d.syncOffset = d.byteOffset
			d.mu.Unlock()
			return FlowOK
		}
		d.byteOffset += int64(d.skip)
		data = data[d.skip:]
		d.skip = 0
		d.discont = true
	}

	out := *buf
	out.Data = data
	out.Offset = d.byteOffset
	out.Discont = buf.Discont || d.discont
	d.discont = false
	d.byteOffset += int64(len(data))
	d.mu.Unlock()

	ret, skip := d.handler.HandleBuffer(d, &out)
	if skip > 0 {
		d.mu.Lock()
		d.skip += skip
		d.mu.Unlock()
	}
	return ret
}
