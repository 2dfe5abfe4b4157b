// Package adapter accumulates inbound byte chunks and serves them back as
// contiguous reads of a requested length, independent of how the input was
// split by the transport.
package adapter

// Adapter is a FIFO of byte chunks. It is not safe for concurrent use; the
// demuxer guards it with its object lock.
type Adapter struct {
	chunks [][]byte
	head   int // read offset into chunks[0]
	size   int
	taken  int64
}

// New creates an empty Adapter.
func New() *Adapter {
	return &Adapter{}
}

// Push appends a chunk. The adapter takes ownership of data; callers must not
// modify it afterwards.
func (a *Adapter) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	a.chunks = append(a.chunks, data)
	a.size += len(data)
}

// Available returns the number of buffered bytes.
func (a *Adapter) Available() int {
	return a.size
}

// Taken returns the total number of bytes consumed through Take or Flush
// since the last Clear.
func (a *Adapter) Taken() int64 {
	return a.taken
}

// Peek returns a copy of the first n bytes without consuming them. It
// returns nil if fewer than n bytes are buffered.
func (a *Adapter) Peek(n int) []byte {
	if n < 0 || n > a.size {
		return nil
	}
	out := make([]byte, 0, n)
	head := a.head
	for _, c := range a.chunks {
		if len(out) == n {
			break
		}
		c = c[head:]
		head = 0
		need := n - len(out)
		if len(c) > need {
			c = c[:need]
		}
		out = append(out, c...)
	}
	return out
}

// Take consumes and returns the first n bytes. It returns nil if fewer than
// n bytes are buffered.
func (a *Adapter) Take(n int) []byte {
	out := a.Peek(n)
	if out == nil {
		return nil
	}
	a.Flush(n)
	return out
}

// Flush discards the first n bytes. Flushing more than is available empties
// the adapter.
func (a *Adapter) Flush(n int) {
	if n <= 0 {
		return
	}
	if n > a.size {
		n = a.size
	}
	a.size -= n
	a.taken += int64(n)
	for n > 0 {
		rest := len(a.chunks[0]) - a.head
		if n < rest {
			a.head += n
			return
		}
		n -= rest
		a.chunks[0] = nil
		a.chunks = a.chunks[1:]
		a.head = 0
	}
	if len(a.chunks) == 0 {
		a.chunks = nil
	}
}

// IndexByte returns the offset of the first occurrence of b in the buffered
// data, or -1.
func (a *Adapter) IndexByte(b byte) int {
	pos := 0
	head := a.head
	for _, c := range a.chunks {
		for i := head; i < len(c); i++ {
			if c[i] == b {
				return pos + i - head
			}
		}
		pos += len(c) - head
		head = 0
	}
	return -1
}

// Clear drops all buffered data and resets the consumed counter.
func (a *Adapter) Clear() {
	a.chunks = nil
	a.head = 0
	a.size = 0
	a.taken = 0
}
