// Package sink provides demux.Downstream implementations: an in-memory
// Collector and a varint-framed Writer.
package sink

import (
	"sync"

	"github.com/zsiec/basedemux/demux"
)

// Collector is a demux.Downstream that keeps every buffer and event it
// receives. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	ret     demux.FlowReturn
	buffers []*demux.Buffer
	events  []*demux.Event

	eosOnce sync.Once
	eos     chan struct{}
}

// NewCollector returns a Collector that accepts everything with FlowOK.
func NewCollector() *Collector {
	return &Collector{ret: demux.FlowOK, eos: make(chan struct{})}
}

// SetReturn changes the flow result returned from Push.
func (c *Collector) SetReturn(ret demux.FlowReturn) {
	c.mu.Lock()
	c.ret = ret
	c.mu.Unlock()
}

// Push implements demux.Downstream.
func (c *Collector) Push(buf *demux.Buffer) demux.FlowReturn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers = append(c.buffers, buf)
	return c.ret
}

// SendEvent implements demux.Downstream.
func (c *Collector) SendEvent(ev *demux.Event) bool {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	if ev.Type == demux.EventEOS {
		c.eosOnce.Do(func() { close(c.eos) })
	}
	return true
}

// Query implements demux.Downstream. A Collector answers nothing.
func (c *Collector) Query(*demux.Query) bool { return false }

// Done is closed when end-of-stream has been received.
func (c *Collector) Done() <-chan struct{} {
	return c.eos
}

// Buffers returns the buffers received so far.
func (c *Collector) Buffers() []*demux.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*demux.Buffer, len(c.buffers))
	copy(out, c.buffers)
	return out
}

// Events returns the events received so far.
func (c *Collector) Events() []*demux.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*demux.Event, len(c.events))
	copy(out, c.events)
	return out
}

// EventTypes returns the types of the events received so far.
func (c *Collector) EventTypes() []demux.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]demux.EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

// Bytes returns the payload size of all buffers received.
func (c *Collector) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.buffers {
		n += len(b.Data)
	}
	return n
}
