package tsdemux

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zsiec/basedemux/demux"
	"github.com/zsiec/basedemux/internal/mpegts"
	"github.com/zsiec/basedemux/internal/mpegts/mpegtstest"
	"github.com/zsiec/basedemux/internal/sink"
)

const (
	pidPMT   = 0x1000
	pidVideo = 0x100
	pidAudio = 0x101
	pidSCTE  = 0x1F4
)

var (
	idrAU   = mpegtstest.IDR
	sliceAU = mpegtstest.Slice
	packet  = mpegtstest.Packet
)

type es = mpegtstest.Stream

func patPacket() []byte {
	return mpegtstest.PAT(1, pidPMT)
}

func pmtPacket(version, cc uint8, streams ...es) []byte {
	return mpegtstest.PMT(pidPMT, 1, version, cc, streams...)
}

// program returns PAT, PMT, two video PES and one audio PES.
func program() [][]byte {
	return [][]byte{
		patPacket(),
		pmtPacket(0, 0, es{Type: mpegts.StreamTypeH264, PID: pidVideo}, es{Type: mpegts.StreamTypeAAC, PID: pidAudio}),
		packet(pidVideo, 0, true, mpegtstest.PES(0xE0, 90000, idrAU)),
		packet(pidAudio, 0, true, mpegtstest.PES(0xC0, 90000, mpegtstest.ADTS(16))),
		packet(pidVideo, 1, true, mpegtstest.PES(0xE0, 93003, sliceAU)),
	}
}

func concat(packets [][]byte) []byte {
	return mpegtstest.Concat(packets...)
}

// pushSource is a push-only upstream that records the events sent to it.
type pushSource struct {
	mu     sync.Mutex
	size   int64
	accept bool
	events []*demux.Event
}

func (p *pushSource) Query(q *demux.Query) bool {
	switch q.Type {
	case demux.QueryScheduling:
		q.Modes = []demux.Mode{demux.ModePush}
		return true
	case demux.QueryDuration:
		if q.Format == demux.FormatBytes && p.size > 0 {
			q.SetDuration(demux.FormatBytes, p.size)
			return true
		}
	}
	return false
}

func (p *pushSource) ActivateMode(demux.Mode, bool) error { return nil }

func (p *pushSource) SendEvent(ev *demux.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.accept
}

func (p *pushSource) Pull(context.Context, int64, int) ([]byte, error) {
	return nil, errors.New("push only")
}

func (p *pushSource) sent() []*demux.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*demux.Event(nil), p.events...)
}

type harness struct {
	ts  *Demuxer
	src *pushSource

	mu   sync.Mutex
	outs map[string]*sink.Collector
}

func newHarness(t *testing.T, captions bool) *harness {
	t.Helper()
	h := &harness{src: &pushSource{accept: true}, outs: make(map[string]*sink.Collector)}
	h.ts = New(Config{
		Captions: captions,
		Link: func(s *demux.Stream[Track]) demux.Downstream {
			c := sink.NewCollector()
			h.mu.Lock()
			h.outs[s.ID] = c
			h.mu.Unlock()
			return c
		},
	})
	h.ts.Engine().Link(h.src)
	if err := h.ts.Engine().Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	t.Cleanup(func() { h.ts.Engine().Close() })
	return h
}

func (h *harness) out(t *testing.T, id string) *sink.Collector {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.outs[id]
	if !ok {
		t.Fatalf("no output for stream %q", id)
	}
	return c
}

// chain feeds data in chunks of size n, with increasing offsets.
func (h *harness) chain(t *testing.T, data []byte, n int) {
	t.Helper()
	for off := 0; off < len(data); off += n {
		end := min(off+n, len(data))
		buf := demux.NewBuffer(data[off:end])
		buf.Offset = int64(off)
		if ret := h.ts.Engine().Chain(buf); ret != demux.FlowOK {
			t.Fatalf("chain at %d: %v", off, ret)
		}
	}
}

func (h *harness) eos() {
	h.ts.Engine().SinkEvent(demux.NewEOSEvent())
}
