package demux

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeUpstream struct {
	mu sync.Mutex

	answer bool
	modes  []Mode
	flags  SchedulingFlags

	pullErr     error
	pushErr     error
	activations []string
	events      []*Event
	onEvent     func(ev *Event) bool

	data []byte
}

func pushOnlyUpstream() *fakeUpstream {
	return &fakeUpstream{answer: true, modes: []Mode{ModePush}}
}

func pullUpstream(data []byte) *fakeUpstream {
	return &fakeUpstream{
		answer: true,
		modes:  []Mode{ModePush, ModePull},
		flags:  SchedSeekable,
		data:   data,
	}
}

func (u *fakeUpstream) Query(q *Query) bool {
	switch q.Type {
	case QueryScheduling:
		if !u.answer {
			return false
		}
		q.Modes = u.modes
		q.Flags = u.flags
		return true
	case QueryDuration:
		if q.Format == FormatBytes && u.data != nil {
			q.SetDuration(FormatBytes, int64(len(u.data)))
			return true
		}
	}
	return false
}

func (u *fakeUpstream) ActivateMode(mode Mode, active bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	state := "off"
	if active {
		state = "on"
	}
	u.activations = append(u.activations, mode.String()+":"+state)
	if active && mode == ModePull {
		return u.pullErr
	}
	if active && mode == ModePush {
		return u.pushErr
	}
	return nil
}

func (u *fakeUpstream) SendEvent(ev *Event) bool {
	u.mu.Lock()
	u.events = append(u.events, ev)
	fn := u.onEvent
	u.mu.Unlock()
	if fn != nil {
		return fn(ev)
	}
	return false
}

func (u *fakeUpstream) Pull(ctx context.Context, offset int64, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset >= int64(len(u.data)) {
		return nil, io.EOF
	}
	end := min(offset+int64(size), int64(len(u.data)))
	return u.data[offset:end], nil
}

func (u *fakeUpstream) activationLog() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.activations...)
}

type fakeDownstream struct {
	mu      sync.Mutex
	ret     FlowReturn
	buffers []*Buffer
	events  []*Event
}

func (f *fakeDownstream) Push(buf *Buffer) FlowReturn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = append(f.buffers, buf)
	return f.ret
}

func (f *fakeDownstream) SendEvent(ev *Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeDownstream) Query(*Query) bool { return false }

func (f *fakeDownstream) eventTypes() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EventType
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

// recorder is a handler that keeps a copy of everything it is given.
type recorder struct {
	mu      sync.Mutex
	chunks  [][]byte
	offsets []int64
	disc    []bool

	ret    FlowReturn
	skip   int
	onData func(d *Demuxer[int], buf *Buffer)

	starts, stops atomic.Int32
	inHandler     atomic.Bool
	hold          time.Duration
	entered       chan struct{}
	stopSawData   atomic.Bool
}

func (r *recorder) HandleBuffer(d *Demuxer[int], buf *Buffer) (FlowReturn, int) {
	r.inHandler.Store(true)
	defer r.inHandler.Store(false)
	if r.entered != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
	}
	if r.hold > 0 {
		time.Sleep(r.hold)
	}

	r.mu.Lock()
	r.chunks = append(r.chunks, append([]byte(nil), buf.Data...))
	r.offsets = append(r.offsets, buf.Offset)
	r.disc = append(r.disc, buf.Discont)
	ret, skip, fn := r.ret, r.skip, r.onData
	r.mu.Unlock()

	if fn != nil {
		fn(d, buf)
	}
	return ret, skip
}

func (r *recorder) Start(*Demuxer[int]) error {
	r.starts.Add(1)
	return nil
}

func (r *recorder) Stop(*Demuxer[int]) error {
	if r.inHandler.Load() {
		r.stopSawData.Store(true)
	}
	r.stops.Add(1)
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.chunks {
		n += len(c)
	}
	return n
}

func (r *recorder) data() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out
}

func (r *recorder) seenOffsets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.offsets...)
}

func (r *recorder) seenDiscont() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.disc...)
}
