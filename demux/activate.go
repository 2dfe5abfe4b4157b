package demux

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// pullTask is the demuxer-owned streaming goroutine used in pull mode.
type pullTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	// running is false once the loop has paused on EOS or an error.
	// Guarded by Demuxer.mu.
	running bool
}

// Activate negotiates a scheduling mode with upstream and starts the
// demuxer. Pull mode is chosen when upstream offers pull access and is
// seekable; otherwise the demuxer waits for upstream to push data into Chain.
func (d *Demuxer[T]) Activate() error {
	return d.activate(ModeNone)
}

// ActivateMode starts the demuxer in the given mode without falling back.
// It returns an *ActivateError wrapping ErrPullUnsupported when pull mode is
// requested from an upstream that cannot serve it.
func (d *Demuxer[T]) ActivateMode(mode Mode) error {
	if mode == ModeNone {
		return d.Deactivate()
	}
	return d.activate(mode)
}

func (d *Demuxer[T]) activate(want Mode) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.mode != ModeNone {
		d.mu.Unlock()
		return ErrAlreadyActive
	}
	up := d.upstream
	d.mu.Unlock()
	if up == nil {
		return &ActivateError{Mode: want, Err: ErrNoUpstream}
	}

	d.reset(true)

	if want != ModePush {
		err := d.activatePull(up)
		if err == nil {
			return nil
		}
		var ae *ActivateError
		if errors.As(err, &ae) {
			return err
		}
		if want == ModePull {
			return &ActivateError{Mode: ModePull, Err: err}
		}
		d.log.Debug("pull scheduling unavailable, using push", "reason", err)
	}
	return d.activatePush(up)
}

// activatePull returns a plain error when pull mode is unavailable and an
// *ActivateError when pull mode was entered but the handler failed to start.
func (d *Demuxer[T]) activatePull(up Upstream) error {
	q := NewSchedulingQuery()
	switch {
	case !up.Query(q):
		return fmt.Errorf("scheduling query failed: %w", ErrPullUnsupported)
	case !q.HasMode(ModePull):
		return ErrPullUnsupported
	case q.Flags&SchedSeekable == 0:
		return fmt.Errorf("upstream not seekable: %w", ErrPullUnsupported)
	}
	if err := up.ActivateMode(ModePull, true); err != nil {
		return fmt.Errorf("upstream pull activation: %w", err)
	}
	if err := d.start(); err != nil {
		if derr := up.ActivateMode(ModePull, false); derr != nil {
			d.log.Warn("upstream pull deactivation failed", "error", derr)
		}
		return &ActivateError{Mode: ModePull, Err: fmt.Errorf("start: %w", err)}
	}

	d.mu.Lock()
	d.mode = ModePull
	d.upstreamFormat = FormatBytes
	d.flushing = false
	d.startTaskLocked()
	d.mu.Unlock()

	d.log.Info("activated", "mode", ModePull)
	return nil
}

func (d *Demuxer[T]) activatePush(up Upstream) error {
	if err := d.start(); err != nil {
		return &ActivateError{Mode: ModePush, Err: fmt.Errorf("start: %w", err)}
	}

	d.mu.Lock()
	d.mode = ModePush
	d.flushing = false
	d.mu.Unlock()

	if err := up.ActivateMode(ModePush, true); err != nil {
		d.mu.Lock()
		d.flushing = true
		d.mu.Unlock()
		if serr := d.stop(); serr != nil {
			d.log.Warn("stop after failed activation", "error", serr)
		}
		d.mu.Lock()
		d.mode = ModeNone
		d.mu.Unlock()
		return &ActivateError{Mode: ModePush, Err: fmt.Errorf("upstream push activation: %w", err)}
	}

	d.log.Info("activated", "mode", ModePush)
	return nil
}

// Deactivate stops data flow and returns the demuxer to ModeNone. It does
// not return while a Chain call or pull iteration is still running.
func (d *Demuxer[T]) Deactivate() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	mode := d.mode
	if mode == ModeNone {
		d.mu.Unlock()
		return ErrNotActive
	}
	d.flushing = true
	task := d.task
	d.task = nil
	up := d.upstream
	d.mu.Unlock()

	var errs []error
	if task != nil {
		task.cancel()
	}
	if mode == ModePush {
		if err := up.ActivateMode(ModePush, false); err != nil {
			errs = append(errs, fmt.Errorf("upstream push deactivation: %w", err))
		}
	}

	// Wait for any delivery in progress.
	d.streamMu.Lock()
	d.streamMu.Unlock()
	if task != nil {
		if err := task.g.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if mode == ModePull {
		if err := up.ActivateMode(ModePull, false); err != nil {
			errs = append(errs, fmt.Errorf("upstream pull deactivation: %w", err))
		}
	}

	d.mu.Lock()
	d.mode = ModeNone
	d.upstreamFormat = FormatUndefined
	d.mu.Unlock()
	d.reset(true)

	d.log.Info("deactivated", "mode", mode)
	return errors.Join(errs...)
}

func (d *Demuxer[T]) start() error {
	if s, ok := d.handler.(Starter[T]); ok {
		return s.Start(d)
	}
	return nil
}

func (d *Demuxer[T]) stop() error {
	if s, ok := d.handler.(Stopper[T]); ok {
		return s.Stop(d)
	}
	return nil
}

// startTaskLocked must be called with d.mu held.
func (d *Demuxer[T]) startTaskLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	t := &pullTask{ctx: ctx, cancel: cancel, g: g, running: true}
	d.task = t
	g.Go(func() error { return d.loop(t) })
}

// restartTaskLocked resumes a paused pull task. It must be called with d.mu
// held.
func (d *Demuxer[T]) restartTaskLocked() {
	t := d.task
	if t == nil || t.running || d.flushing || t.ctx.Err() != nil {
		return
	}
	t.running = true
	t.g.Go(func() error { return d.loop(t) })
}

func (d *Demuxer[T]) loop(t *pullTask) error {
	d.log.Debug("pull task started")
	for {
		ret, offset := d.pullOnce(t.ctx)
		if ret == FlowOK {
			continue
		}
		d.pause(ret, offset)

		d.mu.Lock()
		if d.pullSeek >= 0 && !d.flushing && t.ctx.Err() == nil {
			d.mu.Unlock()
			continue
		}
		t.running = false
		d.mu.Unlock()
		d.log.Debug("pull task paused", "reason", ret)
		return nil
	}
}

// pullOnce runs a single pull iteration under the stream lock and returns
// the flow result with the offset it read from.
func (d *Demuxer[T]) pullOnce(ctx context.Context) (FlowReturn, int64) {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()

	if ctx.Err() != nil {
		return FlowFlushing, -1
	}

	d.mu.Lock()
	if d.flushing {
		d.mu.Unlock()
		return FlowFlushing, -1
	}
	seeked := d.pullSeek >= 0
	if seeked {
		off := d.pullSeek
		d.pullSeek = -1
		d.pullOffset = off
		d.byteOffset = off
		d.syncOffset = off
		d.discont = true
		d.adapter.Clear()
		d.flow.Reset()
		for _, s := range d.streams {
			s.markFlushed()
		}
	}
	offset := d.pullOffset
	size := d.cfg.BlockSize
	up := d.upstream
	d.mu.Unlock()

	if seeked {
		d.log.Debug("pull seek applied", "offset", offset)
		if r, ok := d.handler.(Resetter[T]); ok {
			r.Reset(d, false)
		}
	}

	data, err := up.Pull(ctx, offset, size)
	switch {
	case ctx.Err() != nil:
		return FlowFlushing, offset
	case err != nil && !errors.Is(err, io.EOF):
		d.log.Error("pull failed", "offset", offset, "error", err)
		return FlowError, offset
	case len(data) == 0:
		return FlowEOS, offset
	}

	buf := NewBuffer(data)
	buf.Offset = offset
	d.mu.Lock()
	buf.Discont = d.discont
	d.discont = false
	d.pullOffset = offset + int64(len(data))
	d.byteOffset = d.pullOffset
	d.mu.Unlock()

	ret, skip := d.handler.HandleBuffer(d, buf)
	if skip > 0 {
		d.mu.Lock()
		d.pullOffset += int64(skip)
		d.byteOffset = d.pullOffset
		d.syncOffset = d.pullOffset
		d.mu.Unlock()
	}
	return ret, offset
}

// pause reports why the pull loop stopped.
func (d *Demuxer[T]) pause(ret FlowReturn, offset int64) {
	switch {
	case ret == FlowEOS:
		d.log.Info("end of stream", "offset", offset)
		d.sendEOS()
	case ret.IsFatal():
		err := &StreamError{Flow: ret, Offset: offset}
		d.log.Error("streaming stopped", "offset", offset, "reason", ret)
		if d.cfg.OnError != nil {
			d.cfg.OnError(err)
		}
		d.sendEOS()
	}
}

// sendEOS routes end-of-stream through the input-side event handling so
// handlers see it the same way in both modes.
func (d *Demuxer[T]) sendEOS() {
	d.SinkEvent(NewEOSEvent())
}
