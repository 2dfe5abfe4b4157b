package demux

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers distinguish them with
// errors.Is.
var (
	ErrStreamExists    = errors.New("demux: stream already declared")
	ErrStreamNotFound  = errors.New("demux: stream not found")
	ErrNotActive       = errors.New("demux: not active")
	ErrAlreadyActive   = errors.New("demux: already active")
	ErrPullUnsupported = errors.New("demux: upstream does not support pull")
	ErrNoUpstream      = errors.New("demux: no upstream linked")
)

// ActivateError reports a failure to bring the demuxer into a scheduling
// mode. The demuxer stays inactive after it is returned.
type ActivateError struct {
	Mode Mode
	Err  error
}

func (e *ActivateError) Error() string {
	return fmt.Sprintf("demux: activate in %s mode: %v", e.Mode, e.Err)
}

func (e *ActivateError) Unwrap() error {
	return e.Err
}

// StreamError reports that the pull task stopped on a fatal flow result.
type StreamError struct {
	Flow   FlowReturn
	Offset int64
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("demux: streaming stopped at offset %d, reason %s", e.Offset, e.Flow)
}
