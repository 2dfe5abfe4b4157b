package demux

import (
	"fmt"
	"time"
)

// Mode is the scheduling mode of the demuxer input.
type Mode int

// Scheduling modes.
const (
	ModeNone Mode = iota
	ModePush
	ModePull
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Format is the unit in which positions, offsets and durations are expressed.
type Format int

// Supported formats.
const (
	FormatUndefined Format = iota
	FormatDefault
	FormatBytes
	FormatTime
)

func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "undefined"
	case FormatDefault:
		return "default"
	case FormatBytes:
		return "bytes"
	case FormatTime:
		return "time"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// supportedFormats is the answer to a formats query.
var supportedFormats = []Format{FormatDefault, FormatBytes, FormatTime}

// SchedulingFlags describe what an upstream source can do in addition to the
// modes it offers.
type SchedulingFlags uint

// Scheduling flags.
const (
	SchedSeekable SchedulingFlags = 1 << iota
	SchedSequential
	SchedBandwidthLimited
)

// StreamKind is the broad media type of an output stream. It is opaque to
// the engine.
type StreamKind int

// Stream kinds.
const (
	KindUnknown StreamKind = iota
	KindAudio
	KindVideo
	KindText
	KindData
)

func (k StreamKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindText:
		return "text"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// StreamFlags are capability flags declared with a stream.
type StreamFlags uint

// Stream flags.
const (
	StreamFlagSparse StreamFlags = 1 << iota
	StreamFlagSelect
	StreamFlagUnselect
)

// ClockTimeNone marks an unknown timestamp or duration.
const ClockTimeNone time.Duration = -1

// FlowReturn is the result of delivering data to an output.
type FlowReturn int

// Flow results, ordered from success towards fatal failure.
const (
	FlowOK            FlowReturn = 0
	FlowNotLinked     FlowReturn = -1
	FlowFlushing      FlowReturn = -2
	FlowEOS           FlowReturn = -3
	FlowNotNegotiated FlowReturn = -4
	FlowError         FlowReturn = -5
	FlowNotSupported  FlowReturn = -6
)

func (f FlowReturn) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowNotLinked:
		return "not-linked"
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	case FlowNotNegotiated:
		return "not-negotiated"
	case FlowError:
		return "error"
	case FlowNotSupported:
		return "not-supported"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// IsFatal reports whether f should stop streaming and be reported as an
// error rather than a normal end of data.
func (f FlowReturn) IsFatal() bool {
	switch f {
	case FlowNotLinked, FlowNotNegotiated, FlowError, FlowNotSupported:
		return true
	}
	return false
}
