package demux

import "time"

// Buffer is a unit of data travelling from upstream into the demuxer or from
// the demuxer to an output. The engine never inspects Data.
type Buffer struct {
	Data     []byte
	Offset   int64 // byte offset in the input, -1 if unknown
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration

	// Discont marks data that is not contiguous with the previous unit.
	Discont bool
	// Delta marks data that cannot be decoded on its own (not a keyframe).
	Delta bool
}

// NewBuffer wraps data with unknown timestamps and offset.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{
		Data:     data,
		Offset:   -1,
		PTS:      ClockTimeNone,
		DTS:      ClockTimeNone,
		Duration: ClockTimeNone,
	}
}

// Size returns len(b.Data).
func (b *Buffer) Size() int {
	return len(b.Data)
}
