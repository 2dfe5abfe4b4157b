package demux

// Segment describes the active range of the stream and its playback rate.
// Start, Stop, Time and Position are expressed in Format units (nanoseconds
// for FormatTime). Stop and Duration are -1 when unknown.
type Segment struct {
	Format   Format
	Rate     float64
	Start    int64
	Stop     int64
	Time     int64
	Position int64
	Duration int64
}

// NewSegment returns a segment initialized for format.
func NewSegment(format Format) Segment {
	var s Segment
	s.Init(format)
	return s
}

// Init resets s to an open-ended, rate 1.0 segment in format.
func (s *Segment) Init(format Format) {
	*s = Segment{
		Format:   format,
		Rate:     1.0,
		Stop:     -1,
		Position: -1,
		Duration: -1,
	}
}

// Advance moves Position forward to pos. Positions never move backwards
// within a segment.
func (s *Segment) Advance(pos int64) {
	if pos < 0 {
		return
	}
	if s.Position < 0 || pos > s.Position {
		s.Position = pos
	}
}

// Contains reports whether pos falls inside [Start, Stop).
func (s *Segment) Contains(pos int64) bool {
	if pos < s.Start {
		return false
	}
	return s.Stop < 0 || pos < s.Stop
}
