package demux

import "fmt"

// QueryType identifies a query.
type QueryType int

// Query types.
const (
	QueryPosition QueryType = iota + 1
	QueryDuration
	QuerySeeking
	QueryFormats
	QueryScheduling
	QueryCustom
)

func (t QueryType) String() string {
	switch t {
	case QueryPosition:
		return "position"
	case QueryDuration:
		return "duration"
	case QuerySeeking:
		return "seeking"
	case QueryFormats:
		return "formats"
	case QueryScheduling:
		return "scheduling"
	case QueryCustom:
		return "custom"
	default:
		return fmt.Sprintf("query(%d)", int(t))
	}
}

// Query is a request for information answered by whoever handles it first.
// The answering party fills in the result fields relevant to Type.
type Query struct {
	Type   QueryType
	Format Format

	// Position and duration answers.
	Value int64

	// Seeking answer.
	Seekable     bool
	SegmentStart int64
	SegmentEnd   int64

	// Formats answer.
	Formats []Format

	// Scheduling answer.
	Modes []Mode
	Flags SchedulingFlags

	Name string // QueryCustom
}

// NewPositionQuery asks for the current position in format.
func NewPositionQuery(format Format) *Query {
	return &Query{Type: QueryPosition, Format: format, Value: -1}
}

// NewDurationQuery asks for the total duration in format.
func NewDurationQuery(format Format) *Query {
	return &Query{Type: QueryDuration, Format: format, Value: -1}
}

// NewSeekingQuery asks whether seeking in format is possible.
func NewSeekingQuery(format Format) *Query {
	return &Query{Type: QuerySeeking, Format: format, SegmentStart: -1, SegmentEnd: -1}
}

// NewFormatsQuery asks for the supported formats.
func NewFormatsQuery() *Query {
	return &Query{Type: QueryFormats}
}

// NewSchedulingQuery asks an upstream source for its scheduling capabilities.
func NewSchedulingQuery() *Query {
	return &Query{Type: QueryScheduling}
}

// HasMode reports whether a scheduling answer offers m.
func (q *Query) HasMode(m Mode) bool {
	for _, mode := range q.Modes {
		if mode == m {
			return true
		}
	}
	return false
}

// SetPosition answers a position query.
func (q *Query) SetPosition(format Format, pos int64) {
	q.Format = format
	q.Value = pos
}

// SetDuration answers a duration query.
func (q *Query) SetDuration(format Format, dur int64) {
	q.Format = format
	q.Value = dur
}

// SetSeeking answers a seeking query.
func (q *Query) SetSeeking(format Format, seekable bool, start, end int64) {
	q.Format = format
	q.Seekable = seekable
	q.SegmentStart = start
	q.SegmentEnd = end
}
