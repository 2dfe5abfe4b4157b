package demux

// flowSeverity ranks flow results from best (0) to worst.
var flowSeverity = map[FlowReturn]int{
	FlowOK:            0,
	FlowNotLinked:     1,
	FlowEOS:           2,
	FlowFlushing:      3,
	FlowNotNegotiated: 4,
	FlowNotSupported:  5,
	FlowError:         6,
}

func severity(f FlowReturn) int {
	if s, ok := flowSeverity[f]; ok {
		return s
	}
	return flowSeverity[FlowError]
}

// FlowCombiner keeps the last flow result of each output and combines them
// into the result reported upstream: the least severe result among all
// outputs, so a single healthy output keeps data flowing.
//
// It is not safe for concurrent use.
type FlowCombiner[K comparable] struct {
	last map[K]FlowReturn
}

// NewFlowCombiner creates an empty combiner.
func NewFlowCombiner[K comparable]() *FlowCombiner[K] {
	return &FlowCombiner[K]{last: make(map[K]FlowReturn)}
}

// Record stores ret for key and returns the new aggregate.
func (c *FlowCombiner[K]) Record(key K, ret FlowReturn) FlowReturn {
	c.last[key] = ret
	return c.Aggregate()
}

// Aggregate returns the combined result. With no outputs recorded it is
// FlowOK.
func (c *FlowCombiner[K]) Aggregate() FlowReturn {
	if len(c.last) == 0 {
		return FlowOK
	}
	best := FlowError
	first := true
	for _, ret := range c.last {
		if first || severity(ret) < severity(best) {
			best = ret
			first = false
		}
	}
	return best
}

// Add registers key with an initial FlowOK result.
func (c *FlowCombiner[K]) Add(key K) {
	if _, ok := c.last[key]; !ok {
		c.last[key] = FlowOK
	}
}

// Remove drops key so it no longer takes part in aggregation.
func (c *FlowCombiner[K]) Remove(key K) {
	delete(c.last, key)
}

// Reset sets every known output back to FlowOK.
func (c *FlowCombiner[K]) Reset() {
	for k := range c.last {
		c.last[k] = FlowOK
	}
}

// Len returns the number of tracked outputs.
func (c *FlowCombiner[K]) Len() int {
	return len(c.last)
}
