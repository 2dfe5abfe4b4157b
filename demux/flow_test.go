package demux

import "testing"

func TestFlowCombinerAggregate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rets []FlowReturn
		want FlowReturn
	}{
		{"empty", nil, FlowOK},
		{"ok masks error", []FlowReturn{FlowOK, FlowError}, FlowOK},
		{"not linked masks eos", []FlowReturn{FlowEOS, FlowNotLinked}, FlowNotLinked},
		{"all eos", []FlowReturn{FlowEOS, FlowEOS}, FlowEOS},
		{"flushing beats errors", []FlowReturn{FlowError, FlowFlushing, FlowNotNegotiated}, FlowFlushing},
		{"single error", []FlowReturn{FlowError}, FlowError},
		{"unknown value ranks as error", []FlowReturn{FlowReturn(-42), FlowNotSupported}, FlowNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewFlowCombiner[int]()
			for i, ret := range tt.rets {
				c.Record(i, ret)
			}
			if got := c.Aggregate(); got != tt.want {
				t.Fatalf("Aggregate() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFlowCombinerRemoveAndReset(t *testing.T) {
	t.Parallel()
	c := NewFlowCombiner[string]()
	c.Add("a")
	if got := c.Record("b", FlowError); got != FlowOK {
		t.Fatalf("Record() = %s, want ok", got)
	}
	c.Remove("a")
	if got := c.Aggregate(); got != FlowError {
		t.Fatalf("after Remove Aggregate() = %s, want error", got)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.Reset()
	if got := c.Aggregate(); got != FlowOK {
		t.Fatalf("after Reset Aggregate() = %s, want ok", got)
	}
}

func TestFlowReturnIsFatal(t *testing.T) {
	t.Parallel()
	fatal := map[FlowReturn]bool{
		FlowOK:            false,
		FlowEOS:           false,
		FlowFlushing:      false,
		FlowNotLinked:     true,
		FlowNotNegotiated: true,
		FlowError:         true,
		FlowNotSupported:  true,
	}
	for ret, want := range fatal {
		if got := ret.IsFatal(); got != want {
			t.Errorf("%s.IsFatal() = %v, want %v", ret, got, want)
		}
	}
}
