package types

// Flag byte leading every record of the profiler ring buffer.
const (
	EVENT_PC_SAMPLE_SEGMENT  = 1
	EVENT_DISPATCH_BEGIN     = 2
	EVENT_DISPATCH_END       = 3
	EVENT_COUNTER_COMPLETION = 4
	EVENT_DEVICE_COUNTERS    = 5
	EVENT_EXTERNAL_CORR      = 6
)

const (
	LoaderRingbuf = "ringbuf"
)

// Batch is what collectors hand to the loader output.
type Batch struct {
	Type     string
	NodeName string
	Batch    []*GpuEvent
}

type GpuEvent struct {
	AgentID   uint64
	EventType string
	Payload   any
}
