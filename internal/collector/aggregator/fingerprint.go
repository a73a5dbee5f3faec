package aggregator

import "time"

type windowKey struct {
	AgentID   uint64
	CounterID uint64
}

// CounterWindow summarizes the values one counter produced on one agent
// during a window.
type CounterWindow struct {
	AgentID     uint64
	Counter     string
	WindowStart time.Time
	WindowEnd   time.Time

	// Counts
	Dispatches uint64
	Samples    uint64

	// Values
	Sum float64
	Min float64
	Max float64
	Avg float64

	// Derived ratios
	DispatchRate float64
}
