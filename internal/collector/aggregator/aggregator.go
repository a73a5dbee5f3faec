package aggregator

import (
	"strconv"
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

// CounterNamer resolves counter ids to metric names.
type CounterNamer interface {
	ByID(id uint64) (counters.Metric, bool)
}

type CounterAggregator struct {
	windows        map[windowKey]*CounterWindow
	seen           map[windowKey]uint64
	mu             sync.Mutex
	windowDuration time.Duration
	lastFlush      time.Time
	names          CounterNamer
	now            func() time.Time
}

func NewCounterAggregator(window time.Duration, names CounterNamer) *CounterAggregator {
	return &CounterAggregator{
		windows:        make(map[windowKey]*CounterWindow),
		seen:           make(map[windowKey]uint64),
		windowDuration: window,
		lastFlush:      time.Now(),
		names:          names,
		now:            time.Now,
	}
}

func (ca *CounterAggregator) ensureWindow(key windowKey) *CounterWindow {
	win, ok := ca.windows[key]
	if !ok {
		now := ca.now()
		win = &CounterWindow{
			AgentID:     key.AgentID,
			Counter:     ca.counterName(key.CounterID),
			WindowStart: now,
			WindowEnd:   now.Add(ca.windowDuration),
		}
		ca.windows[key] = win
	}
	return win
}

func (ca *CounterAggregator) counterName(id uint64) string {
	if ca.names != nil {
		if m, ok := ca.names.ByID(id); ok {
			return m.Name
		}
	}
	return "counter_" + strconv.FormatUint(id, 10)
}

// Update accepts the buffer entries of the counter pipeline. Everything else
// is ignored.
func (ca *CounterAggregator) Update(ev any) {
	e, ok := ev.(buffer.Entry)
	if !ok || e.Category != buffer.CategoryCounterCollection {
		return
	}
	r, ok := e.Record.(counters.Record)
	if !ok {
		return
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()

	key := windowKey{AgentID: r.AgentID, CounterID: r.ID.CounterID()}
	w := ca.ensureWindow(key)
	if w.Samples == 0 {
		w.Min, w.Max = r.Value, r.Value
	}
	w.Samples++
	w.Sum += r.Value
	w.Avg = w.Sum / float64(w.Samples)
	w.Min = min(w.Min, r.Value)
	w.Max = max(w.Max, r.Value)
	// Records of one dispatch arrive together.
	if last, ok := ca.seen[key]; !ok || last != r.DispatchID {
		ca.seen[key] = r.DispatchID
		w.Dispatches++
	}
}

func (ca *CounterAggregator) Flush() *types.Batch {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	now := ca.now()
	var events []*types.GpuEvent

	for key, w := range ca.windows {
		if now.After(w.WindowEnd) {
			duration := w.WindowEnd.Sub(w.WindowStart).Seconds()
			if duration > 0 {
				w.DispatchRate = float64(w.Dispatches) / duration
			}

			event := &types.GpuEvent{
				AgentID:   w.AgentID,
				EventType: "COUNTER_WINDOW",
				Payload:   *w,
			}
			events = append(events, event)
			delete(ca.windows, key)
			delete(ca.seen, key)
		}
	}

	ca.lastFlush = now
	batch := &types.Batch{Type: "gpu_counter_window", Batch: events}
	return batch
}
