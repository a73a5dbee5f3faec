package timeserie

import (
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/pcsampling/parser"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

// Hotspot counts the samples of one dispatch by program counter and, for
// stochastic samples, by stall reason and instruction type.
type Hotspot struct {
	DispatchID  uint64
	Correlation uint64
	Samples     uint64
	Retired     bool
	ByPC        map[uint64]uint64
	ByReason    map[string]uint64
	ByInst      map[string]uint64
}

// Dispatch ids repeat across agents, so everything is keyed by the internal
// correlation id. Zero means the sample matched no dispatch.
type TimeSeriesCollector struct {
	mu            sync.Mutex
	buffers       map[uint64][]*PcSampleToken
	hotspots      map[uint64]*Hotspot
	agents        map[uint64]uint64
	unattributed  uint64
	flushInterval time.Duration
}

func NewTimeSeriesCollector(flushInterval time.Duration) *TimeSeriesCollector {
	return &TimeSeriesCollector{
		buffers:       make(map[uint64][]*PcSampleToken),
		hotspots:      make(map[uint64]*Hotspot),
		agents:        make(map[uint64]uint64),
		flushInterval: flushInterval,
	}
}

func (tc *TimeSeriesCollector) hotspot(corr, dispatch uint64) *Hotspot {
	h, ok := tc.hotspots[corr]
	if !ok {
		h = &Hotspot{
			DispatchID:  dispatch,
			Correlation: corr,
			ByPC:        make(map[uint64]uint64),
			ByReason:    make(map[string]uint64),
			ByInst:      make(map[string]uint64),
		}
		tc.hotspots[corr] = h
	}
	return h
}

func (tc *TimeSeriesCollector) Update(ev any) {
	if e, ok := ev.(buffer.Entry); ok {
		if r, ok := e.Record.(parser.DispatchRetired); ok {
			corr := r.CorrelationID.Internal
			tc.mu.Lock()
			tc.hotspot(corr, r.DispatchID).Retired = true
			tc.agents[corr] = r.AgentID
			tc.mu.Unlock()
			return
		}
	}

	token := EntryToToken(ev)
	if token == nil {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.buffers[token.Correlation] = append(tc.buffers[token.Correlation], token)
	if token.Correlation == 0 {
		tc.unattributed++
		return
	}
	h := tc.hotspot(token.Correlation, token.DispatchID)
	h.Samples++
	h.ByPC[token.PC]++
	if token.Reason != "" {
		h.ByReason[token.Reason]++
	}
	if token.InstType != "" {
		h.ByInst[token.InstType]++
	}
}

// Unattributed reports how many samples matched no dispatch.
func (tc *TimeSeriesCollector) Unattributed() uint64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.unattributed
}

// Flush hands over the buffered tokens. Hotspots are only emitted once their
// dispatch has retired, so they cover every sample of it.
func (tc *TimeSeriesCollector) Flush() *types.Batch {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	var events []*types.GpuEvent

	for corr, tokens := range tc.buffers {
		for _, tk := range tokens {
			event := &types.GpuEvent{
				AgentID:   tc.agents[corr],
				EventType: "timeserie",
				Payload:   *tk,
			}
			events = append(events, event)
		}
		delete(tc.buffers, corr)
	}

	for corr, h := range tc.hotspots {
		if !h.Retired {
			continue
		}
		events = append(events, &types.GpuEvent{
			AgentID:   tc.agents[corr],
			EventType: "PC_HOTSPOT",
			Payload:   *h,
		})
		delete(tc.hotspots, corr)
		delete(tc.agents, corr)
	}

	batch := &types.Batch{Batch: events, Type: "gpu_pc_samples"}
	return batch
}
