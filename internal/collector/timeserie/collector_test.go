package timeserie

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/pcsampling/parser"
)

func stochastic(dispatch, pc uint64, reason parser.Reason, valid bool) buffer.Entry {
	return stochasticCorr(dispatch, corrOf(dispatch), pc, reason, valid)
}

// corrOf gives dispatch a distinct internal correlation id. Dispatch 0 stands
// for a sample that matched no dispatch.
func corrOf(dispatch uint64) uint64 {
	if dispatch == 0 {
		return 0
	}
	return 100 + dispatch
}

func retired(agent, dispatch, corr uint64) buffer.Entry {
	return buffer.Entry{
		Category: buffer.CategoryPCSampling,
		Kind:     buffer.KindDispatchRetired,
		Record: parser.DispatchRetired{
			AgentID:       agent,
			DispatchID:    dispatch,
			CorrelationID: parser.CorrelationID{Internal: corr},
		},
	}
}

func stochasticCorr(dispatch, corr, pc uint64, reason parser.Reason, valid bool) buffer.Entry {
	rec := parser.StochasticRecord{
		DispatchID:    dispatch,
		CorrelationID: parser.CorrelationID{Internal: corr},
		PC:            parser.PC{Offset: pc},
		InstType:   parser.InstValu,
		Snapshot:   parser.Snapshot{Reason: reason},
	}
	rec.Flags.Valid = valid
	return buffer.Entry{Category: buffer.CategoryPCSampling, Kind: buffer.KindPCSampleStochastic, Record: rec}
}

func TestEntryToToken(t *testing.T) {
	tk := EntryToToken(buffer.Entry{
		Category: buffer.CategoryPCSampling,
		Kind:     buffer.KindPCSampleHostTrap,
		Record: parser.HostTrapRecord{
			PC:            parser.PC{Offset: 0x20},
			DispatchID:    3,
			CorrelationID: parser.CorrelationID{Internal: 103},
			Timestamp:     9,
		},
	})
	require.NotNil(t, tk)
	assert.Equal(t, PcSampleToken{Timestamp: 9, DispatchID: 3, Correlation: 103, PC: 0x20, Kind: "pc_sample_host_trap", Issued: true}, *tk)

	assert.Nil(t, EntryToToken(stochastic(1, 0, parser.ReasonALU, false)))
	assert.Nil(t, EntryToToken(buffer.Entry{Category: buffer.CategoryCounterCollection}))
	assert.Nil(t, EntryToToken(42))
}

func TestHotspotEmittedAfterRetirement(t *testing.T) {
	tc := NewTimeSeriesCollector(time.Second)
	tc.Update(stochastic(1, 0x10, parser.ReasonWaitcnt, true))
	tc.Update(stochastic(1, 0x10, parser.ReasonWaitcnt, true))
	tc.Update(stochastic(1, 0x20, parser.ReasonALU, true))

	batch := tc.Flush()
	assert.Equal(t, "gpu_pc_samples", batch.Type)
	assert.Len(t, batch.Batch, 3)
	for _, ev := range batch.Batch {
		assert.Equal(t, "timeserie", ev.EventType)
	}

	tc.Update(retired(2, 1, corrOf(1)))
	batch = tc.Flush()
	require.Len(t, batch.Batch, 1)
	ev := batch.Batch[0]
	assert.Equal(t, "PC_HOTSPOT", ev.EventType)
	assert.Equal(t, uint64(2), ev.AgentID)
	h := ev.Payload.(Hotspot)
	assert.Equal(t, uint64(3), h.Samples)
	assert.Equal(t, uint64(2), h.ByPC[0x10])
	assert.Equal(t, uint64(2), h.ByReason["WAITCNT"])
	assert.Equal(t, uint64(3), h.ByInst["VALU"])

	assert.Empty(t, tc.Flush().Batch)
}

func TestHotspotsSeparateAgentsAndSkipUnattributed(t *testing.T) {
	tc := NewTimeSeriesCollector(time.Second)
	// Both agents run a dispatch with id 1.
	tc.Update(stochasticCorr(1, 201, 0x10, parser.ReasonALU, true))
	tc.Update(stochasticCorr(1, 301, 0x10, parser.ReasonALU, true))
	tc.Update(stochasticCorr(1, 301, 0x20, parser.ReasonALU, true))
	tc.Update(stochastic(0, 0x30, parser.ReasonALU, true))
	tc.Update(stochastic(0, 0x30, parser.ReasonALU, true))

	assert.Len(t, tc.Flush().Batch, 5)
	assert.Equal(t, uint64(2), tc.Unattributed())
	assert.Len(t, tc.hotspots, 2)

	tc.Update(retired(1, 1, 201))
	tc.Update(retired(2, 1, 301))
	batch := tc.Flush()
	require.Len(t, batch.Batch, 2)

	samples := make(map[uint64]uint64)
	for _, ev := range batch.Batch {
		h := ev.Payload.(Hotspot)
		assert.Equal(t, uint64(1), h.DispatchID)
		samples[ev.AgentID] = h.Samples
	}
	assert.Equal(t, map[uint64]uint64{1: 1, 2: 2}, samples)
	assert.Empty(t, tc.hotspots)
}

func TestTimeSeriesRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	tc := NewTimeSeriesCollector(10 * time.Millisecond)
	tc.Update(stochastic(1, 0x10, parser.ReasonALU, true))

	ctx, cancel := context.WithCancel(context.Background())
	out := tc.Run(ctx)
	select {
	case batch := <-out:
		assert.Len(t, batch.Batch, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
	cancel()
	for range out {
	}
}
