package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

type names map[uint64]string

func (n names) ByID(id uint64) (counters.Metric, bool) {
	name, ok := n[id]
	return counters.Metric{ID: id, Name: name}, ok
}

func record(agent, counter, dispatch uint64, v float64) buffer.Entry {
	return buffer.Entry{
		Category: buffer.CategoryCounterCollection,
		Kind:     buffer.KindCounterRecord,
		Record: counters.Record{
			ID:         counters.InstanceID(0).WithCounter(counter),
			Value:      v,
			AgentID:    agent,
			DispatchID: dispatch,
		},
	}
}

func TestAggregatorSummarizesWindow(t *testing.T) {
	clock := time.Unix(100, 0)
	ca := NewCounterAggregator(time.Second, names{5: "SQ_WAVES_sum"})
	ca.now = func() time.Time { return clock }

	ca.Update(record(1, 5, 10, 4))
	ca.Update(record(1, 5, 10, 8))
	ca.Update(record(1, 5, 11, 6))
	ca.Update(record(1, 6, 11, 1))
	ca.Update(buffer.Entry{Category: buffer.CategoryCounterCollection, Kind: buffer.KindCounterHeader, Record: counters.DispatchHeader{}})
	ca.Update("ignored")

	assert.Empty(t, ca.Flush().Batch, "window still open")

	clock = clock.Add(2 * time.Second)
	batch := ca.Flush()
	assert.Equal(t, "gpu_counter_window", batch.Type)
	require.Len(t, batch.Batch, 2)

	var waves CounterWindow
	for _, ev := range batch.Batch {
		w := ev.Payload.(CounterWindow)
		if w.Counter == "SQ_WAVES_sum" {
			waves = w
		} else {
			assert.Equal(t, "counter_6", w.Counter)
		}
	}
	assert.Equal(t, uint64(3), waves.Samples)
	assert.Equal(t, uint64(2), waves.Dispatches)
	assert.Equal(t, 18.0, waves.Sum)
	assert.Equal(t, 4.0, waves.Min)
	assert.Equal(t, 8.0, waves.Max)
	assert.Equal(t, 6.0, waves.Avg)
	assert.Equal(t, 2.0, waves.DispatchRate)

	assert.Empty(t, ca.Flush().Batch)
}

func TestAggregatorRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ca := NewCounterAggregator(10*time.Millisecond, nil)
	ca.Update(record(1, 5, 1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	out := ca.Run(ctx)

	var batch *types.Batch
	select {
	case batch = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
	require.Len(t, batch.Batch, 1)

	cancel()
	for range out {
	}
}
