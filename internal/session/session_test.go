package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/loaders"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/pcsampling/parser"
)

const agentID = 3

func testAgents() []counters.Agent {
	return []counters.Agent{{
		ID:         agentID,
		Name:       "gpu0",
		Arch:       "gfx90a",
		GfxMajor:   9,
		Properties: map[string]float64{"CU_NUM": 104},
	}}
}

func newSession(t *testing.T, opts Options) (*Session, *counters.Registry, *buffer.Records) {
	t.Helper()
	reg, err := counters.LoadRegistry()
	require.NoError(t, err)
	recs := buffer.NewRecords()
	opts.Buffer = recs
	opts.Synchronous = true
	s, err := New(reg, testAgents(), opts)
	require.NoError(t, err)
	return s, reg, recs
}

func wavesPacket(t *testing.T, reg *counters.Registry, values ...uint64) *counters.AQLPacket {
	t.Helper()
	m, err := reg.ByName("gfx90a", "SQ_WAVES")
	require.NoError(t, err)
	dims := counters.NewDimensionSet(counters.DimensionShaderEngine)
	pkt := &counters.AQLPacket{}
	for i, v := range values {
		pkt.Readings = append(pkt.Readings, counters.Reading{
			ID:    counters.InstanceID(0).WithCounter(m.ID).WithDim(counters.DimensionShaderEngine, uint64(i)),
			Dims:  dims,
			Value: v,
		})
	}
	return pkt
}

func begin(dispatch uint64) loaders.DispatchBegin {
	return loaders.DispatchBegin{
		AgentID:       agentID,
		DispatchID:    dispatch,
		CorrelationID: 100 + dispatch,
		ContextID:     1,
		Doorbell:      2,
		WriteIndex:    dispatch,
	}
}

func TestNewRequiresAgents(t *testing.T) {
	reg, err := counters.LoadRegistry()
	require.NoError(t, err)
	_, err = New(reg, nil, Options{})
	assert.ErrorIs(t, err, ErrNoAgents)
}

func TestNewRejectsUnknownCounter(t *testing.T) {
	reg, err := counters.LoadRegistry()
	require.NoError(t, err)
	_, err = New(reg, testAgents(), Options{Counters: []string{"NOT_A_COUNTER"}})
	assert.ErrorIs(t, err, counters.ErrUnknownMetric)
}

func TestCounterDispatchEndToEnd(t *testing.T) {
	s, reg, recs := newSession(t, Options{Counters: []string{"SQ_WAVES_sum"}})
	s.PushExternalCorrelation(1, 77)

	s.Handle(begin(1))
	s.Handle(loaders.CounterCompletion{AgentID: agentID, DispatchID: 1, Packet: wavesPacket(t, reg, 1, 2, 3, 4)})
	assert.Equal(t, 1, s.Inflight())
	s.Handle(loaders.DispatchEnd{AgentID: agentID, DispatchID: 1, CorrelationID: 101, Start: 10, End: 20, Success: true})
	assert.Equal(t, 0, s.Inflight())

	entries := recs.Flush()
	require.Len(t, entries, 2)
	hdr, ok := entries[0].Record.(counters.DispatchHeader)
	require.True(t, ok)
	assert.Equal(t, uint64(1), hdr.NumRecords)
	assert.Equal(t, counters.CorrelationID{Internal: 101, External: 77}, hdr.Correlation)
	assert.Equal(t, uint64(10), hdr.Start)
	assert.Equal(t, uint64(20), hdr.End)

	rec, ok := entries[1].Record.(counters.Record)
	require.True(t, ok)
	assert.Equal(t, 10.0, rec.Value)
	assert.Equal(t, uint64(agentID), rec.AgentID)
	m, err := reg.ByName("gfx90a", "SQ_WAVES_sum")
	require.NoError(t, err)
	assert.Equal(t, m.ID, rec.ID.CounterID())
}

func TestEndBeforeReadings(t *testing.T) {
	s, reg, recs := newSession(t, Options{Counters: []string{"SQ_WAVES_sum"}})

	s.Handle(begin(2))
	s.Handle(loaders.DispatchEnd{AgentID: agentID, DispatchID: 2, Start: 30, End: 10, Success: true})
	assert.Empty(t, recs.Flush())
	s.Handle(loaders.CounterCompletion{AgentID: agentID, DispatchID: 2, Packet: wavesPacket(t, reg, 5)})

	entries := recs.Flush()
	require.Len(t, entries, 2)
	hdr := entries[0].Record.(counters.DispatchHeader)
	assert.Zero(t, hdr.Start, "inverted timestamps are dropped")
	assert.Zero(t, hdr.End)
	assert.Equal(t, 5.0, entries[1].Record.(counters.Record).Value)
}

func TestUnknownDispatchAndAgent(t *testing.T) {
	s, reg, recs := newSession(t, Options{Counters: []string{"SQ_WAVES_sum"}})

	s.Handle(loaders.CounterCompletion{AgentID: agentID, DispatchID: 9, Packet: wavesPacket(t, reg, 1)})
	s.Handle(loaders.DispatchEnd{AgentID: agentID, DispatchID: 9})
	s.Handle(begin(1))
	s.Handle(loaders.DispatchBegin{AgentID: 42, DispatchID: 1})
	s.Handle("not an event")

	assert.Empty(t, recs.Flush())
	assert.Equal(t, 1, s.Inflight())
}

func TestPcSamplingRetiresOnFlip(t *testing.T) {
	s, _, recs := newSession(t, Options{PCSampling: true})

	b := begin(4)
	s.Handle(b)
	dev := parser.DeviceCorrelationID(b.Doorbell, b.WriteIndex)
	seg := []parser.GenericSample{
		parser.UpcomingSamples{Type: parser.SampleTypeHostTrapV1, NumSamples: 1, AgentID: agentID}.Encode(),
		parser.HostTrapSample{PC: 0x40, CorrelationID: dev}.Encode(),
	}
	s.Handle(loaders.DispatchEnd{AgentID: agentID, DispatchID: 4, CorrelationID: b.CorrelationID, Success: true})
	s.Handle(loaders.PcSampleSegment{AgentID: agentID, GfxMajor: 9, Flip: true, Samples: seg})

	entries := recs.Flush()
	require.Len(t, entries, 2)
	sample, ok := entries[0].Record.(parser.HostTrapRecord)
	require.True(t, ok)
	assert.Equal(t, uint64(4), sample.DispatchID)
	assert.Equal(t, uint64(0x40), sample.PC.Offset)

	retired, ok := entries[1].Record.(parser.DispatchRetired)
	require.True(t, ok)
	assert.Equal(t, uint64(4), retired.DispatchID)
	assert.NotZero(t, retired.Timestamp)
}

func TestPcSamplingWrongGFXIsReported(t *testing.T) {
	s, _, recs := newSession(t, Options{PCSampling: true})
	seg := []parser.GenericSample{
		parser.UpcomingSamples{Type: parser.SampleTypeHostTrapV1, NumSamples: 0, AgentID: agentID}.Encode(),
	}
	s.Handle(loaders.PcSampleSegment{AgentID: agentID, GfxMajor: 11, Samples: seg})
	assert.Empty(t, recs.Flush())
}

func TestExternalCorrelationPop(t *testing.T) {
	s, _, _ := newSession(t, Options{})
	s.PushExternalCorrelation(5, 9)
	id, ok := s.PopExternalCorrelation(5)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), id)
	_, ok = s.PopExternalCorrelation(5)
	assert.False(t, ok)
}

func TestExternalCorrelationEvents(t *testing.T) {
	s, reg, recs := newSession(t, Options{Counters: []string{"SQ_WAVES_sum"}})

	run := func(dispatch uint64) counters.DispatchHeader {
		s.Handle(begin(dispatch))
		s.Handle(loaders.CounterCompletion{AgentID: agentID, DispatchID: dispatch, Packet: wavesPacket(t, reg, 1)})
		s.Handle(loaders.DispatchEnd{AgentID: agentID, DispatchID: dispatch, Start: 1, End: 2, Success: true})
		entries := recs.Flush()
		require.Len(t, entries, 2)
		return entries[0].Record.(counters.DispatchHeader)
	}

	s.Handle(loaders.ExternalCorrelation{ContextID: 1, ID: 77})
	assert.Equal(t, uint64(77), run(1).Correlation.External)

	s.Handle(loaders.ExternalCorrelation{ContextID: 1, Pop: true})
	assert.Zero(t, run(2).Correlation.External)
}

func TestDeviceCountersAreEvaluated(t *testing.T) {
	s, reg, recs := newSession(t, Options{Counters: []string{"SQ_WAVES_sum"}})

	s.Handle(loaders.DeviceCounters{AgentID: agentID, Packet: wavesPacket(t, reg, 1, 2, 3, 4)})

	entries := recs.Flush()
	require.Len(t, entries, 1)
	assert.Equal(t, buffer.KindDeviceCounterRecord, entries[0].Kind)
	rec := entries[0].Record.(counters.Record)
	assert.Equal(t, 10.0, rec.Value)
	assert.Zero(t, rec.DispatchID)
	assert.Equal(t, 0, s.Inflight())
}

func TestSlotCollisionRetiresCompletedDispatch(t *testing.T) {
	s, _, recs := newSession(t, Options{PCSampling: true})

	first := begin(4)
	s.Handle(first)
	s.Handle(loaders.DispatchEnd{AgentID: agentID, DispatchID: 4, CorrelationID: first.CorrelationID, Success: true})
	assert.Empty(t, recs.Flush())

	// Same doorbell and write index modulo the device correlation width.
	second := begin(5)
	second.WriteIndex = first.WriteIndex + 1<<25
	s.Handle(second)

	entries := recs.Flush()
	require.Len(t, entries, 1)
	retired, ok := entries[0].Record.(parser.DispatchRetired)
	require.True(t, ok)
	assert.Equal(t, uint64(4), retired.DispatchID)

	dev := parser.DeviceCorrelationID(second.Doorbell, second.WriteIndex)
	s.Handle(loaders.PcSampleSegment{AgentID: agentID, GfxMajor: 9, Samples: []parser.GenericSample{
		parser.UpcomingSamples{Type: parser.SampleTypeHostTrapV1, NumSamples: 1, AgentID: agentID}.Encode(),
		parser.HostTrapSample{PC: 0x80, CorrelationID: dev}.Encode(),
	}})
	entries = recs.Flush()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(5), entries[0].Record.(parser.HostTrapRecord).DispatchID)
}
