package loaders

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/pcsampling/parser"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

var (
	ErrEmptyRecord   = errors.New("empty record")
	ErrUnknownFlag   = errors.New("unknown event flag")
	ErrTruncatedBody = errors.New("record shorter than its header announces")
)

// Layouts written by the runtime shim into the ring buffer. Every record
// starts with the event flag.

type pcSampleSegmentEventT struct {
	Flag     uint8
	GfxMajor uint8
	Flip     uint8
	_        [5]uint8
	AgentID  uint64
	NumSlots uint32
	_        uint32
}

type dispatchBeginEventT struct {
	Flag          uint8
	_             [7]uint8
	AgentID       uint64
	QueueID       uint64
	KernelID      uint64
	DispatchID    uint64
	CorrelationID uint64
	ContextID     uint64
	Doorbell      uint64
	WriteIndex    uint64
	Grid          [3]uint32
	Workgroup     [3]uint32
}

type dispatchEndEventT struct {
	Flag          uint8
	Success       uint8
	_             [6]uint8
	AgentID       uint64
	DispatchID    uint64
	CorrelationID uint64
	Start         uint64
	End           uint64
}

type counterCompletionEventT struct {
	Flag        uint8
	_           [7]uint8
	AgentID     uint64
	DispatchID  uint64
	NumReadings uint32
	_           uint32
}

type externalCorrEventT struct {
	Flag      uint8
	Pop       uint8
	_         [6]uint8
	ContextID uint64
	ID        uint64
}

type counterReadingT struct {
	InstanceID uint64
	Dims       uint16
	_          [6]uint8
	Value      uint64
}

var counterReadingSize = uint64(binary.Size(counterReadingT{}))

// PcSampleSegment carries one sampling buffer segment of an agent. Flip is
// set when the runtime switched to its other buffer after this segment.
type PcSampleSegment struct {
	AgentID  uint64
	GfxMajor int
	Flip     bool
	Samples  []parser.GenericSample
}

type DispatchBegin struct {
	AgentID       uint64
	QueueID       uint64
	KernelID      uint64
	DispatchID    uint64
	CorrelationID uint64
	ContextID     uint64
	Doorbell      uint64
	WriteIndex    uint64
	Grid          [3]uint32
	Workgroup     [3]uint32
}

type DispatchEnd struct {
	AgentID       uint64
	DispatchID    uint64
	CorrelationID uint64
	Start         uint64
	End           uint64
	Success       bool
}

type CounterCompletion struct {
	AgentID    uint64
	DispatchID uint64
	Packet     *counters.AQLPacket
}

// ExternalCorrelation mirrors a push or pop of an application supplied
// correlation id on a context.
type ExternalCorrelation struct {
	ContextID uint64
	ID        uint64
	Pop       bool
}

// DeviceCounters is an agent wide counter read not tied to a dispatch. It
// shares the counter completion layout with a zero dispatch id.
type DeviceCounters struct {
	AgentID uint64
	Packet  *counters.AQLPacket
}

// DecodeEvent turns one ring buffer record into its typed event.
func DecodeEvent(raw []byte) (any, error) {
	if len(raw) < 1 {
		return nil, ErrEmptyRecord
	}
	r := bytes.NewReader(raw)

	switch flag := raw[0]; flag {
	case types.EVENT_PC_SAMPLE_SEGMENT:
		var e pcSampleSegmentEventT
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing pc sample segment: %w", err)
		}
		if uint64(r.Len()) < uint64(e.NumSlots)*parser.GenericSampleSize {
			return nil, fmt.Errorf("%w: %d sample slots", ErrTruncatedBody, e.NumSlots)
		}
		samples := make([]parser.GenericSample, e.NumSlots)
		for i := range samples {
			if _, err := io.ReadFull(r, samples[i][:]); err != nil {
				return nil, fmt.Errorf("parsing sample slot %d: %w", i, err)
			}
		}
		return PcSampleSegment{
			AgentID:  e.AgentID,
			GfxMajor: int(e.GfxMajor),
			Flip:     e.Flip != 0,
			Samples:  samples,
		}, nil

	case types.EVENT_DISPATCH_BEGIN:
		var e dispatchBeginEventT
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing dispatch begin: %w", err)
		}
		return DispatchBegin{
			AgentID:       e.AgentID,
			QueueID:       e.QueueID,
			KernelID:      e.KernelID,
			DispatchID:    e.DispatchID,
			CorrelationID: e.CorrelationID,
			ContextID:     e.ContextID,
			Doorbell:      e.Doorbell,
			WriteIndex:    e.WriteIndex,
			Grid:          e.Grid,
			Workgroup:     e.Workgroup,
		}, nil

	case types.EVENT_DISPATCH_END:
		var e dispatchEndEventT
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing dispatch end: %w", err)
		}
		return DispatchEnd{
			AgentID:       e.AgentID,
			DispatchID:    e.DispatchID,
			CorrelationID: e.CorrelationID,
			Start:         e.Start,
			End:           e.End,
			Success:       e.Success != 0,
		}, nil

	case types.EVENT_COUNTER_COMPLETION, types.EVENT_DEVICE_COUNTERS:
		var e counterCompletionEventT
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing counter completion: %w", err)
		}
		if uint64(r.Len()) < uint64(e.NumReadings)*counterReadingSize {
			return nil, fmt.Errorf("%w: %d readings", ErrTruncatedBody, e.NumReadings)
		}
		readings := make([]counterReadingT, e.NumReadings)
		if err := binary.Read(r, binary.LittleEndian, readings); err != nil {
			return nil, fmt.Errorf("parsing counter readings: %w", err)
		}
		pkt := &counters.AQLPacket{Readings: make([]counters.Reading, len(readings))}
		for i, rd := range readings {
			pkt.Readings[i] = counters.Reading{
				ID:    counters.InstanceID(rd.InstanceID),
				Dims:  counters.DimensionSet(rd.Dims),
				Value: rd.Value,
			}
		}
		if flag == types.EVENT_DEVICE_COUNTERS {
			return DeviceCounters{AgentID: e.AgentID, Packet: pkt}, nil
		}
		return CounterCompletion{AgentID: e.AgentID, DispatchID: e.DispatchID, Packet: pkt}, nil

	case types.EVENT_EXTERNAL_CORR:
		var e externalCorrEventT
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("parsing external correlation: %w", err)
		}
		return ExternalCorrelation{ContextID: e.ContextID, ID: e.ID, Pop: e.Pop != 0}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlag, flag)
	}
}
