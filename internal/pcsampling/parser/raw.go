package parser

import "encoding/binary"

// GenericSampleSize is the size of every slot of a hardware sampling buffer.
const GenericSampleSize = 64

// GenericSample is one raw slot as written by the device.
type GenericSample [GenericSampleSize]byte

// SampleType tells which raw layout the samples following a header use.
type SampleType uint32

const (
	SampleTypeNone SampleType = iota
	SampleTypeHostTrapV1
	SampleTypeSnapshotV1
)

// upcomingMarker identifies a header slot ("PCSHDR\0\0" little endian).
const upcomingMarker uint64 = 0x0000524448534350

// UpcomingSamples precedes each batch of samples in a segment.
//
//	0..7   marker
//	8..11  sample type
//	12..15 reserved
//	16..23 number of samples in the batch
//	24..31 agent id of the producing device
type UpcomingSamples struct {
	Type       SampleType
	NumSamples uint64
	AgentID    uint64
}

func (u UpcomingSamples) Encode() GenericSample {
	var g GenericSample
	binary.LittleEndian.PutUint64(g[0:], upcomingMarker)
	binary.LittleEndian.PutUint32(g[8:], uint32(u.Type))
	binary.LittleEndian.PutUint64(g[16:], u.NumSamples)
	binary.LittleEndian.PutUint64(g[24:], u.AgentID)
	return g
}

func decodeUpcoming(g *GenericSample) (UpcomingSamples, bool) {
	if binary.LittleEndian.Uint64(g[0:]) != upcomingMarker {
		return UpcomingSamples{}, false
	}
	return UpcomingSamples{
		Type:       SampleType(binary.LittleEndian.Uint32(g[8:])),
		NumSamples: binary.LittleEndian.Uint64(g[16:]),
		AgentID:    binary.LittleEndian.Uint64(g[24:]),
	}, true
}

// HostTrapSample is the host trap v1 raw layout.
//
//	0  pc              8  exec mask
//	16 workgroup x     20 workgroup y     24 workgroup z
//	28 chiplet and wave id                32 hw id
//	36 reserved (u32)  40 reserved (u64)
//	48 timestamp       56 correlation id
type HostTrapSample struct {
	PC               uint64
	ExecMask         uint64
	WorkgroupX       uint32
	WorkgroupY       uint32
	WorkgroupZ       uint32
	ChipletAndWaveID uint32
	HwID             uint32
	Timestamp        uint64
	CorrelationID    uint64
}

func (s HostTrapSample) Encode() GenericSample {
	var g GenericSample
	putCommon(&g, s.PC, s.ExecMask, s.WorkgroupX, s.WorkgroupY, s.WorkgroupZ, s.ChipletAndWaveID, s.HwID)
	binary.LittleEndian.PutUint64(g[48:], s.Timestamp)
	binary.LittleEndian.PutUint64(g[56:], s.CorrelationID)
	return g
}

func decodeHostTrapSample(g *GenericSample) HostTrapSample {
	le := binary.LittleEndian
	return HostTrapSample{
		PC:               le.Uint64(g[0:]),
		ExecMask:         le.Uint64(g[8:]),
		WorkgroupX:       le.Uint32(g[16:]),
		WorkgroupY:       le.Uint32(g[20:]),
		WorkgroupZ:       le.Uint32(g[24:]),
		ChipletAndWaveID: le.Uint32(g[28:]),
		HwID:             le.Uint32(g[32:]),
		Timestamp:        le.Uint64(g[48:]),
		CorrelationID:    le.Uint64(g[56:]),
	}
}

// SnapshotSample is the stochastic (wave snapshot) v1 raw layout. It shares
// the host trap layout up to the hw id, then carries three snapshot words.
type SnapshotSample struct {
	PC                uint64
	ExecMask          uint64
	WorkgroupX        uint32
	WorkgroupY        uint32
	WorkgroupZ        uint32
	ChipletAndWaveID  uint32
	HwID              uint32
	PerfSnapshotData  uint32
	PerfSnapshotData1 uint32
	PerfSnapshotData2 uint32
	Timestamp         uint64
	CorrelationID     uint64
}

func (s SnapshotSample) Encode() GenericSample {
	var g GenericSample
	putCommon(&g, s.PC, s.ExecMask, s.WorkgroupX, s.WorkgroupY, s.WorkgroupZ, s.ChipletAndWaveID, s.HwID)
	binary.LittleEndian.PutUint32(g[36:], s.PerfSnapshotData)
	binary.LittleEndian.PutUint32(g[40:], s.PerfSnapshotData1)
	binary.LittleEndian.PutUint32(g[44:], s.PerfSnapshotData2)
	binary.LittleEndian.PutUint64(g[48:], s.Timestamp)
	binary.LittleEndian.PutUint64(g[56:], s.CorrelationID)
	return g
}

func decodeSnapshotSample(g *GenericSample) SnapshotSample {
	le := binary.LittleEndian
	return SnapshotSample{
		PC:                le.Uint64(g[0:]),
		ExecMask:          le.Uint64(g[8:]),
		WorkgroupX:        le.Uint32(g[16:]),
		WorkgroupY:        le.Uint32(g[20:]),
		WorkgroupZ:        le.Uint32(g[24:]),
		ChipletAndWaveID:  le.Uint32(g[28:]),
		HwID:              le.Uint32(g[32:]),
		PerfSnapshotData:  le.Uint32(g[36:]),
		PerfSnapshotData1: le.Uint32(g[40:]),
		PerfSnapshotData2: le.Uint32(g[44:]),
		Timestamp:         le.Uint64(g[48:]),
		CorrelationID:     le.Uint64(g[56:]),
	}
}

func putCommon(g *GenericSample, pc, exec uint64, x, y, z, chipletWave, hwID uint32) {
	le := binary.LittleEndian
	le.PutUint64(g[0:], pc)
	le.PutUint64(g[8:], exec)
	le.PutUint32(g[16:], x)
	le.PutUint32(g[20:], y)
	le.PutUint32(g[24:], z)
	le.PutUint32(g[28:], chipletWave)
	le.PutUint32(g[32:], hwID)
}

// rawCorrelationID reads the device correlation id, which sits at the same
// offset in every layout.
func rawCorrelationID(g *GenericSample) uint64 {
	return binary.LittleEndian.Uint64(g[56:])
}
