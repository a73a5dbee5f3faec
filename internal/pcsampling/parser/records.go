package parser

import "unsafe"

// HwID identifies the hardware slot a wave was running on when sampled.
type HwID struct {
	Chiplet      uint8
	Wave         uint8
	SIMD         uint8
	Pipe         uint8
	CUOrWGP      uint8
	ShaderArray  uint8
	ShaderEngine uint8
	Workgroup    uint8
	VM           uint8
	Queue        uint8
	Microengine  uint8
}

type bitField struct {
	shift, width uint
}

// Public 64 bit hw id layout; bits 48..63 are reserved.
var hwIDLayout = [...]bitField{
	{0, 6},  // chiplet
	{6, 7},  // wave
	{13, 2}, // simd
	{15, 4}, // pipe
	{19, 4}, // cu or wgp
	{23, 1}, // shader array
	{24, 5}, // shader engine
	{29, 7}, // workgroup
	{36, 6}, // vm
	{42, 4}, // queue
	{46, 2}, // microengine
}

func (h *HwID) fields() [len(hwIDLayout)]*uint8 {
	return [...]*uint8{&h.Chiplet, &h.Wave, &h.SIMD, &h.Pipe, &h.CUOrWGP, &h.ShaderArray,
		&h.ShaderEngine, &h.Workgroup, &h.VM, &h.Queue, &h.Microengine}
}

func (h HwID) Pack() uint64 {
	var out uint64
	for i, f := range h.fields() {
		l := hwIDLayout[i]
		out |= (uint64(*f) & (1<<l.width - 1)) << l.shift
	}
	return out
}

func UnpackHwID(v uint64) HwID {
	var h HwID
	for i, f := range h.fields() {
		l := hwIDLayout[i]
		*f = uint8(v >> l.shift & (1<<l.width - 1))
	}
	return h
}

type InstType uint8

const (
	InstValu InstType = iota
	InstMatrix
	InstScalar
	InstTex
	InstLDS
	InstLDSDirect
	InstFlat
	InstExport
	InstMessage
	InstBarrier
	InstBranchNotTaken
	InstBranchTaken
	InstJump
	InstOther
	InstNoInst
	InstDualValu
	instLast
)

var instNames = [...]string{
	"VALU", "MATRIX", "SCALAR", "TEX", "LDS", "LDS_DIRECT", "FLAT", "EXPORT", "MESSAGE",
	"BARRIER", "BRANCH_NOT_TAKEN", "BRANCH_TAKEN", "JUMP", "OTHER", "NO_INST", "DUAL_VALU",
}

func (t InstType) String() string {
	if t < instLast {
		return instNames[t]
	}
	return "UNKNOWN"
}

// Reason an instruction was not issued.
type Reason uint8

const (
	ReasonNotAvailable Reason = iota
	ReasonALU
	ReasonWaitcnt
	ReasonInternal
	ReasonBarrier
	ReasonArbiter
	ReasonExStall
	ReasonOtherWait
	ReasonSleep
	reasonLast
)

var reasonNames = [...]string{
	"NOT_AVAILABLE", "ALU", "WAITCNT", "INTERNAL", "BARRIER", "ARBITER", "EX_STALL", "OTHER_WAIT", "SLEEP",
}

func (r Reason) String() string {
	if r < reasonLast {
		return reasonNames[r]
	}
	return "UNKNOWN"
}

// ArbState is a set of instruction classes seen by the arbiter.
type ArbState uint16

const (
	ArbValu ArbState = 1 << iota
	ArbMatrix
	ArbLDS
	ArbLDSDirect
	ArbScalar
	ArbVmemTex
	ArbFlat
	ArbExp
	ArbMisc
	ArbBrmsg

	arbMask = 1<<10 - 1
)

func (a ArbState) Has(s ArbState) bool { return a&s != 0 }

// Snapshot is the stochastic wave state.
//
//	0..3   reason not issued
//	4      reserved
//	5..15  issued classes (valu, matrix, lds, lds direct, scalar, vmem tex,
//	       flat, exp, misc, brmsg, reserved)
//	16..26 stalled classes, same order
//	27     dual issue valu
//	28..31 reserved
type Snapshot struct {
	Reason        Reason
	Issue         ArbState
	Stall         ArbState
	DualIssueValu bool
}

func (s Snapshot) Pack() uint32 {
	out := uint32(s.Reason) & 0xF
	out |= uint32(s.Issue&arbMask) << 5
	out |= uint32(s.Stall&arbMask) << 16
	if s.DualIssueValu {
		out |= 1 << 27
	}
	return out
}

func UnpackSnapshot(v uint32) Snapshot {
	return Snapshot{
		Reason:        Reason(v & 0xF),
		Issue:         ArbState(v>>5) & arbMask,
		Stall:         ArbState(v>>16) & arbMask,
		DualIssueValu: v>>27&1 == 1,
	}
}

// MemoryCounters count memory instructions issued but not yet completed.
type MemoryCounters struct {
	Load   uint8
	Store  uint8
	BVH    uint8
	Sample uint8
	DS     uint8
	KM     uint8
}

var memoryCountersLayout = [...]bitField{
	{0, 6},  // load
	{6, 6},  // store
	{12, 3}, // bvh
	{15, 6}, // sample
	{21, 6}, // ds
	{27, 5}, // km
}

func (m MemoryCounters) Pack() uint32 {
	src := [...]uint8{m.Load, m.Store, m.BVH, m.Sample, m.DS, m.KM}
	var out uint32
	for i, v := range src {
		l := memoryCountersLayout[i]
		out |= (uint32(v) & (1<<l.width - 1)) << l.shift
	}
	return out
}

func UnpackMemoryCounters(v uint32) MemoryCounters {
	var m MemoryCounters
	dst := [...]*uint8{&m.Load, &m.Store, &m.BVH, &m.Sample, &m.DS, &m.KM}
	for i, f := range dst {
		l := memoryCountersLayout[i]
		*f = uint8(v >> l.shift & (1<<l.width - 1))
	}
	return m
}

// StochasticHeader tells which fields of a StochasticRecord are meaningful.
type StochasticHeader struct {
	Valid            bool
	HasMemoryCounter bool
}

func (h StochasticHeader) Pack() uint8 {
	var out uint8
	if h.Valid {
		out |= 1
	}
	if h.HasMemoryCounter {
		out |= 1 << 1
	}
	return out
}

func UnpackStochasticHeader(v uint8) StochasticHeader {
	return StochasticHeader{Valid: v&1 == 1, HasMemoryCounter: v>>1&1 == 1}
}

type Dim3 struct {
	X, Y, Z uint32
}

// PC is a sampled program counter. CodeObjectID is zero when the address
// has not been resolved to a loaded code object.
type PC struct {
	CodeObjectID uint64
	Offset       uint64
}

type CorrelationID struct {
	Internal uint64
	External uint64
}

type HostTrapRecord struct {
	Size          uint64
	HwID          HwID
	PC            PC
	ExecMask      uint64
	WorkgroupID   Dim3
	WaveInGroup   uint8
	Timestamp     uint64
	DispatchID    uint64
	CorrelationID CorrelationID
}

type StochasticRecord struct {
	Size           uint64
	Flags          StochasticHeader
	WaveInGroup    uint8
	WaveIssued     bool
	InstType       InstType
	HwID           HwID
	PC             PC
	ExecMask       uint64
	WorkgroupID    Dim3
	WaveCount      uint32
	Timestamp      uint64
	DispatchID     uint64
	CorrelationID  CorrelationID
	Snapshot       Snapshot
	MemoryCounters MemoryCounters
}

const (
	HostTrapRecordSize   = uint64(unsafe.Sizeof(HostTrapRecord{}))
	StochasticRecordSize = uint64(unsafe.Sizeof(StochasticRecord{}))
)

// DispatchRetired is emitted once every sample of a dispatch has been
// delivered and its correlation id may be reused.
type DispatchRetired struct {
	AgentID       uint64
	DispatchID    uint64
	CorrelationID CorrelationID
	Timestamp     uint64
}

func (r *HostTrapRecord) setDispatch(pkt DispatchPacket, found bool) {
	if !found {
		return
	}
	r.DispatchID = pkt.DispatchID
	r.CorrelationID = pkt.CorrelationID
}

func (r *StochasticRecord) setDispatch(pkt DispatchPacket, found bool) {
	if !found {
		r.Flags.Valid = false
		return
	}
	r.DispatchID = pkt.DispatchID
	r.CorrelationID = pkt.CorrelationID
}
