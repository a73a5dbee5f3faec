package parser

// GFX9 raw encodings of the snapshot fields.
const (
	gfx9InstValu = iota
	gfx9InstMatrix
	gfx9InstScalar
	gfx9InstTex
	gfx9InstLDS
	gfx9InstFlat
	gfx9InstExp
	gfx9InstMessage
	gfx9InstBarrier
	gfx9InstBranchNotTaken
	gfx9InstBranchTaken
	gfx9InstJump
	gfx9InstOther
	gfx9InstNoInst
)

const (
	gfx9ArbValu = iota
	gfx9ArbMatrix
	gfx9ArbScalar
	gfx9ArbVmemTex
	gfx9ArbLDS
	gfx9ArbFlat
	gfx9ArbExp
	gfx9ArbMisc
)

var gfx9Inst = lut(map[int]InstType{
	gfx9InstValu:           InstValu,
	gfx9InstMatrix:         InstMatrix,
	gfx9InstScalar:         InstScalar,
	gfx9InstTex:            InstTex,
	gfx9InstLDS:            InstLDS,
	gfx9InstFlat:           InstFlat,
	gfx9InstExp:            InstExport,
	gfx9InstMessage:        InstMessage,
	gfx9InstBarrier:        InstBarrier,
	gfx9InstBranchNotTaken: InstBranchNotTaken,
	gfx9InstBranchTaken:    InstBranchTaken,
	gfx9InstJump:           InstJump,
	gfx9InstOther:          InstOther,
	gfx9InstNoInst:         InstNoInst,
}, InstOther)

// GFX9 reasons share the public numbering; SLEEP does not exist there.
var gfx9Reason = lut(map[int]Reason{
	0: ReasonNotAvailable,
	1: ReasonALU,
	2: ReasonWaitcnt,
	3: ReasonInternal,
	4: ReasonBarrier,
	5: ReasonArbiter,
	6: ReasonExStall,
	7: ReasonOtherWait,
}, ReasonNotAvailable)

var gfx9Arb = []ArbState{
	gfx9ArbValu:    ArbValu,
	gfx9ArbMatrix:  ArbMatrix,
	gfx9ArbScalar:  ArbScalar,
	gfx9ArbVmemTex: ArbVmemTex,
	gfx9ArbLDS:     ArbLDS,
	gfx9ArbFlat:    ArbFlat,
	gfx9ArbExp:     ArbExp,
	gfx9ArbMisc:    ArbMisc,
}

// gfx9HwID decodes the HW_ID register.
//
//	3:0 wave   5:4 simd   7:6 pipe   11:8 cu   12 sa   15:13 se
//	19:16 tg   23:20 vm   26:24 queue   29:27 state (ignored)   31:30 me
func gfx9HwID(reg uint32) HwID {
	return HwID{
		Wave:         bits(reg, 3, 0),
		SIMD:         bits(reg, 5, 4),
		Pipe:         bits(reg, 7, 6),
		CUOrWGP:      bits(reg, 11, 8),
		ShaderArray:  bits(reg, 12, 12),
		ShaderEngine: bits(reg, 15, 13),
		Workgroup:    bits(reg, 19, 16),
		VM:           bits(reg, 23, 20),
		Queue:        bits(reg, 26, 24),
		Microengine:  bits(reg, 31, 30),
	}
}

func gfx9HostTrap(g *GenericSample) HostTrapRecord {
	s := decodeHostTrapSample(g)
	rec := hostTrapHeader(s)
	rec.HwID = gfx9HwID(s.HwID)
	rec.HwID.Chiplet = uint8(s.ChipletAndWaveID >> 8)
	return rec
}

func gfx9Stochastic(g *GenericSample) StochasticRecord {
	s := decodeSnapshotSample(g)
	rec := stochasticHeader(s)
	rec.HwID = gfx9HwID(s.HwID)
	rec.HwID.Chiplet = uint8(s.ChipletAndWaveID >> 8)
	rec.WaveCount = s.PerfSnapshotData1 & 0x3F

	d := s.PerfSnapshotData
	rec.Flags.Valid = d&(^d>>26)&1 == 1
	rec.WaveIssued = d>>1&1 == 1
	rec.InstType = gfx9Inst[d>>3&0xF]
	rec.Snapshot = Snapshot{
		Reason:        gfx9Reason[d>>7&0x7],
		Issue:         translateArb(gfx9Arb, d>>10&0xFF),
		Stall:         translateArb(gfx9Arb, d>>18&0xFF),
		DualIssueValu: d>>2&1 == 1,
	}
	return rec
}
