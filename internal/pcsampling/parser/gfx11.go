package parser

// GFX11 raw encodings of the snapshot fields.
const (
	gfx11InstValu = iota
	gfx11InstScalar
	gfx11InstTex
	gfx11InstLDS
	gfx11InstLDSDirect
	gfx11InstExp
	gfx11InstMessage
	gfx11InstBarrier
	gfx11InstBranchNotTaken
	gfx11InstBranchTaken
	gfx11InstJump
	gfx11InstOther
	gfx11InstNoInst
	gfx11InstDualValu
	gfx11InstFlat
	gfx11InstMatrix
)

const (
	gfx11ArbValu = iota
	gfx11ArbScalar
	gfx11ArbVmemTex
	gfx11ArbLDS
	gfx11ArbLDSDirect
	gfx11ArbExp
	gfx11ArbBrmsg
)

var gfx11Inst = lut(map[int]InstType{
	gfx11InstValu:           InstValu,
	gfx11InstScalar:         InstScalar,
	gfx11InstTex:            InstTex,
	gfx11InstLDS:            InstLDS,
	gfx11InstLDSDirect:      InstLDSDirect,
	gfx11InstExp:            InstExport,
	gfx11InstMessage:        InstMessage,
	gfx11InstBarrier:        InstBarrier,
	gfx11InstBranchNotTaken: InstBranchNotTaken,
	gfx11InstBranchTaken:    InstBranchTaken,
	gfx11InstJump:           InstJump,
	gfx11InstOther:          InstOther,
	gfx11InstNoInst:         InstNoInst,
	gfx11InstDualValu:       InstDualValu,
	gfx11InstFlat:           InstFlat,
	gfx11InstMatrix:         InstMatrix,
}, InstOther)

var gfx11Reason = lut(map[int]Reason{
	0: ReasonNotAvailable,
	1: ReasonALU,
	2: ReasonWaitcnt,
	3: ReasonInternal,
	4: ReasonBarrier,
	5: ReasonArbiter,
	6: ReasonExStall,
	7: ReasonSleep,
}, ReasonNotAvailable)

var gfx11Arb = []ArbState{
	gfx11ArbValu:      ArbValu,
	gfx11ArbScalar:    ArbScalar,
	gfx11ArbVmemTex:   ArbVmemTex,
	gfx11ArbLDS:       ArbLDS,
	gfx11ArbLDSDirect: ArbLDSDirect,
	gfx11ArbExp:       ArbExp,
	gfx11ArbBrmsg:     ArbBrmsg,
}

// gfx11HwID decodes HW_ID1. Pipe, workgroup, vm, queue and me are not
// reported by this register and stay zero.
//
//	4:0 wave   9:8 simd   13:10 wgp   16 sa   20:18 se
func gfx11HwID(reg uint32) HwID {
	return HwID{
		Wave:         bits(reg, 4, 0),
		SIMD:         bits(reg, 9, 8),
		CUOrWGP:      bits(reg, 13, 10),
		ShaderArray:  bits(reg, 16, 16),
		ShaderEngine: bits(reg, 20, 18),
	}
}

func gfx11HostTrap(g *GenericSample) HostTrapRecord {
	s := decodeHostTrapSample(g)
	rec := hostTrapHeader(s)
	rec.HwID = gfx11HwID(s.HwID)
	return rec
}

// Memory counters are reported in the third snapshot word using the public
// bit layout.
func gfx11Stochastic(g *GenericSample) StochasticRecord {
	s := decodeSnapshotSample(g)
	rec := stochasticHeader(s)
	rec.HwID = gfx11HwID(s.HwID)

	d := s.PerfSnapshotData
	rec.Flags.Valid = d&(^d>>23)&1 == 1
	rec.Flags.HasMemoryCounter = true
	rec.WaveIssued = d>>1&1 == 1
	rec.InstType = gfx11Inst[d>>2&0xF]
	rec.Snapshot = Snapshot{
		Reason: gfx11Reason[d>>6&0x7],
		Issue:  translateArb(gfx11Arb, d>>9&0x7F),
		Stall:  translateArb(gfx11Arb, d>>16&0x7F),
	}
	rec.MemoryCounters = UnpackMemoryCounters(s.PerfSnapshotData2)
	return rec
}
