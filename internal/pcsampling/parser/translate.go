package parser

// lutSize covers every 5 bit raw encoding.
const lutSize = 32

// lut expands a sparse raw -> public mapping into a dense table, filling
// unknown encodings with fallback.
func lut[T any](m map[int]T, fallback T) [lutSize]T {
	var out [lutSize]T
	for i := range out {
		out[i] = fallback
	}
	for raw, v := range m {
		out[raw] = v
	}
	return out
}

// translateArb maps a raw arbiter bitmask through table, one bit per entry.
func translateArb(table []ArbState, raw uint32) ArbState {
	var out ArbState
	for i, s := range table {
		if raw>>uint(i)&1 == 1 {
			out |= s
		}
	}
	return out
}

// bits extracts reg[hi:lo].
func bits(reg uint32, hi, lo uint) uint8 {
	return uint8(reg >> lo & (1<<(hi-lo+1) - 1))
}

func pcOf(raw uint64) PC { return PC{Offset: raw} }

func hostTrapHeader(s HostTrapSample) HostTrapRecord {
	return HostTrapRecord{
		Size:        HostTrapRecordSize,
		PC:          pcOf(s.PC),
		ExecMask:    s.ExecMask,
		WorkgroupID: Dim3{X: s.WorkgroupX, Y: s.WorkgroupY, Z: s.WorkgroupZ},
		WaveInGroup: uint8(s.ChipletAndWaveID & 0x3F),
		Timestamp:   s.Timestamp,
	}
}

func stochasticHeader(s SnapshotSample) StochasticRecord {
	return StochasticRecord{
		Size:        StochasticRecordSize,
		PC:          pcOf(s.PC),
		ExecMask:    s.ExecMask,
		WorkgroupID: Dim3{X: s.WorkgroupX, Y: s.WorkgroupY, Z: s.WorkgroupZ},
		WaveInGroup: uint8(s.ChipletAndWaveID & 0x3F),
		Timestamp:   s.Timestamp,
	}
}
