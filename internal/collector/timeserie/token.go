package timeserie

import (
	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/pcsampling/parser"
)

// PcSampleToken is one PC sample reduced to what the time series keeps.
type PcSampleToken struct {
	Timestamp   uint64
	DispatchID  uint64
	Correlation uint64
	PC          uint64
	Kind        string
	InstType    string
	Reason      string
	Issued      bool
}

func EntryToToken(ev any) *PcSampleToken {
	e, ok := ev.(buffer.Entry)
	if !ok || e.Category != buffer.CategoryPCSampling {
		return nil
	}

	switch r := e.Record.(type) {
	case parser.HostTrapRecord:
		return &PcSampleToken{
			Timestamp:   r.Timestamp,
			DispatchID:  r.DispatchID,
			Correlation: r.CorrelationID.Internal,
			PC:          r.PC.Offset,
			Kind:        e.Kind.String(),
			Issued:      true,
		}

	case parser.StochasticRecord:
		if !r.Flags.Valid {
			return nil
		}
		return &PcSampleToken{
			Timestamp:   r.Timestamp,
			DispatchID:  r.DispatchID,
			Correlation: r.CorrelationID.Internal,
			PC:          r.PC.Offset,
			Kind:        e.Kind.String(),
			InstType:    r.InstType.String(),
			Reason:      r.Snapshot.Reason.String(),
			Issued:      r.WaveIssued,
		}
	default:
		return nil
	}
}
