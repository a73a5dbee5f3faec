package counters

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
)

// Record is one counter value of one dispatch.
type Record struct {
	ID         InstanceID
	Value      float64
	DispatchID uint64
	AgentID    uint64
	UserData   uint64
}

// Agent is the subset of a GPU agent the counter pipeline needs.
type Agent struct {
	ID         uint64             `yaml:"id"`
	Name       string             `yaml:"name"`
	Arch       string             `yaml:"arch"`
	GfxMajor   int                `yaml:"gfx_major"`
	Properties map[string]float64 `yaml:"properties"`
}

// Reading is one raw hardware value handed over by the runtime for a
// completed dispatch. Intervals optionally carries the per-interval values
// an accumulating counter was built from.
type Reading struct {
	ID        InstanceID
	Dims      DimensionSet
	Value     uint64
	Intervals []uint64
}

// AQLPacket holds the counter readings collected by the profiling packets of
// one dispatch.
type AQLPacket struct {
	Readings []Reading
}

// CounterSet is the decoded result of one counter: the dimensions it spans
// and one record per instance, ordered by position.
type CounterSet struct {
	Dims    DimensionSet
	Records []Record
	Series  map[InstanceID][]float64
}

// DecodedPacket maps a counter id to its decoded values.
type DecodedPacket map[uint64]*CounterSet

var (
	ErrInconsistentDimensions = errors.New("counter readings disagree on dimensions")
	ErrMissingProperty        = errors.New("agent does not expose property")
)

type PacketGenerator interface {
	Decode(pkt *AQLPacket) (DecodedPacket, error)
}

// ReadingsDecoder decodes the readings of the counters listed in Required.
// A nil Required keeps every reading.
type ReadingsDecoder struct {
	Required map[uint64]struct{}
}

func NewReadingsDecoder(ids ...uint64) *ReadingsDecoder {
	req := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		req[id] = struct{}{}
	}
	return &ReadingsDecoder{Required: req}
}

func (d *ReadingsDecoder) Decode(pkt *AQLPacket) (DecodedPacket, error) {
	out := make(DecodedPacket)
	for _, r := range pkt.Readings {
		cid := r.ID.CounterID()
		if d.Required != nil {
			if _, ok := d.Required[cid]; !ok {
				continue
			}
		}

		if err := checkPosition(r); err != nil {
			return nil, err
		}

		set, ok := out[cid]
		if !ok {
			set = &CounterSet{Dims: r.Dims}
			out[cid] = set
		} else if set.Dims != r.Dims {
			return nil, fmt.Errorf("%w: counter %d has %s and %s", ErrInconsistentDimensions, cid, set.Dims, r.Dims)
		}

		set.Records = append(set.Records, Record{ID: r.ID, Value: float64(r.Value)})
		if len(r.Intervals) > 0 {
			if set.Series == nil {
				set.Series = make(map[InstanceID][]float64)
			}
			series := make([]float64, len(r.Intervals))
			for i, v := range r.Intervals {
				series[i] = float64(v)
			}
			set.Series[r.ID] = series
		}
	}

	for _, set := range out {
		sortRecords(set.Records)
	}
	return out, nil
}

// checkPosition rejects a reading indexed along a dimension it does not
// span, which is how an index too large for its own dimension shows up once
// packed.
func checkPosition(r Reading) error {
	for d := DimensionXCC; d < dimensionLast; d++ {
		if idx := r.ID.Dim(d); idx != 0 && !r.Dims.Has(d) {
			return fmt.Errorf("%w: counter %d reading has %s=%d outside %s",
				ErrDimensionIndex, r.ID.CounterID(), d, idx, r.Dims)
		}
	}
	return nil
}

// ReadSpecialCounters adds the agent derived counters the profile needs.
func ReadSpecialCounters(agent *Agent, required map[uint64]Metric, pkt DecodedPacket) error {
	var err error
	for id, m := range required {
		v, ok := agent.Properties[m.Special]
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s (%s)", ErrMissingProperty, m.Special, agent.Name))
			continue
		}
		pkt[id] = &CounterSet{
			Records: []Record{{ID: InstanceID(0).WithCounter(id), Value: v}},
		}
	}
	return err
}

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].ID.Position() < recs[j].ID.Position()
	})
}
