package counters

import (
	"errors"
	"fmt"
	"strings"
)

// Dimension is an axis over which a hardware counter is instanced.
type Dimension uint8

const (
	DimensionNone Dimension = iota
	DimensionXCC
	DimensionAID
	DimensionShaderEngine
	DimensionAgent
	DimensionShaderArray
	DimensionWGP
	DimensionInstance
	dimensionLast
)

var (
	ErrUnknownDimension = errors.New("Unknown Dimension")
	ErrDimensionIndex   = errors.New("dimension index out of range")
)

var dimensionNames = map[Dimension]string{
	DimensionNone:         "DIMENSION_NONE",
	DimensionXCC:          "DIMENSION_XCC",
	DimensionAID:          "DIMENSION_AID",
	DimensionShaderEngine: "DIMENSION_SHADER_ENGINE",
	DimensionAgent:        "DIMENSION_AGENT",
	DimensionShaderArray:  "DIMENSION_SHADER_ARRAY",
	DimensionWGP:          "DIMENSION_WGP",
	DimensionInstance:     "DIMENSION_INSTANCE",
}

var dimensionAliases = map[string]Dimension{
	"XCC":      DimensionXCC,
	"AID":      DimensionAID,
	"SE":       DimensionShaderEngine,
	"AGENT":    DimensionAgent,
	"SA":       DimensionShaderArray,
	"WGP":      DimensionWGP,
	"INSTANCE": DimensionInstance,
}

func (d Dimension) String() string {
	if name, ok := dimensionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DIMENSION_%d", uint8(d))
}

// DimensionByName accepts both the long form (DIMENSION_SHADER_ENGINE) and
// the short aliases used in counter expressions (SE).
func DimensionByName(name string) (Dimension, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if d, ok := dimensionAliases[upper]; ok {
		return d, nil
	}
	for d, n := range dimensionNames {
		if n == upper && d != DimensionNone {
			return d, nil
		}
	}
	return DimensionNone, fmt.Errorf("%w - %s", ErrUnknownDimension, name)
}

// DimensionSet is a bitmask of dimensions.
type DimensionSet uint16

func NewDimensionSet(dims ...Dimension) DimensionSet {
	var s DimensionSet
	for _, d := range dims {
		s = s.Add(d)
	}
	return s
}

func (s DimensionSet) Add(d Dimension) DimensionSet {
	if d == DimensionNone || d >= dimensionLast {
		return s
	}
	return s | 1<<d
}

func (s DimensionSet) Remove(d Dimension) DimensionSet { return s &^ (1 << d) }

func (s DimensionSet) Has(d Dimension) bool { return s&(1<<d) != 0 }

func (s DimensionSet) Minus(o DimensionSet) DimensionSet { return s &^ o }

func (s DimensionSet) Empty() bool { return s == 0 }

func (s DimensionSet) Len() int {
	n := 0
	for d := DimensionXCC; d < dimensionLast; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Slice returns the dimensions in ascending order.
func (s DimensionSet) Slice() []Dimension {
	out := make([]Dimension, 0, s.Len())
	for d := DimensionXCC; d < dimensionLast; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s DimensionSet) String() string {
	names := make([]string, 0, s.Len())
	for _, d := range s.Slice() {
		names = append(names, d.String())
	}
	return "[" + strings.Join(names, ",") + "]"
}

const (
	dimBits        = 6
	dimMask        = (1 << dimBits) - 1
	counterIDShift = 48
	positionMask   = (uint64(1) << counterIDShift) - 1

	// MaxDimensionIndex is the largest instance index a dimension can encode.
	MaxDimensionIndex = dimMask
)

// InstanceID packs a counter id (bits 48..63) with one 6 bit index per
// dimension.
type InstanceID uint64

func (id InstanceID) CounterID() uint64 { return uint64(id) >> counterIDShift }

func (id InstanceID) WithCounter(counter uint64) InstanceID {
	return InstanceID(uint64(id)&positionMask | counter<<counterIDShift)
}

func (id InstanceID) Dim(d Dimension) uint64 {
	if d == DimensionNone || d >= dimensionLast {
		return 0
	}
	return (uint64(id) >> dimShift(d)) & dimMask
}

// WithDim sets the index of d. It panics when idx exceeds
// MaxDimensionIndex; use SetDim for untrusted indexes.
func (id InstanceID) WithDim(d Dimension, idx uint64) InstanceID {
	out, err := id.SetDim(d, idx)
	if err != nil {
		panic(err)
	}
	return out
}

func (id InstanceID) SetDim(d Dimension, idx uint64) (InstanceID, error) {
	if d == DimensionNone || d >= dimensionLast {
		return id, nil
	}
	if idx > MaxDimensionIndex {
		return id, fmt.Errorf("%w: %s=%d", ErrDimensionIndex, d, idx)
	}
	shift := dimShift(d)
	cleared := uint64(id) &^ (uint64(dimMask) << shift)
	return InstanceID(cleared | idx<<shift), nil
}

// Position drops the counter id, leaving only the dimension indexes.
func (id InstanceID) Position() uint64 { return uint64(id) & positionMask }

func dimShift(d Dimension) uint { return uint(d-1) * dimBits }
