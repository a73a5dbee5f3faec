package counters

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
)

type NodeKind int

const (
	NodeNone NodeKind = iota
	NodeAddition
	NodeDivide
	NodeMultiply
	NodeNumber
	NodeRange
	NodeReduce
	NodeReference
	NodeSelect
	NodeSubtraction
	NodeConstant
	NodeAccumulate
)

var nodeKindNames = map[NodeKind]string{
	NodeNone:        "NONE",
	NodeAddition:    "ADDITION_NODE",
	NodeDivide:      "DIVIDE_NODE",
	NodeMultiply:    "MULTIPLY_NODE",
	NodeNumber:      "NUMBER_NODE",
	NodeRange:       "RANGE_NODE",
	NodeReduce:      "REDUCE_NODE",
	NodeReference:   "REFERENCE_NODE",
	NodeSelect:      "SELECT_NODE",
	NodeSubtraction: "SUBTRACTION_NODE",
	NodeConstant:    "CONSTANT_NODE",
	NodeAccumulate:  "ACCUMULATE_NODE",
}

func (k NodeKind) String() string {
	if s, ok := nodeKindNames[k]; ok {
		return s
	}
	return "NodeKind(" + strconv.Itoa(int(k)) + ")"
}

func (k NodeKind) isArithmetic() bool {
	switch k {
	case NodeAddition, NodeSubtraction, NodeMultiply, NodeDivide:
		return true
	}
	return false
}

type AccumulateOp int

const (
	AccumulateNone AccumulateOp = iota
	AccumulateLowResolution
	AccumulateHighResolution
)

var accumulateOps = map[string]AccumulateOp{
	"NONE":     AccumulateNone,
	"LOW_RES":  AccumulateLowResolution,
	"HIGH_RES": AccumulateHighResolution,
}

func (op AccumulateOp) String() string {
	switch op {
	case AccumulateLowResolution:
		return "LOW_RES"
	case AccumulateHighResolution:
		return "HIGH_RES"
	default:
		return "NONE"
	}
}

// Reduce operations understood by the evaluator.
const (
	ReduceSum = "SUM"
	ReduceAvg = "AVG"
	ReduceMin = "MIN"
	ReduceMax = "MAX"
)

var (
	ErrUnknownReduceOp     = errors.New("unknown reduce operation")
	ErrUnknownAccumulateOp = errors.New("unknown accumulate operation")
	ErrBadSelector         = errors.New("malformed dimension selector")
	ErrMalformedNode       = errors.New("malformed expression node")
)

type valueKind uint8

const (
	valueAbsent valueKind = iota
	valueString
	valueInt
)

// Value holds either nothing, a counter/constant name or an integer literal.
type Value struct {
	kind valueKind
	str  string
	num  int64
}

func StringValue(s string) Value { return Value{kind: valueString, str: s} }

func IntValue(v int64) Value { return Value{kind: valueInt, num: v} }

func (v Value) IsAbsent() bool { return v.kind == valueAbsent }

func (v Value) Str() (string, bool) { return v.str, v.kind == valueString }

func (v Value) Int() (int64, bool) { return v.num, v.kind == valueInt }

// Node is one vertex of a derived counter expression. Children are owned by
// their parent; a Node is never shared between two parents.
type Node struct {
	Kind             NodeKind
	ReduceOp         string
	AccumulateOp     AccumulateOp
	Value            Value
	Children         []*Node
	ReduceDimensions DimensionSet
	SelectDimensions map[Dimension]string
	Range            *Node
}

func NewReferenceNode(name string) *Node {
	return &Node{Kind: NodeReference, Value: StringValue(name)}
}

func NewConstantNode(name string) *Node {
	return &Node{Kind: NodeConstant, Value: StringValue(name)}
}

func NewNumberNode(v int64) *Node {
	return &Node{Kind: NodeNumber, Value: IntValue(v)}
}

// NewBinaryNode builds an arithmetic node over exactly two operands.
func NewBinaryNode(kind NodeKind, lhs, rhs *Node) (*Node, error) {
	if !kind.isArithmetic() {
		return nil, fmt.Errorf("%w: %s is not arithmetic", ErrMalformedNode, kind)
	}
	if lhs == nil || rhs == nil {
		return nil, fmt.Errorf("%w: %s needs two operands", ErrMalformedNode, kind)
	}
	return &Node{Kind: kind, Children: []*Node{lhs, rhs}}, nil
}

// NewRangeNode takes "lo:hi" (inclusive) or a single index.
func NewRangeNode(sel string) (*Node, error) {
	if _, _, err := parseSelector(sel); err != nil {
		return nil, err
	}
	return &Node{Kind: NodeRange, Value: StringValue(sel)}, nil
}

// NewReduceNode collapses dims of counter with op. An empty dims list
// collapses every dimension.
func NewReduceNode(counter *Node, op string, dims []string) (*Node, error) {
	if counter == nil {
		return nil, fmt.Errorf("%w: reduce needs a counter", ErrMalformedNode)
	}
	op = strings.ToUpper(strings.TrimSpace(op))
	switch op {
	case ReduceSum, ReduceAvg, ReduceMin, ReduceMax:
	case "":
		return nil, fmt.Errorf("%w: empty", ErrUnknownReduceOp)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownReduceOp, op)
	}

	var set DimensionSet
	for _, name := range dims {
		d, err := DimensionByName(name)
		if err != nil {
			return nil, err
		}
		set = set.Add(d)
	}

	return &Node{
		Kind:             NodeReduce,
		ReduceOp:         op,
		Children:         []*Node{counter},
		ReduceDimensions: set,
	}, nil
}

// NewSelectNode keeps only the instances matching dims (DIM -> "N" or "lo:hi").
func NewSelectNode(counter *Node, dims map[string]string) (*Node, error) {
	if counter == nil {
		return nil, fmt.Errorf("%w: select needs a counter", ErrMalformedNode)
	}
	n := &Node{
		Kind:             NodeSelect,
		Children:         []*Node{counter},
		SelectDimensions: make(map[Dimension]string, len(dims)),
	}
	if len(dims) == 0 {
		logutil.GetLogger().Error("select_dimension_set creation failed")
		return n, nil
	}
	for name, sel := range dims {
		d, err := DimensionByName(name)
		if err != nil {
			return nil, err
		}
		if _, _, err := parseSelector(sel); err != nil {
			return nil, err
		}
		n.SelectDimensions[d] = sel
	}
	return n, nil
}

func NewAccumulateNode(name, op string) (*Node, error) {
	aop, ok := accumulateOps[strings.ToUpper(strings.TrimSpace(op))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccumulateOp, op)
	}
	return &Node{Kind: NodeAccumulate, Value: StringValue(name), AccumulateOp: aop}, nil
}

// parseSelector returns the inclusive bounds of "N" or "lo:hi".
func parseSelector(sel string) (uint64, uint64, error) {
	sel = strings.TrimSpace(sel)
	lo, hi, isRange := strings.Cut(sel, ":")
	l, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadSelector, sel)
	}
	if !isRange {
		return l, l, nil
	}
	h, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 64)
	if err != nil || h < l {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadSelector, sel)
	}
	return l, h, nil
}

// Walk visits n and its descendants depth first, range children included.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
	n.Range.Walk(fn)
}

// Clone deep copies the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		out.Children[i] = c.Clone()
	}
	if n.SelectDimensions != nil {
		out.SelectDimensions = make(map[Dimension]string, len(n.SelectDimensions))
		for d, s := range n.SelectDimensions {
			out.SelectDimensions[d] = s
		}
	}
	out.Range = n.Range.Clone()
	return &out
}

// String renders the canonical form of the tree. Two trees with the same
// string evaluate identically.
func (n *Node) String() string {
	var b strings.Builder
	n.format(&b)
	return b.String()
}

func (n *Node) format(b *strings.Builder) {
	if n == nil {
		b.WriteString("null")
		return
	}
	fmt.Fprintf(b, `{"Type":"%s", "REDUCE_OP":"%s", "ACCUMULATE_OP":"%s",`, n.Kind, n.ReduceOp, n.AccumulateOp)
	if s, ok := n.Value.Str(); ok {
		fmt.Fprintf(b, ` "Value":"%s",`, s)
	} else if v, ok := n.Value.Int(); ok {
		fmt.Fprintf(b, ` "Value":%d,`, v)
	}
	if n.Range != nil {
		b.WriteString(` "Range":`)
		n.Range.format(b)
		b.WriteString(",")
	}
	b.WriteString(` "Counter_Set":[`)
	for i, c := range n.Children {
		if i > 0 {
			b.WriteString(",")
		}
		c.format(b)
	}
	b.WriteString(`], "Reduce_Dimension_Set":[`)
	for i, d := range n.ReduceDimensions.Slice() {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(b, `"%d"`, d)
	}
	b.WriteString(`], "Select_Dimension_Map":[`)
	dims := make([]Dimension, 0, len(n.SelectDimensions))
	for d := range n.SelectDimensions {
		dims = append(dims, d)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	for i, d := range dims {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(b, `"%s:%s"`, d, n.SelectDimensions[d])
	}
	b.WriteString("]}")
}
