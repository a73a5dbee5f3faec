package counters

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrDimensionMismatch   = errors.New("dimension sets of operands do not match")
	ErrCounterNotCollected = errors.New("counter missing from decoded packet")
)

// lowResolutionStride is the sampling cadence of LOW_RES accumulation: the
// register is read every fourth interval.
const lowResolutionStride = 4

// AST is the immutable, evaluable form of one metric. It is safe to evaluate
// from several goroutines at once.
type AST struct {
	metric   Metric
	root     *Node
	refs     map[string]Metric
	keys     map[*Node]string
	required []uint64
	specials map[uint64]Metric
}

// NewAST wraps root for metric m. refs maps every name used by the tree to
// its definition.
func NewAST(m Metric, root *Node, refs map[string]Metric) (*AST, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: %s has no expression", ErrMalformedNode, m.Name)
	}
	a := &AST{
		metric:   m,
		root:     root,
		refs:     refs,
		keys:     make(map[*Node]string),
		specials: make(map[uint64]Metric),
	}
	seen := make(map[uint64]bool)
	var err error
	root.Walk(func(n *Node) {
		a.keys[n] = n.String()
		switch n.Kind {
		case NodeReference, NodeAccumulate, NodeConstant:
		default:
			return
		}
		name, _ := n.Value.Str()
		ref, ok := refs[name]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownMetric, name)
			return
		}
		if ref.IsSpecial() {
			a.specials[ref.ID] = ref
			return
		}
		if !seen[ref.ID] {
			seen[ref.ID] = true
			a.required = append(a.required, ref.ID)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(a.required, func(i, j int) bool { return a.required[i] < a.required[j] })
	return a, nil
}

func (a *AST) Metric() Metric { return a.metric }

func (a *AST) Root() *Node { return a.root }

// RequiredCounters lists the hardware counter ids the tree reads.
func (a *AST) RequiredCounters() []uint64 { return a.required }

// SpecialCounters lists the agent property counters the tree reads.
func (a *AST) SpecialCounters() map[uint64]Metric { return a.specials }

// SetOutID relabels records with the id of the metric they were computed for.
func (a *AST) SetOutID(recs []Record) {
	for i := range recs {
		recs[i].ID = recs[i].ID.WithCounter(a.metric.ID)
	}
}

// result is an intermediate set of records spanning dims.
type result struct {
	dims DimensionSet
	recs []Record
}

func (r result) scalar() bool { return r.dims.Empty() && len(r.recs) == 1 }

// evaluation holds the scratch state of one Evaluate call.
type evaluation struct {
	ast  *AST
	pkt  DecodedPacket
	memo map[string]result
}

// Evaluate computes the metric over one decoded dispatch. The returned slice
// is owned by the caller.
func (a *AST) Evaluate(pkt DecodedPacket) ([]Record, error) {
	ev := &evaluation{ast: a, pkt: pkt, memo: make(map[string]result)}
	res, err := ev.eval(a.root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.metric.Name, err)
	}
	out := make([]Record, len(res.recs))
	copy(out, res.recs)
	return out, nil
}

func (ev *evaluation) eval(n *Node) (result, error) {
	key := ev.ast.keys[n]
	if r, ok := ev.memo[key]; ok {
		return r, nil
	}
	r, err := ev.compute(n)
	if err != nil {
		return result{}, err
	}
	ev.memo[key] = r
	return r, nil
}

func (ev *evaluation) compute(n *Node) (result, error) {
	switch n.Kind {
	case NodeNumber:
		v, _ := n.Value.Int()
		return result{recs: []Record{{Value: float64(v)}}}, nil
	case NodeConstant:
		return ev.constant(n)
	case NodeReference:
		return ev.reference(n)
	case NodeAccumulate:
		return ev.accumulate(n)
	case NodeAddition, NodeSubtraction, NodeMultiply, NodeDivide:
		if len(n.Children) != 2 {
			return result{}, fmt.Errorf("%w: %s with %d operands", ErrMalformedNode, n.Kind, len(n.Children))
		}
		lhs, err := ev.eval(n.Children[0])
		if err != nil {
			return result{}, err
		}
		rhs, err := ev.eval(n.Children[1])
		if err != nil {
			return result{}, err
		}
		return arithmetic(n.Kind, lhs, rhs)
	case NodeReduce:
		if len(n.Children) != 1 {
			return result{}, fmt.Errorf("%w: reduce with %d children", ErrMalformedNode, len(n.Children))
		}
		in, err := ev.eval(n.Children[0])
		if err != nil {
			return result{}, err
		}
		return reduce(n.ReduceOp, n.ReduceDimensions, in)
	case NodeSelect:
		if len(n.Children) != 1 {
			return result{}, fmt.Errorf("%w: select with %d children", ErrMalformedNode, len(n.Children))
		}
		in, err := ev.eval(n.Children[0])
		if err != nil {
			return result{}, err
		}
		return selectInstances(n.SelectDimensions, in)
	}
	return result{}, fmt.Errorf("%w: cannot evaluate %s", ErrMalformedNode, n.Kind)
}

func (ev *evaluation) lookup(n *Node) (Metric, *CounterSet, error) {
	name, _ := n.Value.Str()
	m, ok := ev.ast.refs[name]
	if !ok {
		return Metric{}, nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	set, ok := ev.pkt[m.ID]
	if !ok || set == nil {
		return m, nil, fmt.Errorf("%w: %s", ErrCounterNotCollected, name)
	}
	return m, set, nil
}

func (ev *evaluation) constant(n *Node) (result, error) {
	_, set, err := ev.lookup(n)
	if err != nil {
		return result{}, err
	}
	if len(set.Records) == 0 {
		return result{}, nil
	}
	return result{recs: []Record{{Value: set.Records[0].Value}}}, nil
}

func (ev *evaluation) reference(n *Node) (result, error) {
	_, set, err := ev.lookup(n)
	if err != nil {
		return result{}, err
	}
	if n.Range == nil {
		recs := make([]Record, len(set.Records))
		copy(recs, set.Records)
		return result{dims: set.Dims, recs: recs}, nil
	}
	sel, _ := n.Range.Value.Str()
	lo, hi, err := parseSelector(sel)
	if err != nil {
		return result{}, err
	}
	recs := make([]Record, 0, len(set.Records))
	for _, r := range set.Records {
		if idx := r.ID.Dim(DimensionInstance); idx >= lo && idx <= hi {
			recs = append(recs, r)
		}
	}
	return result{dims: set.Dims, recs: recs}, nil
}

func (ev *evaluation) accumulate(n *Node) (result, error) {
	_, set, err := ev.lookup(n)
	if err != nil {
		return result{}, err
	}
	recs := make([]Record, len(set.Records))
	for i, r := range set.Records {
		recs[i] = r
		series, ok := set.Series[r.ID]
		if !ok || n.AccumulateOp == AccumulateNone {
			continue
		}
		recs[i].Value = integrate(series, n.AccumulateOp)
	}
	return result{dims: set.Dims, recs: recs}, nil
}

func integrate(series []float64, op AccumulateOp) float64 {
	var sum float64
	switch op {
	case AccumulateHighResolution:
		for _, v := range series {
			sum += v
		}
	case AccumulateLowResolution:
		for i := 0; i < len(series); i += lowResolutionStride {
			sum += series[i]
		}
		sum *= lowResolutionStride
	}
	return sum
}

func arithmetic(kind NodeKind, lhs, rhs result) (result, error) {
	if len(lhs.recs) == 0 || len(rhs.recs) == 0 {
		return result{}, nil
	}

	var out result
	switch {
	case lhs.dims == rhs.dims && len(lhs.recs) == len(rhs.recs):
		out = result{dims: lhs.dims, recs: make([]Record, len(lhs.recs))}
		for i := range lhs.recs {
			out.recs[i] = lhs.recs[i]
			out.recs[i].Value = apply(kind, lhs.recs[i].Value, rhs.recs[i].Value)
		}
	case rhs.scalar():
		out = result{dims: lhs.dims, recs: make([]Record, len(lhs.recs))}
		for i := range lhs.recs {
			out.recs[i] = lhs.recs[i]
			out.recs[i].Value = apply(kind, lhs.recs[i].Value, rhs.recs[0].Value)
		}
	case lhs.scalar():
		out = result{dims: rhs.dims, recs: make([]Record, len(rhs.recs))}
		for i := range rhs.recs {
			out.recs[i] = rhs.recs[i]
			out.recs[i].Value = apply(kind, lhs.recs[0].Value, rhs.recs[i].Value)
		}
	default:
		return result{}, fmt.Errorf("%w: %s (%d records) %s %s (%d records)",
			ErrDimensionMismatch, lhs.dims, len(lhs.recs), kind, rhs.dims, len(rhs.recs))
	}
	return out, nil
}

func apply(kind NodeKind, a, b float64) float64 {
	switch kind {
	case NodeAddition:
		return a + b
	case NodeSubtraction:
		return a - b
	case NodeMultiply:
		return a * b
	case NodeDivide:
		if b == 0 {
			return 0
		}
		return a / b
	}
	return 0
}

func reduce(op string, dims DimensionSet, in result) (result, error) {
	if dims.Empty() {
		dims = in.dims
	}
	outDims := in.dims.Minus(dims)

	type group struct {
		rec    Record
		values []float64
	}
	var order []InstanceID
	groups := make(map[InstanceID]*group)
	for _, r := range in.recs {
		id := r.ID
		for _, d := range dims.Slice() {
			id = id.WithDim(d, 0)
		}
		g, ok := groups[id]
		if !ok {
			rec := r
			rec.ID = id
			g = &group{rec: rec}
			groups[id] = g
			order = append(order, id)
		}
		g.values = append(g.values, r.Value)
	}

	out := result{dims: outDims, recs: make([]Record, 0, len(order))}
	for _, id := range order {
		g := groups[id]
		v, err := reduceValues(op, g.values)
		if err != nil {
			return result{}, err
		}
		g.rec.Value = v
		out.recs = append(out.recs, g.rec)
	}
	sortRecords(out.recs)
	return out, nil
}

func reduceValues(op string, values []float64) (float64, error) {
	switch op {
	case ReduceSum, ReduceAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		if op == ReduceAvg {
			sum /= float64(len(values))
		}
		return sum, nil
	case ReduceMin:
		m := math.Inf(1)
		for _, v := range values {
			m = math.Min(m, v)
		}
		return m, nil
	case ReduceMax:
		m := math.Inf(-1)
		for _, v := range values {
			m = math.Max(m, v)
		}
		return m, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownReduceOp, op)
}

func selectInstances(sel map[Dimension]string, in result) (result, error) {
	type bounds struct {
		dim    Dimension
		lo, hi uint64
	}
	checks := make([]bounds, 0, len(sel))
	for d, s := range sel {
		lo, hi, err := parseSelector(s)
		if err != nil {
			return result{}, err
		}
		checks = append(checks, bounds{dim: d, lo: lo, hi: hi})
	}

	out := result{dims: in.dims, recs: make([]Record, 0, len(in.recs))}
	for _, r := range in.recs {
		keep := true
		for _, c := range checks {
			if idx := r.ID.Dim(c.dim); idx < c.lo || idx > c.hi {
				keep = false
				break
			}
		}
		if keep {
			out.recs = append(out.recs, r)
		}
	}
	return out, nil
}
