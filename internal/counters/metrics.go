package counters

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed counter_defs.yaml
var defaultDefinitions []byte

// Agent properties exposed as counters on every architecture.
var agentProperties = []string{
	"CU_NUM",
	"SIMD_NUM",
	"SE_NUM",
	"XCC_NUM",
	"MAX_WAVE_SIZE",
	"WAVE_FRONT_SIZE",
	"MAX_ENGINE_CLK_FCOMPUTE",
}

var (
	ErrUnknownMetric = errors.New("unknown counter")
	ErrMetricCycle   = errors.New("derived counter references itself")
	ErrTooManyIDs    = errors.New("counter id space exhausted")
)

// Metric describes a hardware counter, a derived counter (Expression set) or
// an agent property exposed as a counter (Special set).
type Metric struct {
	ID          uint64 `yaml:"-"`
	Name        string `yaml:"name"`
	Block       string `yaml:"block"`
	Event       uint32 `yaml:"event"`
	Description string `yaml:"description"`
	Expression  string `yaml:"expression"`
	Special     string `yaml:"-"`
}

func (m Metric) IsDerived() bool { return m.Expression != "" }

func (m Metric) IsSpecial() bool { return m.Special != "" }

// Registry indexes metric definitions by architecture, name and id. It is
// read only once built.
type Registry struct {
	byArch map[string]map[string]Metric
	byID   map[uint64]Metric
}

// LoadRegistry parses the embedded definitions followed by each extra YAML
// document. Later documents override earlier ones per architecture and name.
func LoadRegistry(extra ...[]byte) (*Registry, error) {
	defs, err := ParseDefinitions(defaultDefinitions)
	if err != nil {
		return nil, fmt.Errorf("embedded counter definitions: %w", err)
	}
	for i, doc := range extra {
		more, err := ParseDefinitions(doc)
		if err != nil {
			return nil, fmt.Errorf("counter definitions #%d: %w", i, err)
		}
		for arch, metrics := range more {
			defs[arch] = append(defs[arch], metrics...)
		}
	}
	return NewRegistry(defs)
}

// ParseDefinitions reads a YAML document of the form
//
//	gfx90a:
//	  - name: SQ_WAVES
//	    block: SQ
//	    event: 4
//	    description: Count number of waves sent to SQs.
func ParseDefinitions(data []byte) (map[string][]Metric, error) {
	out := make(map[string][]Metric)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for arch, metrics := range out {
		for i, m := range metrics {
			if strings.TrimSpace(m.Name) == "" {
				return nil, fmt.Errorf("%s: metric #%d has no name", arch, i)
			}
		}
	}
	return out, nil
}

// NewRegistry assigns ids: the same name gets the same id on every
// architecture, ids start at 1 and follow sorted name order.
func NewRegistry(defs map[string][]Metric) (*Registry, error) {
	names := make(map[string]struct{})
	for _, metrics := range defs {
		for _, m := range metrics {
			names[m.Name] = struct{}{}
		}
	}
	for _, p := range agentProperties {
		names[p] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	if len(sorted) >= 1<<(64-counterIDShift) {
		return nil, ErrTooManyIDs
	}
	ids := make(map[string]uint64, len(sorted))
	for i, n := range sorted {
		ids[n] = uint64(i + 1)
	}

	r := &Registry{
		byArch: make(map[string]map[string]Metric, len(defs)),
		byID:   make(map[uint64]Metric),
	}
	for arch, metrics := range defs {
		table := make(map[string]Metric, len(metrics)+len(agentProperties))
		for _, p := range agentProperties {
			table[p] = Metric{ID: ids[p], Name: p, Description: "agent property " + p, Special: p}
		}
		for _, m := range metrics {
			m.ID = ids[m.Name]
			table[m.Name] = m
		}
		r.byArch[arch] = table
		for _, m := range table {
			r.byID[m.ID] = m
		}
	}
	return r, nil
}

func (r *Registry) Archs() []string {
	out := make([]string, 0, len(r.byArch))
	for a := range r.byArch {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) ByName(arch, name string) (Metric, error) {
	table, ok := r.byArch[arch]
	if !ok {
		return Metric{}, fmt.Errorf("%w: no definitions for %s", ErrUnknownMetric, arch)
	}
	m, ok := table[name]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %s on %s", ErrUnknownMetric, name, arch)
	}
	return m, nil
}

func (r *Registry) ByID(id uint64) (Metric, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// ForArch returns the metrics of arch sorted by name.
func (r *Registry) ForArch(arch string) []Metric {
	table := r.byArch[arch]
	out := make([]Metric, 0, len(table))
	for _, m := range table {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildAST parses the metric expression and expands every derived counter it
// references, so the resulting tree only refers to hardware counters and
// agent properties.
func (r *Registry) BuildAST(arch, name string) (*AST, error) {
	m, err := r.ByName(arch, name)
	if err != nil {
		return nil, err
	}
	root, err := r.expand(arch, m, map[string]bool{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	refs := make(map[string]Metric)
	var resolveErr error
	root.Walk(func(n *Node) {
		s, ok := n.Value.Str()
		if !ok || n.Kind == NodeRange {
			return
		}
		ref, err := r.ByName(arch, s)
		if err != nil {
			resolveErr = err
			return
		}
		refs[s] = ref
	})
	if resolveErr != nil {
		return nil, fmt.Errorf("%s: %w", name, resolveErr)
	}
	return NewAST(m, root, refs)
}

func (r *Registry) expand(arch string, m Metric, visiting map[string]bool) (*Node, error) {
	switch {
	case m.IsSpecial():
		return NewConstantNode(m.Name), nil
	case !m.IsDerived():
		return NewReferenceNode(m.Name), nil
	}
	if visiting[m.Name] {
		return nil, fmt.Errorf("%w: %s", ErrMetricCycle, m.Name)
	}
	visiting[m.Name] = true
	defer delete(visiting, m.Name)

	root, err := ParseExpression(m.Expression)
	if err != nil {
		return nil, err
	}
	return r.substitute(arch, root, visiting)
}

// substitute replaces references to derived counters and agent properties
// inside n with their own trees.
func (r *Registry) substitute(arch string, n *Node, visiting map[string]bool) (*Node, error) {
	if n.Kind == NodeReference {
		name, _ := n.Value.Str()
		ref, err := r.ByName(arch, name)
		if err != nil {
			return nil, err
		}
		if ref.IsDerived() || ref.IsSpecial() {
			if n.Range != nil {
				return nil, fmt.Errorf("%w: range on derived counter %s", ErrMalformedNode, name)
			}
			return r.expand(arch, ref, visiting)
		}
		return n, nil
	}
	for i, c := range n.Children {
		sub, err := r.substitute(arch, c, visiting)
		if err != nil {
			return nil, err
		}
		n.Children[i] = sub
	}
	return n, nil
}
