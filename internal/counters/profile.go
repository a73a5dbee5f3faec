package counters

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
)

// ProfileConfig is the compiled form of one counter set on one agent. It is
// shared by every dispatch that samples that set.
type ProfileConfig struct {
	ID                      xid.ID
	Agent                   *Agent
	Metrics                 []Metric
	ASTs                    []*AST
	RequiredSpecialCounters map[uint64]Metric
	Generator               PacketGenerator

	mu      sync.RWMutex
	packets []*AQLPacket
}

func NewProfileConfig(reg *Registry, agent *Agent, names []string) (*ProfileConfig, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty counter set", ErrUnknownMetric)
	}
	cfg := &ProfileConfig{
		ID:                      xid.New(),
		Agent:                   agent,
		RequiredSpecialCounters: make(map[uint64]Metric),
	}

	var hw []uint64
	seen := make(map[uint64]bool)
	for _, name := range names {
		ast, err := reg.BuildAST(agent.Arch, name)
		if err != nil {
			return nil, err
		}
		cfg.Metrics = append(cfg.Metrics, ast.Metric())
		cfg.ASTs = append(cfg.ASTs, ast)
		for _, id := range ast.RequiredCounters() {
			if !seen[id] {
				seen[id] = true
				hw = append(hw, id)
			}
		}
		for id, m := range ast.SpecialCounters() {
			cfg.RequiredSpecialCounters[id] = m
		}
	}
	cfg.Generator = NewReadingsDecoder(hw...)

	logutil.GetLogger().Debug("Profile created",
		zap.String("profile_id", cfg.ID.String()),
		zap.String("agent", agent.Name),
		zap.Strings("counters", names),
		zap.Int("hardware_counters", len(hw)),
	)
	return cfg, nil
}

// ArchivePacket keeps pkt for later replay. The archive grows until
// ClearPackets is called.
func (p *ProfileConfig) ArchivePacket(pkt *AQLPacket) {
	p.mu.Lock()
	p.packets = append(p.packets, pkt)
	p.mu.Unlock()
}

func (p *ProfileConfig) Packets() []*AQLPacket {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*AQLPacket, len(p.packets))
	copy(out, p.packets)
	return out
}

// ClearPackets empties the archive and returns how many packets it held.
func (p *ProfileConfig) ClearPackets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.packets)
	p.packets = nil
	return n
}

// ProfileCache creates at most one ProfileConfig per agent and counter set.
type ProfileCache struct {
	reg *Registry

	mu       sync.Mutex
	profiles map[string]*ProfileConfig
}

func NewProfileCache(reg *Registry) *ProfileCache {
	return &ProfileCache{reg: reg, profiles: make(map[string]*ProfileConfig)}
}

func (c *ProfileCache) Get(agent *Agent, names []string) (*ProfileConfig, error) {
	key := profileKey(agent.ID, names)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.profiles[key]; ok {
		return cfg, nil
	}
	cfg, err := NewProfileConfig(c.reg, agent, names)
	if err != nil {
		return nil, err
	}
	c.profiles[key] = cfg
	return cfg, nil
}

func (c *ProfileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.profiles)
}

func profileKey(agent uint64, names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strconv.FormatUint(agent, 10) + "/" + strings.Join(sorted, ",")
}
