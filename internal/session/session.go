// Package session keeps the per-agent profiling state and routes decoded
// runtime events to the counter and PC sampling pipelines.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/loaders"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/pcsampling/parser"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
)

var ErrNoAgents = errors.New("no agents configured")

type Options struct {
	// Counters sampled on every dispatch. Empty disables counter collection.
	Counters   []string
	PCSampling bool
	Buffer     buffer.Buffer
	// Completions are processed inline instead of on the shared worker.
	Synchronous bool
}

type agentState struct {
	agent   *counters.Agent
	profile *counters.ProfileConfig
	device  *counters.DeviceSampler
	parser  *parser.Context
}

type dispatchKey struct {
	agent    uint64
	dispatch uint64
}

type pending struct {
	session *counters.DispatchSession
	timing  counters.DispatchTiming
	ended   bool
	packet  *counters.AQLPacket
}

type Session struct {
	opts  Options
	cache *counters.ProfileCache

	mu        sync.Mutex
	agents    map[uint64]*agentState
	externals map[uint64]uint64
	inflight  map[dispatchKey]*pending
}

func New(reg *counters.Registry, agents []counters.Agent, opts Options) (*Session, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	logger := logutil.GetLogger()

	s := &Session{
		opts:      opts,
		cache:     counters.NewProfileCache(reg),
		agents:    make(map[uint64]*agentState, len(agents)),
		externals: make(map[uint64]uint64),
		inflight:  make(map[dispatchKey]*pending),
	}

	for i := range agents {
		st := &agentState{agent: &agents[i]}
		if len(opts.Counters) > 0 {
			prof, err := s.cache.Get(st.agent, opts.Counters)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", st.agent.Name, err)
			}
			st.profile = prof
			st.device = &counters.DeviceSampler{Profile: prof, Buffer: opts.Buffer}
		}
		if opts.PCSampling {
			pc, err := parser.NewContext(st.agent.GfxMajor, parser.WithClock(bootTime))
			if err != nil {
				logger.Warn("PC sampling unavailable on agent",
					zap.String("agent", st.agent.Name),
					zap.Int("gfx_major", st.agent.GfxMajor),
					zap.Error(err))
			} else {
				if opts.Buffer != nil {
					pc.RegisterBuffer(st.agent.ID, opts.Buffer)
				}
				st.parser = pc
			}
		}
		s.agents[st.agent.ID] = st
		logger.Info("Agent registered",
			zap.Uint64("agent_id", st.agent.ID),
			zap.String("agent", st.agent.Name),
			zap.String("arch", st.agent.Arch),
			zap.Bool("counters", st.profile != nil),
			zap.Bool("pc_sampling", st.parser != nil))
	}
	return s, nil
}

// PushExternalCorrelation tags the dispatches later launched from contextID
// with id.
func (s *Session) PushExternalCorrelation(contextID, id uint64) {
	s.mu.Lock()
	s.externals[contextID] = id
	s.mu.Unlock()
}

func (s *Session) PopExternalCorrelation(contextID uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.externals[contextID]
	delete(s.externals, contextID)
	return id, ok
}

func (s *Session) Handle(ev any) {
	logger := logutil.GetLogger()

	switch e := ev.(type) {
	case loaders.DispatchBegin:
		s.dispatchBegin(e)
	case loaders.DispatchEnd:
		s.dispatchEnd(e)
	case loaders.CounterCompletion:
		s.counterCompletion(e)
	case loaders.PcSampleSegment:
		s.pcSampleSegment(e)
	case loaders.DeviceCounters:
		s.deviceCounters(e)
	case loaders.ExternalCorrelation:
		if e.Pop {
			s.PopExternalCorrelation(e.ContextID)
		} else {
			s.PushExternalCorrelation(e.ContextID, e.ID)
		}
	default:
		logger.Warn("Unhandled event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (s *Session) agent(id uint64) (*agentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[id]
	if !ok {
		logutil.GetLogger().Warn("Event for unknown agent", zap.Uint64("agent_id", id))
	}
	return st, ok
}

func (s *Session) dispatchBegin(e loaders.DispatchBegin) {
	st, ok := s.agent(e.AgentID)
	if !ok {
		return
	}

	s.mu.Lock()
	externals := make(map[uint64]uint64, len(s.externals))
	for k, v := range s.externals {
		externals[k] = v
	}
	ds := &counters.DispatchSession{
		Info: counters.DispatchInfo{
			AgentID:    e.AgentID,
			QueueID:    e.QueueID,
			KernelID:   e.KernelID,
			DispatchID: e.DispatchID,
			GridSize:   e.Grid,
			Workgroup:  e.Workgroup,
		},
		InternalCorrelation:  e.CorrelationID,
		ContextID:            e.ContextID,
		ExternalCorrelations: externals,
		Buffer:               s.opts.Buffer,
	}
	if st.profile != nil {
		s.inflight[dispatchKey{e.AgentID, e.DispatchID}] = &pending{session: ds}
	}
	s.mu.Unlock()

	if st.parser != nil {
		pkt := parser.DispatchPacket{
			CorrelationID: parser.CorrelationID{Internal: e.CorrelationID, External: externals[e.ContextID]},
			DispatchID:    e.DispatchID,
			AgentID:       e.AgentID,
			QueueID:       e.QueueID,
			Doorbell:      e.Doorbell,
			WriteIndex:    e.WriteIndex,
		}
		// Retire completed dispatches first so a finished one does not keep
		// the slot the new dispatch needs.
		if st.parser.ShouldFlipRocrBuffer(pkt) {
			logutil.GetLogger().Debug("Correlation slot still held by a previous dispatch",
				zap.Uint64("dispatch_id", e.DispatchID),
				zap.Uint64("device_correlation", pkt.DeviceID()))
			st.parser.FlushForgetList()
		}
		st.parser.NewDispatch(pkt)
	}
}

func (s *Session) dispatchEnd(e loaders.DispatchEnd) {
	st, ok := s.agent(e.AgentID)
	if !ok {
		return
	}
	if st.parser != nil {
		st.parser.CompleteDispatch(e.CorrelationID)
	}
	if st.profile == nil {
		return
	}

	timing := checkTiming(e)

	s.mu.Lock()
	p, ok := s.inflight[dispatchKey{e.AgentID, e.DispatchID}]
	if !ok {
		s.mu.Unlock()
		logutil.GetLogger().Warn("Dispatch end without begin",
			zap.Uint64("agent_id", e.AgentID),
			zap.Uint64("dispatch_id", e.DispatchID))
		return
	}
	p.timing, p.ended = timing, true
	ready := p.packet != nil
	if ready {
		delete(s.inflight, dispatchKey{e.AgentID, e.DispatchID})
	}
	s.mu.Unlock()

	if ready {
		s.complete(st, p)
	}
}

func (s *Session) counterCompletion(e loaders.CounterCompletion) {
	st, ok := s.agent(e.AgentID)
	if !ok {
		return
	}
	if st.profile == nil {
		logutil.GetLogger().Debug("Counter readings without a profile", zap.Uint64("agent_id", e.AgentID))
		return
	}

	s.mu.Lock()
	p, ok := s.inflight[dispatchKey{e.AgentID, e.DispatchID}]
	if !ok {
		s.mu.Unlock()
		logutil.GetLogger().Warn("Counter readings for unknown dispatch",
			zap.Uint64("agent_id", e.AgentID),
			zap.Uint64("dispatch_id", e.DispatchID))
		return
	}
	p.packet = e.Packet
	ready := p.ended
	if ready {
		delete(s.inflight, dispatchKey{e.AgentID, e.DispatchID})
	}
	s.mu.Unlock()

	if ready {
		s.complete(st, p)
	}
}

func (s *Session) complete(st *agentState, p *pending) {
	params := counters.CompletedParams{
		Session: p.session,
		Packet:  p.packet,
		Profile: st.profile,
		Timing:  p.timing,
	}
	if !s.opts.Synchronous {
		counters.ProcessCallbackData(params)
		return
	}
	if err := counters.ProcessCompleted(params); err != nil {
		logutil.GetLogger().Warn("Dispatch completed with errors",
			zap.Uint64("dispatch_id", p.session.Info.DispatchID),
			zap.Error(err))
	}
}

func (s *Session) pcSampleSegment(e loaders.PcSampleSegment) {
	st, ok := s.agent(e.AgentID)
	if !ok {
		return
	}
	if st.parser == nil {
		logutil.GetLogger().Debug("PC samples for agent without sampling", zap.Uint64("agent_id", e.AgentID))
		return
	}
	if status := st.parser.Parse(e.Samples, e.GfxMajor, nil, e.Flip); status != parser.StatusSuccess {
		logutil.GetLogger().Warn("Failed to parse pc sampling segment",
			zap.Uint64("agent_id", e.AgentID),
			zap.Int("slots", len(e.Samples)),
			zap.Stringer("status", status))
	}
}

func (s *Session) deviceCounters(e loaders.DeviceCounters) {
	st, ok := s.agent(e.AgentID)
	if !ok {
		return
	}
	if st.device == nil {
		logutil.GetLogger().Debug("Device counters without a profile", zap.Uint64("agent_id", e.AgentID))
		return
	}
	if _, err := st.device.Process(e.Packet); err != nil {
		logutil.GetLogger().Warn("Device counter sample failed",
			zap.Uint64("agent_id", e.AgentID),
			zap.Error(err))
	}
}

// Inflight reports how many dispatches still wait for their end event or
// their counter readings.
func (s *Session) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Close retires the dispatches still queued for retirement and drops the
// archived packets.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.agents {
		if st.parser != nil {
			st.parser.FlushForgetList()
		}
		if st.profile != nil {
			n := st.profile.ClearPackets()
			logutil.GetLogger().Debug("Released archived packets",
				zap.String("agent", st.agent.Name), zap.Int("packets", n))
		}
	}
	if len(s.inflight) > 0 {
		logutil.GetLogger().Warn("Session closed with dispatches in flight", zap.Int("dispatches", len(s.inflight)))
	}
}

// checkTiming keeps the records of a dispatch whose timestamps are not
// usable, dropping only the timestamps.
func checkTiming(e loaders.DispatchEnd) counters.DispatchTiming {
	t := counters.DispatchTiming{Start: e.Start, End: e.End, Success: e.Success}
	if t.Success && (t.Start == 0 || t.End < t.Start) {
		logutil.GetLogger().Warn("Dispatch reported invalid timestamps",
			zap.Uint64("dispatch_id", e.DispatchID),
			zap.Uint64("start", e.Start),
			zap.Uint64("end", e.End))
		t.Success = false
	}
	return t
}

func bootTime() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return uint64(ts.Nano())
}
