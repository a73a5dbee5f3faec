package counters

import (
	"fmt"
	"sync"

	"github.com/tebeka/atexit"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
)

// CorrelationID links a dispatch to the API call that launched it. External
// is zero unless the application pushed a value for the owning context.
type CorrelationID struct {
	Internal uint64
	External uint64
}

type DispatchInfo struct {
	AgentID    uint64
	QueueID    uint64
	KernelID   uint64
	DispatchID uint64
	GridSize   [3]uint32
	Workgroup  [3]uint32
}

type DispatchTiming struct {
	Start   uint64
	End     uint64
	Success bool
}

// DispatchHeader precedes the value records of one dispatch in a buffer.
// Timestamps are only set for dispatches that completed successfully.
type DispatchHeader struct {
	NumRecords  uint64
	Correlation CorrelationID
	Start       uint64
	End         uint64
	Dispatch    DispatchInfo
}

// DispatchData is what a RecordCallback learns about the dispatch.
type DispatchData struct {
	Dispatch    DispatchInfo
	Correlation CorrelationID
	Timing      DispatchTiming
}

type RecordCallback func(data DispatchData, records []Record, userData uint64, args any)

// DispatchSession is the per-dispatch state owned by the runtime. It must
// not be modified until the completion has been processed.
type DispatchSession struct {
	Info                 DispatchInfo
	InternalCorrelation  uint64
	ContextID            uint64
	ExternalCorrelations map[uint64]uint64

	Buffer         buffer.Buffer
	RecordCallback RecordCallback
	UserData       uint64
	CallbackArgs   any
}

func (s *DispatchSession) correlation() CorrelationID {
	c := CorrelationID{Internal: s.InternalCorrelation}
	if ext, ok := s.ExternalCorrelations[s.ContextID]; ok {
		c.External = ext
	}
	return c
}

type CompletedParams struct {
	Session *DispatchSession
	Packet  *AQLPacket
	Profile *ProfileConfig
	Timing  DispatchTiming
}

var bufferMu sync.Mutex

// ProcessCompleted evaluates every metric of the profile over the finished
// dispatch and delivers the results. A metric that fails to evaluate is
// logged and skipped; the returned error combines every such failure.
func ProcessCompleted(p CompletedParams) error {
	logger := logutil.GetLogger()
	if p.Packet == nil {
		logger.Panic("dispatch completed without an AQL packet",
			zap.Uint64("dispatch_id", p.Session.Info.DispatchID))
	}

	prof := p.Profile
	decoded, err := prof.Generator.Decode(p.Packet)
	if err != nil {
		return fmt.Errorf("decode dispatch %d: %w", p.Session.Info.DispatchID, err)
	}

	var errs error
	if err := ReadSpecialCounters(prof.Agent, prof.RequiredSpecialCounters, decoded); err != nil {
		logger.Warn("Missing agent properties", zap.String("agent", prof.Agent.Name), zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	prof.ArchivePacket(p.Packet)

	s := p.Session
	corr := s.correlation()

	out, evalErr := evaluateProfile(prof, decoded, s.Info.AgentID, s.Info.DispatchID, s.UserData)
	errs = multierr.Append(errs, evalErr)
	if len(out) == 0 {
		logger.Debug("Dispatch produced no counter records", zap.Uint64("dispatch_id", s.Info.DispatchID))
		return errs
	}

	switch {
	case s.Buffer != nil:
		hdr := DispatchHeader{
			NumRecords:  uint64(len(out)),
			Correlation: corr,
			Dispatch:    s.Info,
		}
		if p.Timing.Success {
			hdr.Start, hdr.End = p.Timing.Start, p.Timing.End
		}

		bufferMu.Lock()
		s.Buffer.Emplace(buffer.CategoryCounterCollection, buffer.KindCounterHeader, hdr)
		for _, r := range out {
			s.Buffer.Emplace(buffer.CategoryCounterCollection, buffer.KindCounterRecord, r)
		}
		bufferMu.Unlock()
	case s.RecordCallback != nil:
		s.RecordCallback(DispatchData{Dispatch: s.Info, Correlation: corr, Timing: p.Timing}, out, s.UserData, s.CallbackArgs)
	default:
		logger.Debug("No destination for counter records", zap.Uint64("dispatch_id", s.Info.DispatchID))
	}
	return errs
}

// evaluateProfile runs every metric of prof over decoded. A metric that fails
// is logged and skipped.
func evaluateProfile(prof *ProfileConfig, decoded DecodedPacket, agentID, dispatchID, userData uint64) ([]Record, error) {
	var (
		out  []Record
		errs error
	)
	for _, ast := range prof.ASTs {
		recs, err := ast.Evaluate(decoded)
		if err != nil {
			logutil.GetLogger().Error("Failed to evaluate counter",
				zap.String("counter", ast.Metric().Name),
				zap.Uint64("dispatch_id", dispatchID),
				zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		ast.SetOutID(recs)
		for i := range recs {
			recs[i].AgentID = agentID
			recs[i].DispatchID = dispatchID
			recs[i].UserData = userData
		}
		out = append(out, recs...)
	}
	return out, errs
}

var callbackConsumer = sync.OnceValue(func() *Consumer[CompletedParams] {
	c := NewConsumer(func(p CompletedParams) {
		if err := ProcessCompleted(p); err != nil {
			logutil.GetLogger().Warn("Dispatch completed with errors",
				zap.Uint64("dispatch_id", p.Session.Info.DispatchID),
				zap.Error(err))
		}
	}, DefaultConsumerCapacity)
	atexit.Register(c.Exit)
	return c
})

// StartCallbackThread moves completion processing to the shared background
// worker.
func StartCallbackThread() { callbackConsumer().Start() }

// StopCallbackThread drains pending completions and stops the worker.
// Completions queued afterwards are processed inline.
func StopCallbackThread() { callbackConsumer().Exit() }

func ProcessCallbackData(p CompletedParams) { callbackConsumer().Add(p) }
