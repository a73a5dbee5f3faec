package collector

import (
	"context"
	"sync"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/collector/timeserie"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
	"go.uber.org/zap"
)

// RunWithAggregation drains the batches of every loader and logs them until
// ctx is cancelled and all loaders are done.
func RunWithAggregation(ctx context.Context, lds []types.Gpu_loaders, nodeName string) {
	logger := logutil.GetLogger()

	var wg sync.WaitGroup
	for _, l := range lds {
		wg.Add(1)
		go func(gl types.Gpu_loaders) {
			defer wg.Done()
			for batch := range gl.Run(ctx, nodeName) {
				LogBatch(logger, batch)
			}
		}(l)
	}
	wg.Wait()
	logger.Info("All loaders finished")
}

func LogBatch(logger *zap.Logger, batch *types.Batch) {
	for _, ev := range batch.Batch {
		switch e := ev.Payload.(type) {
		case aggregator.CounterWindow:
			logger.Info("Aggregated GPU counter",
				zap.String("node", batch.NodeName),
				zap.Uint64("agent_id", e.AgentID),
				zap.String("counter", e.Counter),
				zap.Uint64("dispatches", e.Dispatches),
				zap.Uint64("samples", e.Samples),
				zap.Float64("sum", e.Sum),
				zap.Float64("min", e.Min),
				zap.Float64("max", e.Max),
				zap.Float64("avg", e.Avg),
				zap.Float64("dispatch_rate", e.DispatchRate))
		case timeserie.Hotspot:
			logger.Info("PC sampling hotspot",
				zap.String("node", batch.NodeName),
				zap.Uint64("agent_id", ev.AgentID),
				zap.Uint64("dispatch_id", e.DispatchID),
				zap.Uint64("samples", e.Samples),
				zap.Int("distinct_pcs", len(e.ByPC)),
				zap.Any("reasons", e.ByReason),
				zap.Any("instructions", e.ByInst))
		case timeserie.PcSampleToken:
			logger.Debug("PC sample",
				zap.Uint64("dispatch_id", e.DispatchID),
				zap.Uint64("pc", e.PC),
				zap.String("kind", e.Kind),
				zap.String("reason", e.Reason),
				zap.Uint64("timestamp", e.Timestamp))
		default:
			logger.Warn("Unknown batch payload", zap.String("type", batch.Type), zap.String("event", ev.EventType))
		}
	}
}
