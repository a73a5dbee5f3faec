package aggregator

import (
	"context"
	"time"

	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

func (ca *CounterAggregator) Run(ctx context.Context) <-chan *types.Batch {
	out := make(chan *types.Batch)

	go func() {
		defer close(out)
		ticker := time.NewTicker(ca.windowDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				batch := ca.Flush()
				if batch == nil || len(batch.Batch) == 0 {
					continue
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
