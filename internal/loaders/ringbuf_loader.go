package loaders

import (
	"context"
	"errors"
	"sync"

	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

// EventHandler consumes the decoded ring buffer events.
type EventHandler interface {
	Handle(ev any)
}

// RingbufLoader reads the profiler events the runtime shim writes to a
// pinned BPF ring buffer.
type RingbufLoader struct {
	Map        *ebpf.Map
	Rb         *ringbuf.Reader
	handler    EventHandler
	collectors []types.Gpu_collectors
	closeOnce  sync.Once
}

func NewRingbufLoader(pin string, handler EventHandler, collectors ...types.Gpu_collectors) (*RingbufLoader, error) {

	logger := logutil.GetLogger()
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, err
	}

	m, err := ebpf.LoadPinnedMap(pin, nil)
	if err != nil {
		logger.Error("error", zap.String("pin", pin), zap.Error(err))
		return nil, err
	}

	rl := &RingbufLoader{
		Map:     m,
		handler: handler,
	}

	rb, err := ringbuf.NewReader(m)
	if err != nil {
		logger.Error("error", zap.Error(err))
		rl.Close()
		return nil, err
	}

	rl.Rb = rb
	rl.collectors = append(rl.collectors, collectors...)

	logger.Info("Opened profiler ring buffer", zap.String("pin", pin))
	return rl, nil
}

func (rl *RingbufLoader) Close() {
	rl.closeOnce.Do(func() {
		if rl.Rb != nil {
			rl.Rb.Close()
		}
		if rl.Map != nil {
			rl.Map.Close()
		}
	})
}

func (rl *RingbufLoader) Run(ctx context.Context, nodeName string) <-chan *types.Batch {

	out := make(chan *types.Batch)

	logger := logutil.GetLogger()

	var wg sync.WaitGroup
	for _, c := range rl.collectors {
		wg.Add(1)
		go func(col types.Gpu_collectors) {
			defer wg.Done()
			for batch := range col.Run(ctx) {
				batch.NodeName = nodeName
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	// Read blocks; closing the reader is the only way to unblock it.
	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	go func() {
		for {
			record, err := rl.Rb.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) {
					logger.Info("Ring buffer closed, exiting...")
					return
				}
				logger.Error("Reading error", zap.Error(err))
				continue
			}

			ev, err := DecodeEvent(record.RawSample)
			if err != nil {
				logger.Warn("Dropping ring buffer record", zap.Int("size", len(record.RawSample)), zap.Error(err))
				continue
			}
			rl.handler.Handle(ev)
		}
	}()

	return out
}
