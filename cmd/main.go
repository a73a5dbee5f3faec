package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/collector"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/collector/timeserie"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/config"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/loaders"
	"github.com/ALEYI17/InfraSight_gpuprof/internal/session"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"
)

func main() {
	atexit.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logutil.InitLogger()

	cfg := config.LoadConfig()
	logutil.InitLoggerWithLevel(cfg.LogLevel)

	logger := logutil.GetLogger()
	defer logger.Sync()

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	var extra [][]byte
	if cfg.CounterDefs != "" {
		data, err := os.ReadFile(cfg.CounterDefs)
		if err != nil {
			logger.Error("Cannot read counter definitions", zap.String("path", cfg.CounterDefs), zap.Error(err))
			return 1
		}
		extra = append(extra, data)
	}
	reg, err := counters.LoadRegistry(extra...)
	if err != nil {
		logger.Error("Cannot load counter definitions", zap.Error(err))
		return 1
	}

	agg := aggregator.NewCounterAggregator(cfg.FlushInterval, reg)
	ts := timeserie.NewTimeSeriesCollector(cfg.FlushInterval)

	counters.StartCallbackThread()
	defer counters.StopCallbackThread()

	sess, err := session.New(reg, cfg.Agents, session.Options{
		Counters:   cfg.Counters,
		PCSampling: cfg.EnablePCSampling,
		Buffer:     buffer.NewFanout(agg, ts),
	})
	if err != nil {
		logger.Error("Error creating the profiling session", zap.Error(err))
		return 1
	}
	defer sess.Close()

	var lds []types.Gpu_loaders

	for _, program := range cfg.EnableProbes {
		loaderInstance, err := loaders.NewEbpfGpuLoaders(program, cfg.RingbufPin, sess, agg, ts)
		if err != nil {
			logger.Error("error to load tracer", zap.String("program", program), zap.Error(err))
			continue
		}
		defer loaderInstance.Close()
		lds = append(lds, loaderInstance)
		logger.Info("Load successfully loader:", zap.String("Loader", program))
	}

	if len(lds) == 0 {
		logger.Error("No loader could be started")
		return 1
	}

	logger.Info("Loader(s) created successfully", zap.String("node", cfg.NodeName))

	collector.RunWithAggregation(ctx, lds, cfg.NodeName)
	logger.Info("Profiler finished running")
	return 0
}
