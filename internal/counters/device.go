package counters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/buffer"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
)

var ErrOutOfResources = errors.New("output too small for the sampled records")

// SampleDevice evaluates every metric of prof over one agent wide read that
// is not tied to a dispatch. Records carry a zero dispatch id.
func SampleDevice(prof *ProfileConfig, pkt *AQLPacket, userData uint64) ([]Record, error) {
	if pkt == nil {
		return nil, fmt.Errorf("sample agent %s: no readings", prof.Agent.Name)
	}
	decoded, err := prof.Generator.Decode(pkt)
	if err != nil {
		return nil, fmt.Errorf("sample agent %s: %w", prof.Agent.Name, err)
	}
	errs := ReadSpecialCounters(prof.Agent, prof.RequiredSpecialCounters, decoded)
	out, err := evaluateProfile(prof, decoded, prof.Agent.ID, 0, userData)
	return out, multierr.Append(errs, err)
}

// SampleDeviceInto copies the sampled records into out. When out is too
// small nothing is copied and the returned count is the size needed.
func SampleDeviceInto(prof *ProfileConfig, pkt *AQLPacket, userData uint64, out []Record) (int, error) {
	recs, err := SampleDevice(prof, pkt, userData)
	if len(recs) > len(out) {
		return len(recs), ErrOutOfResources
	}
	return copy(out, recs), err
}

// AgentReader reads the current hardware counter values of an agent.
type AgentReader interface {
	ReadAgent(ctx context.Context, agent *Agent) (*AQLPacket, error)
}

// DeviceSampler samples the counters of one profile on its agent, outside
// of any dispatch. Reader is only needed by Sample and Run.
type DeviceSampler struct {
	Profile  *ProfileConfig
	Reader   AgentReader
	Buffer   buffer.Buffer
	UserData uint64
}

// Sample reads the agent once and processes the read.
func (d *DeviceSampler) Sample(ctx context.Context) ([]Record, error) {
	pkt, err := d.Reader.ReadAgent(ctx, d.Profile.Agent)
	if err != nil {
		return nil, fmt.Errorf("read agent %s: %w", d.Profile.Agent.Name, err)
	}
	return d.Process(pkt)
}

// Process evaluates the profile over pkt. Records are also emplaced into the
// sampler's buffer when one is set.
func (d *DeviceSampler) Process(pkt *AQLPacket) ([]Record, error) {
	recs, err := SampleDevice(d.Profile, pkt, d.UserData)
	if d.Buffer != nil && len(recs) > 0 {
		bufferMu.Lock()
		for _, r := range recs {
			d.Buffer.Emplace(buffer.CategoryCounterCollection, buffer.KindDeviceCounterRecord, r)
		}
		bufferMu.Unlock()
	}
	return recs, err
}

// Run samples every interval until ctx is done. Empty samples are skipped.
func (d *DeviceSampler) Run(ctx context.Context, interval time.Duration) <-chan []Record {
	out := make(chan []Record)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				recs, err := d.Sample(ctx)
				if err != nil {
					logutil.GetLogger().Warn("Device counter sample failed",
						zap.String("agent", d.Profile.Agent.Name), zap.Error(err))
				}
				if len(recs) == 0 {
					continue
				}
				select {
				case out <- recs:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
