package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

const sample = `
node_name: gpu-node-1
log_level: debug
counters: [SQ_WAVES_sum, GPU_UTIL]
enable_pc_sampling: true
flush_interval: 2s
agents:
  - id: 1
    name: gpu0
    arch: gfx942
    gfx_major: 9
    properties:
      CU_NUM: 304
      XCC_NUM: 8
`

func TestLoadYAML(t *testing.T) {
	cfg, err := Load([]byte(sample), env(nil))
	require.NoError(t, err)

	assert.Equal(t, "gpu-node-1", cfg.NodeName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"SQ_WAVES_sum", "GPU_UTIL"}, cfg.Counters)
	assert.True(t, cfg.EnablePCSampling)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
	assert.Equal(t, DefaultRingbufPin, cfg.RingbufPin)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "gfx942", cfg.Agents[0].Arch)
	assert.Equal(t, 9, cfg.Agents[0].GfxMajor)
	assert.Equal(t, 304.0, cfg.Agents[0].Properties["CU_NUM"])
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := Load([]byte(sample), env(map[string]string{
		"INFRASIGHT_NODE_NAME":      "override",
		"INFRASIGHT_COUNTERS":       " TCC_HIT_RATE , ,GPU_UTIL",
		"INFRASIGHT_PC_SAMPLING":    "false",
		"INFRASIGHT_FLUSH_INTERVAL": "250ms",
	}))
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.NodeName)
	assert.Equal(t, []string{"TCC_HIT_RATE", "GPU_UTIL"}, cfg.Counters)
	assert.False(t, cfg.EnablePCSampling)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil, env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultFlushInterval, cfg.FlushInterval)
	assert.Equal(t, []string{"ringbuf"}, cfg.EnableProbes)
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		data string
		env  map[string]string
	}{
		"bad yaml":        {data: "agents: {"},
		"bad bool":        {env: map[string]string{"INFRASIGHT_PC_SAMPLING": "maybe"}},
		"bad duration":    {env: map[string]string{"INFRASIGHT_FLUSH_INTERVAL": "soon"}},
		"zero interval":   {data: "flush_interval: 0s"},
		"duplicate agent": {data: "agents: [{id: 1, arch: gfx90a}, {id: 1, arch: gfx90a}]"},
		"missing arch":    {data: "agents: [{id: 1}]"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(tc.data), env(tc.env))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
