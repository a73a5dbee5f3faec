package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ALEYI17/InfraSight_gpuprof/internal/counters"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

const (
	EnvConfigPath = "INFRASIGHT_CONFIG"
	envPrefix     = "INFRASIGHT_"

	DefaultConfigPath    = "/etc/infrasight/gpuprof.yaml"
	DefaultRingbufPin    = "/sys/fs/bpf/infrasight/gpuprof_events"
	DefaultFlushInterval = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	NodeName         string           `yaml:"node_name"`
	LogLevel         string           `yaml:"log_level"`
	EnableProbes     []string         `yaml:"enable_probes"`
	RingbufPin       string           `yaml:"ringbuf_pin"`
	Counters         []string         `yaml:"counters"`
	CounterDefs      string           `yaml:"counter_defs"`
	EnablePCSampling bool             `yaml:"enable_pc_sampling"`
	FlushInterval    time.Duration    `yaml:"flush_interval"`
	Agents           []counters.Agent `yaml:"agents"`
}

func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		NodeName:      host,
		LogLevel:      "info",
		EnableProbes:  []string{types.LoaderRingbuf},
		RingbufPin:    DefaultRingbufPin,
		FlushInterval: DefaultFlushInterval,
	}
}

// LoadConfig reads the file named by INFRASIGHT_CONFIG, or the default path
// when it exists, and applies the environment overrides. Errors fall back to
// the defaults.
func LoadConfig() *Config {
	logger := logutil.GetLogger()

	path, explicit := os.LookupEnv(EnvConfigPath)
	if !explicit {
		path = DefaultConfigPath
	}

	var data []byte
	if b, err := os.ReadFile(path); err == nil {
		data = b
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Cannot read config file", zap.String("path", path), zap.Error(err))
	}

	cfg, err := Load(data, os.Getenv)
	if err != nil {
		logger.Error("Invalid configuration, using defaults", zap.String("path", path), zap.Error(err))
		cfg, _ = Load(nil, os.Getenv)
	}
	return cfg
}

// Load decodes data over the defaults and applies the INFRASIGHT_* values
// returned by getenv.
func Load(data []byte, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(envPrefix + "NODE_NAME"); v != "" {
		c.NodeName = v
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv(envPrefix + "RINGBUF_PIN"); v != "" {
		c.RingbufPin = v
	}
	if v := getenv(envPrefix + "COUNTERS"); v != "" {
		c.Counters = splitList(v)
	}
	if v := getenv(envPrefix + "PC_SAMPLING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sPC_SAMPLING: %v", ErrInvalidConfig, envPrefix, err)
		}
		c.EnablePCSampling = b
	}
	if v := getenv(envPrefix + "FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sFLUSH_INTERVAL: %v", ErrInvalidConfig, envPrefix, err)
		}
		c.FlushInterval = d
	}
	return nil
}

func (c *Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval must be positive", ErrInvalidConfig)
	}
	seen := make(map[uint64]bool, len(c.Agents))
	for _, a := range c.Agents {
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate agent id %d", ErrInvalidConfig, a.ID)
		}
		seen[a.ID] = true
		if a.Arch == "" {
			return fmt.Errorf("%w: agent %d has no arch", ErrInvalidConfig, a.ID)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
