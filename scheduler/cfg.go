package scheduler

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/horus-robotics/horus/common/go/shmroot"
	"github.com/horus-robotics/horus/metrics"
)

// Config is the configuration surface for a Scheduler (design §6,
// "Configuration inputs").
type Config struct {
	// SchedulerIdentity names this scheduler in the heartbeats/<identity>
	// keyspace and the LogBuffer's region key. Defaults to a generated UUID
	// if empty.
	SchedulerIdentity string `yaml:"scheduler_identity"`
	// TargetPeriodMs is the tick cycle's target period in milliseconds.
	TargetPeriodMs int `yaml:"target_period_ms"`
	// HeartbeatPath overrides the heartbeat file's location. Empty means
	// the default path under the namespace root.
	HeartbeatPath string `yaml:"heartbeat_path"`
	// LogBufferCapacity is the LogBuffer's slot count.
	LogBufferCapacity uint32 `yaml:"log_buffer_capacity"`
}

// DefaultConfig returns the default configuration (design §6: target period
// 16ms, heartbeat path under the namespace root).
func DefaultConfig() *Config {
	return &Config{
		SchedulerIdentity: uuid.NewString(),
		TargetPeriodMs:    16,
		LogBufferCapacity: metrics.DefaultLogBufferCapacity,
	}
}

// LoadConfig loads a YAML configuration file, starting from DefaultConfig
// and overlaying whatever the file specifies (the way coordinator/cfg.go
// does).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) heartbeatPath() (string, error) {
	if c.HeartbeatPath != "" {
		return c.HeartbeatPath, nil
	}
	return shmroot.PathFor(shmroot.HeartbeatsNamespace, c.SchedulerIdentity)
}
