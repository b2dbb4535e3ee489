package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// heartbeatNode is one node's snapshot inside a heartbeat record (design
// §6: "name, priority, total_ticks, mean_tick_ms, messages_sent,
// messages_received").
type heartbeatNode struct {
	Name             string  `yaml:"name"`
	Priority         int     `yaml:"priority"`
	TotalTicks       uint64  `yaml:"total_ticks"`
	MeanTickMs       float64 `yaml:"mean_tick_ms"`
	MessagesSent     uint64  `yaml:"messages_sent"`
	MessagesReceived uint64  `yaml:"messages_received"`
}

// heartbeatRecord is the fixed record rewritten each cycle (design §6:
// "Heartbeat file format").
type heartbeatRecord struct {
	SchedulerIdentity string          `yaml:"scheduler_identity"`
	Timestamp         time.Time       `yaml:"timestamp"`
	CycleCount        uint64          `yaml:"cycle_count"`
	Nodes             []heartbeatNode `yaml:"nodes"`
}

// writeHeartbeat atomically rewrites the heartbeat file at path: marshal to
// a temp file in the same directory, then rename over the target, so a
// concurrent reader never observes a partial write.
func writeHeartbeat(path string, rec heartbeatRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create heartbeat dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".heartbeat-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp heartbeat file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp heartbeat file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp heartbeat file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp heartbeat file: %w", err)
	}
	return nil
}

// ReadHeartbeat loads and parses a heartbeat file. It is exported for
// read-only external tools (cmd/horus-heartbeat).
func ReadHeartbeat(path string) (*Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read heartbeat file: %w", err)
	}

	var rec heartbeatRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse heartbeat file: %w", err)
	}

	nodes := make([]HeartbeatNode, len(rec.Nodes))
	for i, n := range rec.Nodes {
		nodes[i] = HeartbeatNode(n)
	}

	return &Heartbeat{
		SchedulerIdentity: rec.SchedulerIdentity,
		Timestamp:         rec.Timestamp,
		CycleCount:        rec.CycleCount,
		Nodes:             nodes,
	}, nil
}

// HeartbeatNode is the public, read-only view of heartbeatNode.
type HeartbeatNode = heartbeatNode

// Heartbeat is the public, read-only view of a parsed heartbeat record.
type Heartbeat struct {
	SchedulerIdentity string
	Timestamp         time.Time
	CycleCount        uint64
	Nodes             []HeartbeatNode
}
