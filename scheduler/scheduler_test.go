package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/horus-robotics/horus/node"
)

func useTempRoot(t *testing.T) {
	t.Helper()
	t.Setenv("HORUS_SHM_ROOT", t.TempDir())
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SchedulerIdentity = "test-scheduler"
	cfg.TargetPeriodMs = 2
	cfg.HeartbeatPath = filepath.Join(t.TempDir(), "heartbeat.yaml")
	return cfg
}

// recorderNode appends its name to a shared, mutex-guarded slice on every
// tick, letting a test observe cross-node ordering directly (design §8.1
// scenario 4: "Priority order").
type recorderNode struct {
	name    string
	mu      *sync.Mutex
	record  *[]string
	onTick  func()
	initErr error
	shutCh  chan struct{}
}

func (n *recorderNode) Name() string { return n.name }

func (n *recorderNode) Init(ctx *node.Context) error { return n.initErr }

func (n *recorderNode) Tick(ctx *node.Context) {
	n.mu.Lock()
	*n.record = append(*n.record, n.name)
	n.mu.Unlock()
	if n.onTick != nil {
		n.onTick()
	}
}

func (n *recorderNode) Shutdown(ctx *node.Context) error {
	if n.shutCh != nil {
		close(n.shutCh)
	}
	return nil
}

func Test_Scheduler_PriorityOrder(t *testing.T) {
	useTempRoot(t)

	var mu sync.Mutex
	var record []string

	sched, err := New(testConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)

	n0 := &recorderNode{name: "N0", mu: &mu, record: &record}
	n5 := &recorderNode{name: "N5", mu: &mu, record: &record}
	n10 := &recorderNode{name: "N10", mu: &mu, record: &record}

	require.NoError(t, sched.Add(n10, 10, LoggingDisabled))
	require.NoError(t, sched.Add(n0, 0, LoggingDisabled))
	require.NoError(t, sched.Add(n5, 5, LoggingDisabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// Let at least three cycles elapse, then stop.
	time.Sleep(9 * time.Millisecond)
	sched.Stop()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(record), 3)
	for i := 0; i+3 <= len(record); i += 3 {
		assert.Equal(t, []string{"N0", "N5", "N10"}, record[i:i+3])
	}
}

func Test_Scheduler_GracefulShutdown(t *testing.T) {
	useTempRoot(t)

	sched, err := New(testConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)

	var mu sync.Mutex
	var record []string
	shutN0 := make(chan struct{})
	shutN5 := make(chan struct{})
	shutN10 := make(chan struct{})

	n0 := &recorderNode{name: "N0", mu: &mu, record: &record, shutCh: shutN0}
	n5 := &recorderNode{name: "N5", mu: &mu, record: &record, shutCh: shutN5}
	n5.onTick = func() { sched.Stop() } // signal mid-cycle, during N5's tick
	n10 := &recorderNode{name: "N10", mu: &mu, record: &record, shutCh: shutN10}

	require.NoError(t, sched.Add(n0, 0, LoggingDisabled))
	require.NoError(t, sched.Add(n5, 5, LoggingDisabled))
	require.NoError(t, sched.Add(n10, 10, LoggingDisabled))

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not return after stop")
	}

	for _, ch := range []chan struct{}{shutN0, shutN5, shutN10} {
		select {
		case <-ch:
		default:
			t.Fatal("expected node shutdown to have been called")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	// N10 still ticked in the cycle where the stop signal arrived mid-cycle.
	require.Equal(t, []string{"N0", "N5", "N10"}, record)
}

func Test_Scheduler_InitFailureIsolation(t *testing.T) {
	useTempRoot(t)

	sched, err := New(testConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)

	var mu sync.Mutex
	var record []string
	shutA := make(chan struct{})
	shutB := make(chan struct{})

	a := &recorderNode{name: "A", mu: &mu, record: &record, initErr: errInitFailure, shutCh: shutA}
	b := &recorderNode{name: "B", mu: &mu, record: &record, shutCh: shutB}

	require.NoError(t, sched.Add(a, 0, LoggingDisabled))
	require.NoError(t, sched.Add(b, 1, LoggingDisabled))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(6 * time.Millisecond)
	sched.Stop()
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	for _, name := range record {
		assert.Equal(t, "B", name)
	}
	assert.NotEmpty(t, record)

	select {
	case <-shutA:
	default:
		t.Fatal("A had init invoked, so it must still receive shutdown")
	}
	select {
	case <-shutB:
	default:
		t.Fatal("B must receive shutdown")
	}
}

func Test_Scheduler_IdempotentStop(t *testing.T) {
	useTempRoot(t)

	sched, err := New(testConfig(t), zap.NewNop().Sugar())
	require.NoError(t, err)

	var mu sync.Mutex
	var record []string
	countingNode := &countingShutdownNode{recorderNode: recorderNode{name: "N", mu: &mu, record: &record}}
	require.NoError(t, sched.Add(countingNode, 0, LoggingDisabled))

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	time.Sleep(4 * time.Millisecond)
	sched.Stop()
	sched.Stop()
	sched.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, 1, countingNode.shutdownCalls)
}

type countingShutdownNode struct {
	recorderNode
	mu2           sync.Mutex
	shutdownCalls int
}

func (n *countingShutdownNode) Shutdown(ctx *node.Context) error {
	n.mu2.Lock()
	n.shutdownCalls++
	n.mu2.Unlock()
	return nil
}

func Test_Scheduler_HeartbeatLiveness(t *testing.T) {
	useTempRoot(t)

	cfg := testConfig(t)
	sched, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)

	var mu sync.Mutex
	var record []string
	n := &recorderNode{name: "N", mu: &mu, record: &record}
	require.NoError(t, sched.Add(n, 0, LoggingDisabled))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.HeartbeatPath)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	hb, err := ReadHeartbeat(cfg.HeartbeatPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.SchedulerIdentity, hb.SchedulerIdentity)

	sched.Stop()
	cancel()
	<-done
}

var errInitFailure = &initFailureError{}

type initFailureError struct{}

func (e *initFailureError) Error() string { return "init failure" }
