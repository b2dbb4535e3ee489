// Package scheduler implements the priority-ordered cooperative tick
// scheduler (design §4.6): it owns a set of registered nodes, drives their
// init/tick/shutdown lifecycle, paces execution at a target period, and
// writes per-cycle heartbeat records for external monitors.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/horus-robotics/horus/common/go/bitset"
	"github.com/horus-robotics/horus/common/go/xcmd"
	"github.com/horus-robotics/horus/common/go/xiter"
	"github.com/horus-robotics/horus/metrics"
	"github.com/horus-robotics/horus/node"
)

// byPriority turns a priority-sorted slice of registrations into an
// iter.Seq so init/shutdown passes can walk it with xiter.Enumerate and
// report a node's rank in the priority order alongside its name.
func byPriority(entries []*registration) iter.Seq[*registration] {
	return func(yield func(*registration) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Logging is the tri-state logging toggle the source alludes to (design
// §8.3 Open Question: "Some(true), Some(false), None"). LoggingDefault
// resolves to enabled, matching the source's apparent default.
type Logging int

const (
	LoggingDefault Logging = iota
	LoggingEnabled
	LoggingDisabled
)

func (l Logging) enabled() bool {
	return l != LoggingDisabled
}

// ErrAlreadyRunning is returned by Add when called after Run has started
// (design §4.6: "Calling add while Running is not supported").
var ErrAlreadyRunning = errors.New("scheduler: add called while running")

type registration struct {
	node     node.Node
	priority int
	logging  Logging
	seq      int // registration order, for stable tie-breaking

	ctx         *node.Context
	nodeMetrics *metrics.NodeMetrics
	initOK      bool
	initCalled  bool
}

// Scheduler is the single-threaded cooperative driver described in design
// §4.6. The zero value is not usable; construct with New.
type Scheduler struct {
	cfg *Config
	log *zap.SugaredLogger

	mu      sync.Mutex
	entries []*registration
	running bool

	stopOnce sync.Once
	stopCh   chan struct{}

	logBuffer *metrics.LogBuffer
}

// New constructs a Scheduler from cfg (nil selects DefaultConfig) using
// logger for its own operational messages, distinct from the per-node
// LogBuffer records.
func New(cfg *Config, log *zap.SugaredLogger) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.SchedulerIdentity == "" {
		cfg.SchedulerIdentity = uuid.NewString()
	}

	lb, err := metrics.NewLogBuffer(cfg.SchedulerIdentity, cfg.LogBufferCapacity)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open log buffer: %w", err)
	}

	return &Scheduler{
		cfg:       cfg,
		log:       log,
		stopCh:    make(chan struct{}),
		logBuffer: lb,
	}, nil
}

// Add registers a node at priority (lower value runs earlier within a
// cycle; ties broken by registration order). It must be called before Run.
func (s *Scheduler) Add(n node.Node, priority int, logging Logging) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.entries = append(s.entries, &registration{
		node:     n,
		priority: priority,
		logging:  logging,
		seq:      len(s.entries),
	})
	return nil
}

// Stop requests graceful shutdown. It is idempotent: subsequent calls, or
// concurrent termination signals, result in exactly one shutdown pass
// (design §8.4: "Scheduler idempotent stop").
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// LogBuffer returns the scheduler's process-wide log buffer, for nodes or
// external tools that need direct access beyond their NodeContext.
func (s *Scheduler) LogBuffer() *metrics.LogBuffer {
	return s.logBuffer
}

// Run sorts registered nodes by priority, runs init in that order, then
// repeatedly ticks at the configured target period until stopped (by Stop,
// or a termination signal via errgroup), then runs shutdown over every
// node that had init invoked, in priority order. It blocks until the
// shutdown pass completes.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.running = true
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].priority < s.entries[j].priority
	})
	entries := s.entries
	s.mu.Unlock()

	defer s.logBuffer.Close()

	sigCtx, cancelSig := context.WithCancel(ctx)
	defer cancelSig()
	eg, egCtx := errgroup.WithContext(sigCtx)
	eg.Go(func() error {
		if err := xcmd.WaitInterrupted(egCtx); err != nil {
			s.Stop()
			return err
		}
		return nil
	})

	s.runInit(entries)

	period := time.Duration(s.cfg.TargetPeriodMs) * time.Millisecond
	if period <= 0 {
		period = 16 * time.Millisecond
	}

	var failedInit bitset.TinyBitset
	for _, e := range entries {
		if !e.initOK {
			failedInit.Insert(uint32(e.seq))
		}
	}
	if failedInit.Count() > 0 {
		s.log.Warnw("some nodes failed init and are excluded from ticking",
			"failed_count", failedInit.Count(), "total", len(entries))
	}

	s.tickLoop(entries, period)
	s.runShutdown(entries)

	s.Stop()
	// Release and drain the signal-waiting goroutine; its error (if any) is
	// informational only, the shutdown pass has already completed.
	cancelSig()
	_ = eg.Wait()
	return nil
}

func (s *Scheduler) runInit(entries []*registration) {
	for rank, e := range xiter.Enumerate(byPriority(entries)) {
		nm := metrics.NewNodeMetrics()
		ctx := node.NewContext(e.node.Name(), nm, s.logBuffer)
		e.ctx = ctx
		e.nodeMetrics = nm
		e.initCalled = true

		if err := e.node.Init(ctx); err != nil {
			e.initOK = false
			s.log.Errorw("node init failed", "node", e.node.Name(), "rank", rank, "error", err)
			s.logBuffer.Write(e.node.Name(), metrics.LevelError, fmt.Sprintf("init failed: %s", err))
			continue
		}
		e.initOK = true
	}
}

func (s *Scheduler) tickLoop(entries []*registration, period time.Duration) {
	cycle := uint64(0)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		// A stop request observed mid-cycle does not interrupt this loop:
		// the remaining nodes still tick before the scheduler moves to
		// shutdown (design §4.6 "Stopping").
		cycleStart := time.Now()
		for _, e := range entries {
			if !e.initOK {
				continue
			}

			var tickCtx *node.Context
			if e.logging.enabled() {
				tickCtx = e.ctx
			}

			start := time.Now()
			e.node.Tick(tickCtx)
			d := time.Since(start)
			e.nodeMetrics.RecordTick(d)
		}
		cycle++

		if err := s.writeHeartbeat(entries, cycle); err != nil {
			s.log.Warnw("heartbeat write failed", "error", err)
		}

		select {
		case <-s.stopCh:
			return
		default:
		}

		elapsed := time.Since(cycleStart)
		if elapsed < period {
			select {
			case <-time.After(period - elapsed):
			case <-s.stopCh:
				return
			}
		}
		// If elapsed >= period, the next cycle starts immediately: no
		// catch-up (design §4.6).
	}
}

func (s *Scheduler) runShutdown(entries []*registration) {
	for rank, e := range xiter.Enumerate(byPriority(entries)) {
		if !e.initCalled {
			continue
		}
		if err := e.node.Shutdown(e.ctx); err != nil {
			s.log.Errorw("node shutdown failed", "node", e.node.Name(), "rank", rank, "error", err)
			s.logBuffer.Write(e.node.Name(), metrics.LevelError, fmt.Sprintf("shutdown failed: %s", err))
		}
	}
}

func (s *Scheduler) writeHeartbeat(entries []*registration, cycle uint64) error {
	path, err := s.cfg.heartbeatPath()
	if err != nil {
		return err
	}

	rec := heartbeatRecord{
		SchedulerIdentity: s.cfg.SchedulerIdentity,
		Timestamp:         time.Now(),
		CycleCount:        cycle,
	}
	for _, e := range entries {
		if !e.initOK {
			continue
		}
		snap := e.ctx.Metrics()
		rec.Nodes = append(rec.Nodes, heartbeatNode{
			Name:             e.node.Name(),
			Priority:         e.priority,
			TotalTicks:       snap.TotalTicks,
			MeanTickMs:       float64(snap.MeanTickDuration) / float64(time.Millisecond),
			MessagesSent:     snap.MessagesSent,
			MessagesReceived: snap.MessagesReceived,
		})
	}

	b := backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         50 * time.Millisecond,
	}
	b.Reset()

	var writeErr error
	for attempt := 0; attempt < 3; attempt++ {
		if writeErr = writeHeartbeat(path, rec); writeErr == nil {
			return nil
		}
		time.Sleep(b.NextBackOff())
	}
	return writeErr
}
