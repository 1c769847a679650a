// Package sweep runs the periodic background jobs: creative discovery and
// device identity rebuilds
package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// Job is one unit of background work
type Job func(ctx context.Context) error

// MetricsRecorder records sweep runs
type MetricsRecorder interface {
	RecordSweepRun(job string, duration time.Duration, success bool)
	RecordSweepSkipped(job string)
}

// Scheduler runs a job on a fixed interval after an initial delay. A run
// that is still in progress causes the next tick to be skipped.
type Scheduler struct {
	name         string
	job          Job
	interval     time.Duration
	initialDelay time.Duration
	timeout      time.Duration
	metrics      MetricsRecorder

	running atomic.Bool
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Non-positive durations fall back to the
// hourly defaults. metrics may be nil.
func NewScheduler(name string, job Job, interval, initialDelay time.Duration, metrics MetricsRecorder) *Scheduler {
	if interval <= 0 {
		interval = config.SweepInterval
	}
	if initialDelay < 0 {
		initialDelay = config.SweepInitialDelay
	}
	return &Scheduler{
		name:         name,
		job:          job,
		interval:     interval,
		initialDelay: initialDelay,
		timeout:      interval,
		metrics:      metrics,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the background loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-flight run to return
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Runs happen off the loop goroutine so an overrunning job shows up as
	// a skipped tick instead of a delayed ticker.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	s.spawn(runCtx)
	for {
		select {
		case <-ticker.C:
			s.spawn(runCtx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(ctx)
	}()
}

// RunOnce runs the job now unless a run is already in progress. It reports
// whether the job ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	log := logger.Sweep(s.name)
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("Previous sweep still running, skipping")
		if s.metrics != nil {
			s.metrics.RecordSweepSkipped(s.name)
		}
		return false
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.job(ctx)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordSweepRun(s.name, duration, err == nil)
	}
	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("Sweep failed")
	} else {
		log.Info().Dur("duration", duration).Msg("Sweep complete")
	}
	return true
}

// Running reports whether a run is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}
