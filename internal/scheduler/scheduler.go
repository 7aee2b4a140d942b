// Package scheduler drives the four pipeline tasks: one immediate run of the
// whole chain at startup, then an independent periodic timer per task.
// Mutual exclusion per task type lives in the state guards, not here; an
// overlapping tick is a no-op inside the task body.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weichain/gsol-minter/internal/config"
)

// Tasks are the four cooperative task bodies in pipeline order.
type Tasks struct {
	GetLatestSignature  func(context.Context)
	ScanSignatureRanges func(context.Context)
	ScanSignatures      func(context.Context)
	MintGSol            func(context.Context)
}

// Intervals configures the periodic timers.
type Intervals struct {
	GetLatestSignature  time.Duration
	ScanSignatureRanges time.Duration
	ScanSignatures      time.Duration
	MintGSol            time.Duration
}

// DefaultIntervals returns the production timer configuration.
func DefaultIntervals() Intervals {
	return Intervals{
		GetLatestSignature:  config.GetLatestSignatureInterval,
		ScanSignatureRanges: config.ScanSignatureRangesInterval,
		ScanSignatures:      config.ScanSignaturesInterval,
		MintGSol:            config.MintGSolInterval,
	}
}

// Scheduler owns the timer goroutines.
type Scheduler struct {
	tasks     Tasks
	intervals Intervals

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(tasks Tasks, intervals Intervals) *Scheduler {
	return &Scheduler{tasks: tasks, intervals: intervals}
}

// Start runs the whole chain once immediately, then starts the periodic
// timers. It returns after the immediate run has been launched.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		slog.Warn("scheduler already started")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	slog.Info("scheduler starting",
		"getLatestSignature", s.intervals.GetLatestSignature,
		"scanSignatureRanges", s.intervals.ScanSignatureRanges,
		"scanSignatures", s.intervals.ScanSignatures,
		"mintGSol", s.intervals.MintGSol,
	)

	// Immediate chain run, in pipeline order.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tasks.GetLatestSignature(runCtx)
		s.tasks.ScanSignatureRanges(runCtx)
		s.tasks.ScanSignatures(runCtx)
		s.tasks.MintGSol(runCtx)
	}()

	s.launchPeriodic(runCtx, "get_latest_signature", s.intervals.GetLatestSignature, s.tasks.GetLatestSignature)
	s.launchPeriodic(runCtx, "scan_signature_ranges", s.intervals.ScanSignatureRanges, s.tasks.ScanSignatureRanges)
	s.launchPeriodic(runCtx, "scan_signatures", s.intervals.ScanSignatures, s.tasks.ScanSignatures)
	s.launchPeriodic(runCtx, "mint_gsol", s.intervals.MintGSol, s.tasks.MintGSol)
}

func (s *Scheduler) launchPeriodic(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Debug("periodic task stopping", "task", name)
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
}

// Stop cancels the timers and waits for in-flight task bodies to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	slog.Info("scheduler stopped")
}
