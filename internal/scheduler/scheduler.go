// Package scheduler runs independent timed loops. A failing or panicking
// cycle is logged and the loop carries on with the next interval.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vesaa/homewatch/internal/logger"
	"github.com/vesaa/homewatch/internal/metrics"
)

// Job is one loop: Run is called every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a set of loops.
type Scheduler struct {
	jobs       []Job
	runOnStart bool
	wg         sync.WaitGroup
}

// New creates a scheduler. With runOnStart each loop runs a cycle right
// away; otherwise it sleeps one interval first.
func New(runOnStart bool, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, runOnStart: runOnStart}
}

// Start launches every loop. Loops stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.loop(ctx, j)
		}(j)
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	logger.Infof("[scheduler] %s loop started, interval=%s", j.Name, j.Interval)
	defer logger.Infof("[scheduler] %s loop stopped", j.Name)

	if s.runOnStart {
		RunCycle(ctx, j)
	}

	// The timer is re-armed after each cycle, so a slow cycle delays the
	// next one instead of overlapping it.
	timer := time.NewTimer(j.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			RunCycle(ctx, j)
			timer.Reset(j.Interval)
		}
	}
}

// RunCycle runs j once, converting a panic into an error. The outcome is
// logged and recorded in metrics.
func RunCycle(ctx context.Context, j Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Errorf("[scheduler] %s cycle panicked: %v\n%s", j.Name, r, debug.Stack())
		}
		metrics.ObserveCycle(j.Name, start, err != nil)
		if err != nil {
			logger.Errorf("[scheduler] %s cycle failed after %s: %v", j.Name, time.Since(start).Round(time.Millisecond), err)
		}
	}()
	return j.Run(ctx)
}
