// Package scheduler runs the periodic background jobs (sync pulls, read-state
// pushes, bulk refreshes) on cron schedules, all evaluated in UTC.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/greg-hass/feedsync/internal/debuglog"
)

type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
	}
}

// AddJob registers fn under a standard 5-field cron spec. The job's errors
// are logged, never fatal.
func (s *Scheduler) AddJob(name, spec string, fn func() error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := fn(); err != nil {
			debuglog.Warnf("scheduled job %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start launches the scheduler's own goroutine. Jobs run concurrently with
// the caller.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and blocks until running jobs finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
