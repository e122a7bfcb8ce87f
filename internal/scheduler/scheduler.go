// Package scheduler runs periodic maintenance: purging expired reset tokens
// and sweeping stale rate-limiter entries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Purger deletes reset tokens that expired at or before now.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper drops expired cooldown entries.
type Sweeper interface {
	Sweep() int
}

type Scheduler struct {
	cron    *cron.Cron
	purger  Purger
	sweeper Sweeper
	log     *logrus.Logger
	now     func() time.Time
	timeout time.Duration
}

func New(purger Purger, sweeper Sweeper, log *logrus.Logger, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		purger:  purger,
		sweeper: sweeper,
		log:     log,
		now:     now,
		timeout: 30 * time.Second,
	}
}

// Schedule registers the sweep job. spec is a cron expression or a
// descriptor such as "@every 10m".
func (s *Scheduler) Schedule(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return fmt.Errorf("schedule token sweep %q: %w", spec, err)
	}
	return nil
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.purger.PurgeExpired(ctx, s.now())
	if err != nil {
		s.log.WithError(err).Error("purge expired reset tokens")
	} else if n > 0 {
		s.log.WithField("count", n).Info("purged expired reset tokens")
	}

	if s.sweeper != nil {
		if swept := s.sweeper.Sweep(); swept > 0 {
			s.log.WithField("count", swept).Debug("swept reset cooldowns")
		}
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
