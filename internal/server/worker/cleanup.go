// Package worker runs background maintenance jobs on a cron schedule.
package worker

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/robfig/cron/v3"
)

// Purger removes expired password reset tokens and reports how many went.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleanup purges expired reset tokens on a schedule. Expired tokens are
// already unusable; the job only keeps the table small.
type Cleanup struct {
	cron   *cron.Cron
	purger Purger
	logger logging.Logger
}

// NewCleanup validates schedule (standard cron or @every descriptors) and
// registers the purge job. Call Start to begin running it.
func NewCleanup(schedule string, purger Purger, logger logging.Logger) (*Cleanup, error) {
	c := &Cleanup{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		purger: purger,
		logger: logger.With("module", "cleanup"),
	}
	if _, err := c.cron.AddFunc(schedule, func() { c.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return c, nil
}

// RunOnce performs a single purge and logs the outcome.
func (c *Cleanup) RunOnce(ctx context.Context) {
	n, err := c.purger.PurgeExpired(ctx)
	if err != nil {
		c.logger.Error(ctx, "purging expired reset tokens failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Info(ctx, "purged expired reset tokens", "count", n)
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (c *Cleanup) Run(ctx context.Context) {
	c.cron.Start()
	<-ctx.Done()
	<-c.cron.Stop().Done()
}
