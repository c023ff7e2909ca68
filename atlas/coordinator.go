package atlas

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Coordinator runs the initial staleness check and the periodic resync
// schedule around a Service.
type Coordinator struct {
	svc    *Service
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewCoordinator wires a Service to its resync schedule. Start begins the
// schedule; Close stops it.
func NewCoordinator(svc *Service) *Coordinator {
	return &Coordinator{svc: svc}
}

// Start syncs once if the mirror is stale, then schedules the periodic
// recheck. The initial sync failing is logged, not fatal: the schedule
// retries and the API can serve whatever corpus is already mirrored.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if res, err := c.svc.SyncIfStale(ctx); err != nil {
		c.svc.logger.Error("initial corpus sync failed", "error", err)
	} else if res != nil {
		c.svc.logger.Info("initial corpus sync complete",
			"run_id", res.RunID, "version", res.Version)
	} else {
		c.svc.logger.Info("corpus fresh, skipping initial sync")
	}

	if c.svc.cfg.ResyncSchedule == "" {
		return nil
	}
	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.svc.cfg.ResyncSchedule, func() {
		res, err := c.svc.SyncIfStale(ctx)
		switch {
		case errors.Is(err, ErrSyncRunning):
			c.svc.logger.Info("scheduled sync skipped, refresh already running")
		case err != nil:
			c.svc.logger.Error("scheduled corpus sync failed", "error", err)
		case res != nil:
			c.svc.logger.Info("scheduled corpus sync complete",
				"run_id", res.RunID, "version", res.Version)
		}
	})
	if err != nil {
		return fmt.Errorf("resync schedule %q: %w", c.svc.cfg.ResyncSchedule, err)
	}
	c.cron.Start()
	return nil
}

// Close stops the schedule and waits for a running job to finish.
func (c *Coordinator) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}
