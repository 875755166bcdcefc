// Package sched triggers unattended resyncs on a cron schedule.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/namesync/pkg/config"
	"github.com/dotsetgreg/namesync/pkg/logger"
	"github.com/dotsetgreg/namesync/pkg/resync"
)

type Scheduler struct {
	expr   string
	count  int
	reset  bool
	syncer *resync.Syncer
	gron   *gronx.Gronx
}

// NewScheduler validates the cron expression up front.
func NewScheduler(cfg config.ScheduleConfig, syncer *resync.Syncer) (*Scheduler, error) {
	gron := gronx.New()
	if !gron.IsValid(cfg.ResyncCron) {
		return nil, fmt.Errorf("invalid schedule.resync_cron %q", cfg.ResyncCron)
	}
	return &Scheduler{
		expr:   cfg.ResyncCron,
		count:  cfg.ResyncCount,
		reset:  cfg.ResyncReset,
		syncer: syncer,
		gron:   gron,
	}, nil
}

// Run checks the expression once a minute and fires a resync when due.
// Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.InfoCF("sched", "Scheduled resync enabled", map[string]interface{}{
		"cron":  s.expr,
		"count": s.count,
		"reset": s.reset,
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("sched", "Scheduler stopped")
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.expr, now)
			if err != nil {
				logger.ErrorCF("sched", "Schedule check failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if !due {
				continue
			}
			if _, err := s.syncer.Run(ctx, s.count, s.reset); err != nil {
				logger.ErrorCF("sched", "Scheduled resync failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
