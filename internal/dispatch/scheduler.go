package dispatch

import (
	"context"
	"time"
)

const scheduledBatchLimit = 50

// Scheduler promotes due scheduled calls to dispatch. One instance runs per
// process; the conditional-update guard in Dispatch makes a duplicate pickup
// harmless.
type Scheduler struct {
	svc      *Service
	interval time.Duration
}

func NewScheduler(svc *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping for due calls every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep dispatches every scheduled call whose time has come.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.svc.repo.ListDueScheduled(ctx, s.svc.clock().UTC(), scheduledBatchLimit)
	if err != nil {
		s.svc.log.Error("scheduled sweep failed", "err", err)
		return
	}
	for _, c := range due {
		id := c.ID
		s.svc.spawn(s.svc.taskTimeout, func(taskCtx context.Context) {
			s.svc.Dispatch(taskCtx, id)
		})
	}
	if len(due) > 0 {
		s.svc.log.Info("scheduled calls promoted", "count", len(due))
	}
}
