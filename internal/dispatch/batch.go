package dispatch

import (
	"context"
	"time"

	"dialgate/internal/calls"

	"github.com/google/uuid"
)

// BatchResult is the synchronous answer to a batch intake: all rows exist
// (status queued) before it is returned; dispatch happens afterwards in the
// background.
type BatchResult struct {
	BatchID string
	Calls   []calls.Call
}

// DispatchBatch admits and creates up to BatchMaxSize calls as one unit.
// Admission is all-or-nothing against the quota; creation is synchronous so
// the caller gets every call id back. Dispatch then runs in a single
// background task, sequentially with a fixed pacing delay, and a failure on
// one call never stops the rest.
func (s *Service) DispatchBatch(ctx context.Context, reqs []CreateRequest) (BatchResult, error) {
	if len(reqs) == 0 {
		return BatchResult{}, calls.NewValidationError("calls", "batch is empty")
	}
	if len(reqs) > s.cfg.BatchMaxSize {
		return BatchResult{}, calls.NewValidationError("calls", "batch exceeds maximum size")
	}
	accountID := reqs[0].AccountID
	for i := range reqs {
		if err := reqs[i].validate(); err != nil {
			return BatchResult{}, err
		}
		if reqs[i].AccountID != accountID {
			return BatchResult{}, calls.NewValidationError("account_id", "batch spans accounts")
		}
	}

	decision, err := s.guard.CheckAdmission(ctx, accountID, len(reqs))
	if err != nil {
		return BatchResult{}, err
	}
	if !decision.Allowed {
		return BatchResult{}, decision.Exceeded(accountID)
	}

	batchID := uuid.NewString()
	created := make([]calls.Call, 0, len(reqs))
	for _, req := range reqs {
		req.batchID = batchID
		req.ScheduledFor = nil
		c, err := s.persistCall(ctx, req)
		if err != nil {
			// Rows created so far stay queued; their dispatch still runs.
			s.dispatchSequentially(created)
			return BatchResult{}, err
		}
		created = append(created, c)
	}

	if err := s.guard.RecordAdmission(ctx, accountID, len(created)); err != nil {
		s.log.Warn("quota record failed", "batch_id", batchID, "err", err)
	}

	s.dispatchSequentially(created)
	return BatchResult{BatchID: batchID, Calls: created}, nil
}

// dispatchSequentially runs the batch's dispatches in one background task,
// pacing them with the configured delay to avoid bursting the provider.
func (s *Service) dispatchSequentially(batch []calls.Call) {
	if len(batch) == 0 {
		return
	}
	timeout := s.taskTimeout + time.Duration(len(batch))*(s.cfg.BatchDispatchDelay+time.Second)
	s.spawn(timeout, func(taskCtx context.Context) {
		for i, c := range batch {
			if i > 0 {
				select {
				case <-taskCtx.Done():
					return
				case <-time.After(s.cfg.BatchDispatchDelay):
				}
			}
			s.Dispatch(taskCtx, c.ID)
		}
	})
}
