package reporting

import (
	"context"
	"errors"
	"time"

	"dialgate/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// TimeRange is a half-open [From, To) reporting window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CallsSummary aggregates an account's calls over a window.
type CallsSummary struct {
	AccountID string `json:"account_id"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	InFlightCalls  int `json:"in_flight_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

// BatchStatus is the per-status breakdown of one batch.
type BatchStatus struct {
	BatchID string                   `json:"batch_id"`
	Total   int                      `json:"total"`
	Counts  map[calls.CallStatus]int `json:"counts"`
	Done    bool                     `json:"done"`
}

// Service answers read-only reporting queries over the calls repository.
// Aggregation happens in memory; the windows involved are account-scoped and
// small.
type Service struct {
	repo calls.Repository
}

func NewService(repo calls.Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, accountID string, r TimeRange) (CallsSummary, error) {
	if accountID == "" || !r.valid() {
		return CallsSummary{}, ErrInvalidRequest
	}

	rows, err := s.repo.ListByAccount(ctx, accountID, r.From, r.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AccountID: accountID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusCancelled:
			out.CancelledCalls++
		default:
			out.InFlightCalls++
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CompletedCalls
	}
	return out, nil
}

func (s *Service) BatchStatus(ctx context.Context, accountID, batchID string) (BatchStatus, error) {
	if accountID == "" || batchID == "" {
		return BatchStatus{}, ErrInvalidRequest
	}

	counts, err := s.repo.CountStatusesByBatch(ctx, accountID, batchID)
	if err != nil {
		return BatchStatus{}, err
	}
	if len(counts) == 0 {
		return BatchStatus{}, calls.ErrNotFound
	}

	out := BatchStatus{BatchID: batchID, Counts: counts, Done: true}
	for st, n := range counts {
		out.Total += n
		if !st.Terminal() {
			out.Done = false
		}
	}
	return out, nil
}
