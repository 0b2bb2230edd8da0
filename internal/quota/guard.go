package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Limits are the configured per-account call-volume ceilings.
type Limits struct {
	MaxPerDay   int `json:"max_per_day"`
	MaxPerMonth int `json:"max_per_month"`
}

// Usage is the account's rolling call counts for the current calendar day
// and month.
type Usage struct {
	Day   int `json:"day"`
	Month int `json:"month"`
}

// Decision is the admission verdict, carrying current usage and limits so a
// 429 response can explain itself.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Usage   Usage  `json:"usage"`
	Limits  Limits `json:"limits"`
}

// ExceededError is returned when admission is denied.
type ExceededError struct {
	AccountID string
	Reason    string
	Usage     Usage
	Limits    Limits
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s exceeded for account %s", e.Reason, e.AccountID)
}

var ErrInvalidArgument = errors.New("quota: invalid argument")

// Counters is the persistence contract for per-account admission counts.
// Period keys are calendar-derived (e.g. "2026-08-28", "2026-08"); rolling
// resets fall out of the key changing at the calendar boundary.
type Counters interface {
	Usage(ctx context.Context, accountID, dayKey, monthKey string) (Usage, error)
	Add(ctx context.Context, accountID, dayKey, monthKey string, n int) error
}

// Guard decides admission against configured ceilings.
//
// RecordAdmission must be called only after the admitted calls were actually
// created, never speculatively. Batch admission is all-or-nothing: the whole
// requested count is admitted or the whole batch is rejected.
type Guard struct {
	counters Counters
	limits   Limits
	clock    func() time.Time
}

func NewGuard(counters Counters, limits Limits) *Guard {
	return &Guard{counters: counters, limits: limits, clock: time.Now}
}

func periodKeys(now time.Time) (dayKey, monthKey string) {
	now = now.UTC()
	return now.Format("2006-01-02"), now.Format("2006-01")
}

func (g *Guard) CheckAdmission(ctx context.Context, accountID string, requested int) (Decision, error) {
	if accountID == "" || requested <= 0 {
		return Decision{}, ErrInvalidArgument
	}

	dayKey, monthKey := periodKeys(g.clock())
	usage, err := g.counters.Usage(ctx, accountID, dayKey, monthKey)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: true, Usage: usage, Limits: g.limits}
	if usage.Day+requested > g.limits.MaxPerDay {
		d.Allowed = false
		d.Reason = "daily call limit"
	} else if usage.Month+requested > g.limits.MaxPerMonth {
		d.Allowed = false
		d.Reason = "monthly call limit"
	}
	return d, nil
}

func (g *Guard) RecordAdmission(ctx context.Context, accountID string, count int) error {
	if accountID == "" || count <= 0 {
		return ErrInvalidArgument
	}
	dayKey, monthKey := periodKeys(g.clock())
	return g.counters.Add(ctx, accountID, dayKey, monthKey, count)
}

// Exceeded converts a denied decision into the error callers surface as 429.
func (d Decision) Exceeded(accountID string) error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{AccountID: accountID, Reason: d.Reason, Usage: d.Usage, Limits: d.Limits}
}
