package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository used in tests and local development.
// It keeps a secondary index by provider call id so webhook reconciliation is
// O(1), mirroring the index the Postgres schema carries.
type MemoryRepo struct {
	mu         sync.Mutex
	calls      map[string]Call
	byProvider map[string]string    // providerCallID -> call id
	recordings map[string]Recording // call id -> recording
	events     []CallEvent
	clock      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls:      make(map[string]Call),
		byProvider: make(map[string]string),
		recordings: make(map[string]Recording),
		clock:      time.Now,
	}
}

func cloneCall(c Call) Call {
	out := c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	if c.ScheduledFor != nil {
		t := *c.ScheduledFor
		out.ScheduledFor = &t
	}
	return out
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = cloneCall(c)
	if c.ProviderCallID != "" {
		r.byProvider[c.ProviderCallID] = c.ID
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byProvider[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(r.calls[id]), nil
}

func (r *MemoryRepo) ConditionalUpdate(ctx context.Context, id string, expected []CallStatus, p Patch) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}

	if len(expected) > 0 {
		match := false
		for _, s := range expected {
			if c.Status == s {
				match = true
				break
			}
		}
		if !match {
			return Call{}, ErrStaleStatus
		}
	}

	if p.ProviderCallID != nil && *p.ProviderCallID != "" {
		if c.ProviderCallID != "" && c.ProviderCallID != *p.ProviderCallID {
			return Call{}, ErrProviderIDConflict
		}
		c.ProviderCallID = *p.ProviderCallID
		r.byProvider[c.ProviderCallID] = c.ID
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.DurationSeconds != nil {
		c.DurationSeconds = *p.DurationSeconds
	}
	if len(p.SetMetadata) > 0 {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string, len(p.SetMetadata))
		} else {
			merged := make(map[string]string, len(c.Metadata)+len(p.SetMetadata))
			for k, v := range c.Metadata {
				merged[k] = v
			}
			c.Metadata = merged
		}
		for k, v := range p.SetMetadata {
			c.Metadata[k] = v
		}
	}
	c.UpdatedAt = r.clock().UTC()

	r.calls[id] = c
	return cloneCall(c), nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.AccountID != accountID {
			continue
		}
		if !from.IsZero() && c.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && c.CreatedAt.After(to) {
			continue
		}
		out = append(out, cloneCall(c))
	}
	return out, nil
}

func (r *MemoryRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Status != CallStatusScheduled || c.ScheduledFor == nil {
			continue
		}
		if c.ScheduledFor.After(now) {
			continue
		}
		out = append(out, cloneCall(c))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountStatusesByBatch(ctx context.Context, accountID, batchID string) (map[CallStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[CallStatus]int)
	for _, c := range r.calls {
		if c.AccountID != accountID {
			continue
		}
		if c.Metadata[MetaBatchID] != batchID {
			continue
		}
		out[c.Status]++
	}
	return out, nil
}

func (r *MemoryRepo) CreateRecording(ctx context.Context, rec Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.recordings[rec.CallID]; exists {
		return ErrDuplicateRecording
	}
	r.recordings[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) RecordingByCall(ctx context.Context, callID string) (Recording, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recordings[callID]
	return rec, ok, nil
}

func (r *MemoryRepo) UpdateRecording(ctx context.Context, rec Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recordings[rec.CallID]; !ok {
		return ErrNotFound
	}
	rec.UpdatedAt = r.clock().UTC()
	r.recordings[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ListEvents(ctx context.Context, callID string) ([]CallEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallEvent
	for _, e := range r.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}
