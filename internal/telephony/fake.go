package telephony

import (
	"context"
	"strconv"
	"sync"
)

// FakeProvider is a controllable Provider for tests and local development.
type FakeProvider struct {
	mu sync.Mutex

	// NextCallID is returned by the next Initiate; defaults to "FAKE-1",
	// "FAKE-2", ...
	NextCallID string
	// InitiateErr, when set, fails every Initiate.
	InitiateErr error
	// CancelErr, when set, fails every Cancel.
	CancelErr error

	initiated []InitiateRequest
	cancelled []string
	seq       int
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitiateErr != nil {
		return "", f.InitiateErr
	}
	f.initiated = append(f.initiated, req)
	if f.NextCallID != "" {
		return f.NextCallID, nil
	}
	f.seq++
	return "FAKE-" + strconv.Itoa(f.seq), nil
}

func (f *FakeProvider) Cancel(ctx context.Context, providerCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, providerCallID)
	return f.CancelErr
}

func (f *FakeProvider) Initiated() []InitiateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]InitiateRequest, len(f.initiated))
	copy(out, f.initiated)
	return out
}

func (f *FakeProvider) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelled))
	copy(out, f.cancelled)
	return out
}
