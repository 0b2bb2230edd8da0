package telephony

import (
	"context"
	"fmt"

	"dialgate/internal/calls"
)

// Provider defines the provider-agnostic interface used by the dispatcher
// and the cancel path.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic; provider raw payloads go
//   to call metadata if needed.
type Provider interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (providerCallID string, err error)
	Cancel(ctx context.Context, providerCallID string) error
}

// CallbackURLs are the webhook endpoints the provider posts lifecycle events
// to. Each embeds the local call id so reconciliation never depends on
// attribute search.
type CallbackURLs struct {
	Status        string
	Recording     string
	Transcription string
}

// InitiateRequest describes one outbound call to place.
type InitiateRequest struct {
	To   string
	From string

	// Message is the text spoken to the callee before recording starts.
	Message string
	// Voice optionally selects the provider voice.
	Voice string

	Callbacks CallbackURLs
}

// ProviderError reports a rejected or failed provider request. Dispatch
// converts it into a failed call, not an API-level error.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("telephony: %s failed: %d %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("telephony: %s failed: %s", e.Op, e.Message)
}

// MapProviderStatus translates a provider call-status string into the local
// lifecycle status. Unknown statuses are reported as unmapped and dropped by
// the reconciler.
func MapProviderStatus(s string) (calls.CallStatus, bool) {
	switch s {
	case "initiated", "queued":
		return calls.CallStatusInitiated, true
	case "ringing":
		return calls.CallStatusRinging, true
	case "in-progress", "answered":
		return calls.CallStatusAnswered, true
	case "completed":
		return calls.CallStatusCompleted, true
	case "busy", "failed", "no-answer":
		return calls.CallStatusFailed, true
	case "canceled":
		return calls.CallStatusCancelled, true
	default:
		return "", false
	}
}
