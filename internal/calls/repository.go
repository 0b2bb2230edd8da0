package calls

import (
	"context"
	"time"
)

// Patch is a partial update applied to a Call. Nil fields are left untouched;
// SetMetadata keys are merged into the existing metadata map.
type Patch struct {
	Status          *CallStatus
	ProviderCallID  *string
	DurationSeconds *int
	SetMetadata     map[string]string
}

// Repository owns persisted Call, Recording and CallEvent entities. It is the
// only place allowed to mutate them.
//
// ConditionalUpdate is the atomicity mechanism for the state machine guard:
// it applies the patch only while the call's current status is in expected,
// as one atomic unit. Concurrent writers (the dispatch task and webhook
// deliveries racing on the same call) are serialized through it; a guard miss
// surfaces as ErrStaleStatus and the caller drops its event.
type Repository interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error)
	ConditionalUpdate(ctx context.Context, id string, expected []CallStatus, p Patch) (Call, error)

	ListByAccount(ctx context.Context, accountID string, from, to time.Time) ([]Call, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]Call, error)
	CountStatusesByBatch(ctx context.Context, accountID, batchID string) (map[CallStatus]int, error)

	CreateRecording(ctx context.Context, r Recording) error
	RecordingByCall(ctx context.Context, callID string) (Recording, bool, error)
	UpdateRecording(ctx context.Context, r Recording) error

	AppendEvent(ctx context.Context, e CallEvent) error
	ListEvents(ctx context.Context, callID string) ([]CallEvent, error)
}
