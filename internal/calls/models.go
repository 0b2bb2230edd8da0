package calls

import "time"

// Call is one outbound call request and its lifecycle record.
//
// Lifecycle invariants:
// - Status only advances along the transition table in statemachine.go.
// - ProviderCallID is set exactly once (on provider acceptance) and never
//   overwritten.
// - Calls are never deleted; they end in a terminal status.
//
// Metadata is an open key/value map for request payload details (message text,
// voice config, batch id). Provider-specific identifiers live in dedicated
// columns, not in metadata.
type Call struct {
	ID        string `json:"call_id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	APIKeyID  string `json:"api_key_id,omitempty" db:"api_key_id"`

	FromNumber string `json:"from" db:"from_number"`
	ToNumber   string `json:"to" db:"to_number"`

	Status CallStatus `json:"status" db:"status"`

	// ProviderCallID is the provider's identifier for the dispatched call.
	// Empty until the provider accepts the dispatch.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	// ScheduledFor is set when intake requested a future start time.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`

	// DurationSeconds is set on completion.
	DurationSeconds int `json:"duration" db:"duration"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Well-known metadata keys.
const (
	MetaMessage       = "message"
	MetaVoice         = "voice"
	MetaBatchID       = "batch_id"
	MetaDispatchError = "dispatch_error"
	MetaCancelReason  = "cancel_reason"
)

// Recording is the single primary recording of a Call.
//
// Invariants:
// - At most one Recording per Call.
// - TranscriptionStatus transitions pending -> (completed | failed) only.
type Recording struct {
	ID     string `json:"recording_id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	ProviderRecordingID string `json:"provider_recording_id,omitempty" db:"provider_recording_id"`

	// SourceURL is where the provider exposes the artifact for download.
	SourceURL string `json:"source_url,omitempty" db:"source_url"`
	// StorageKey and URL describe the durably stored artifact.
	StorageKey string `json:"storage_key,omitempty" db:"storage_key"`
	URL        string `json:"url,omitempty" db:"url"`

	DurationSeconds int   `json:"duration_seconds" db:"duration_seconds"`
	SizeBytes       int64 `json:"size_bytes" db:"size_bytes"`

	Status RecordingStatus `json:"status" db:"status"`

	TranscriptionID     string              `json:"transcription_id,omitempty" db:"transcription_id"`
	TranscriptionText   string              `json:"transcription_text,omitempty" db:"transcription_text"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status" db:"transcription_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RecordingStatus string

const (
	RecordingStatusPending RecordingStatus = "pending"
	RecordingStatusStored  RecordingStatus = "stored"
	RecordingStatusFailed  RecordingStatus = "failed"
)

type TranscriptionStatus string

const (
	TranscriptionStatusPending   TranscriptionStatus = "pending"
	TranscriptionStatusCompleted TranscriptionStatus = "completed"
	TranscriptionStatusFailed    TranscriptionStatus = "failed"
)

// CallEvent is an append-only audit record of a call's lifecycle.
// Events are never updated or deleted; ordering is append order.
type CallEvent struct {
	ID      string    `json:"id" db:"id"`
	CallID  string    `json:"call_id" db:"call_id"`
	Type    EventType `json:"type" db:"type"`
	Payload string    `json:"payload,omitempty" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCreated              EventType = "created"
	EventTypeDispatching          EventType = "dispatching"
	EventTypeInitiated            EventType = "initiated"
	EventTypeDispatchFailed       EventType = "dispatch_failed"
	EventTypeStatusReceived       EventType = "status_received"
	EventTypeCancelled            EventType = "cancelled"
	EventTypeRecordingReceived    EventType = "recording_received"
	EventTypeRecordingStored      EventType = "recording_stored"
	EventTypeRecordingFetchFailed EventType = "recording_fetch_failed"
	EventTypeTranscriptionReceived EventType = "transcription_received"
)
