package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"dialgate/internal/calls"
	"dialgate/internal/storage"
	"dialgate/internal/telephony"
)

func newTestReconciler(t *testing.T) (*Reconciler, *calls.MemoryRepo, *storage.MemoryStore) {
	t.Helper()
	repo := calls.NewMemoryRepo()
	store := storage.NewMemoryStore()
	rec := NewReconciler(repo, store, Config{FetchGrace: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec.fetch = func(ctx context.Context, url string) (io.ReadCloser, int64, string, error) {
		return io.NopCloser(strings.NewReader("audio-bytes")), 11, "audio/mpeg", nil
	}
	return rec, repo, store
}

func seedCall(t *testing.T, repo *calls.MemoryRepo, status calls.CallStatus, providerCallID string) calls.Call {
	t.Helper()
	now := time.Now().UTC()
	c := calls.Call{
		ID:             "call-1",
		AccountID:      "acct-1",
		ToNumber:       "+15551234567",
		FromNumber:     "+15550001111",
		Status:         status,
		ProviderCallID: providerCallID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

func TestStatusEventAdvancesCall(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusInitiated, "PV123")

	rec.ApplyStatusEvent(context.Background(), c.ID, telephony.StatusCallbackForm{
		CallSid: "PV123", CallStatus: "ringing",
	})
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusRinging {
		t.Fatalf("status = %s, want ringing", got.Status)
	}

	rec.ApplyStatusEvent(context.Background(), c.ID, telephony.StatusCallbackForm{
		CallSid: "PV123", CallStatus: "completed", DurationSeconds: 42,
	})
	got, _ = repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusCompleted || got.DurationSeconds != 42 {
		t.Fatalf("after completion: %+v", got)
	}
}

func TestStatusEventResolvesByProviderCallID(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusInitiated, "PV123")

	// No call_id hint; falls back to the provider id.
	rec.ApplyStatusEvent(context.Background(), "", telephony.StatusCallbackForm{
		CallSid: "PV123", CallStatus: "in-progress",
	})
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusAnswered {
		t.Fatalf("status = %s, want answered", got.Status)
	}
}

func TestStaleStatusEventIsDropped(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusCompleted, "PV123")

	// A late "ringing" after completion must not regress the call.
	rec.ApplyStatusEvent(context.Background(), c.ID, telephony.StatusCallbackForm{
		CallSid: "PV123", CallStatus: "ringing",
	})
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status regressed to %s", got.Status)
	}
}

func TestUnmatchedEventIsNoOp(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	rec.ApplyStatusEvent(context.Background(), "nope", telephony.StatusCallbackForm{
		CallSid: "PV-unknown", CallStatus: "completed",
	})
	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("unexpected call created: %v", err)
	}
}

func TestRecordingEventStoresArtifactAndCompletes(t *testing.T) {
	rec, repo, store := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusAnswered, "PV123")

	rec.ApplyRecordingEvent(context.Background(), c.ID, telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL:    "https://api.twilio.example/recordings/RE456",
		DurationSeconds: 40,
	})
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusRecordingReceived {
		t.Fatalf("status = %s, want recording_received", got.Status)
	}

	rec.Wait()

	got, _ = repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status after fetch = %s, want completed", got.Status)
	}
	stored, found, err := repo.RecordingByCall(context.Background(), c.ID)
	if err != nil || !found {
		t.Fatalf("RecordingByCall: %v %v", found, err)
	}
	if stored.Status != calls.RecordingStatusStored || stored.SizeBytes != 11 {
		t.Fatalf("recording = %+v", stored)
	}
	if _, ok := store.Object(stored.StorageKey); !ok {
		t.Fatalf("artifact missing under %q", stored.StorageKey)
	}
}

func TestRecordingEventIsIdempotent(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusAnswered, "PV123")

	form := telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL: "https://api.twilio.example/recordings/RE456",
	}
	rec.ApplyRecordingEvent(context.Background(), c.ID, form)
	rec.ApplyRecordingEvent(context.Background(), c.ID, form)
	rec.Wait()

	stored, found, _ := repo.RecordingByCall(context.Background(), c.ID)
	if !found || stored.ProviderRecordingID != "RE456" {
		t.Fatalf("recording = %+v", stored)
	}
	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestRecordingAfterCompletionKeepsCallState(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusCompleted, "PV123")

	rec.ApplyRecordingEvent(context.Background(), c.ID, telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL: "https://api.twilio.example/recordings/RE456",
	})
	rec.Wait()

	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	stored, found, _ := repo.RecordingByCall(context.Background(), c.ID)
	if !found || stored.Status != calls.RecordingStatusStored {
		t.Fatalf("recording = %+v", stored)
	}
}

func TestRecordingFetchFailureLeavesCallState(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusAnswered, "PV123")
	rec.fetch = func(ctx context.Context, url string) (io.ReadCloser, int64, string, error) {
		return nil, 0, "", errors.New("provider 404")
	}

	rec.ApplyRecordingEvent(context.Background(), c.ID, telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL: "https://api.twilio.example/recordings/RE456",
	})
	rec.Wait()

	got, _ := repo.Get(context.Background(), c.ID)
	if got.Status != calls.CallStatusRecordingReceived {
		t.Fatalf("status = %s, want recording_received (unchanged)", got.Status)
	}
	stored, found, _ := repo.RecordingByCall(context.Background(), c.ID)
	if !found || stored.Status != calls.RecordingStatusFailed {
		t.Fatalf("recording = %+v, want failed", stored)
	}
	if stored.SourceURL == "" {
		t.Fatal("source url lost; manual retry impossible")
	}
}

func TestStorePutFailureMarksRecordingFailed(t *testing.T) {
	rec, repo, store := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusAnswered, "PV123")
	store.PutErr = errors.New("bucket gone")

	rec.ApplyRecordingEvent(context.Background(), c.ID, telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL: "https://api.twilio.example/recordings/RE456",
	})
	rec.Wait()

	stored, found, _ := repo.RecordingByCall(context.Background(), c.ID)
	if !found || stored.Status != calls.RecordingStatusFailed {
		t.Fatalf("recording = %+v, want failed", stored)
	}
}

func TestTranscriptionEventUpdatesRecordingOnce(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusAnswered, "PV123")

	rec.ApplyRecordingEvent(context.Background(), c.ID, telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL: "https://api.twilio.example/recordings/RE456",
	})
	rec.Wait()

	rec.ApplyTranscriptionEvent(context.Background(), c.ID, telephony.TranscriptionCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456", TranscriptionSid: "TR789",
		TranscriptionText: "I am fine, thank you", TranscriptionStatus: "completed",
	})
	stored, _, _ := repo.RecordingByCall(context.Background(), c.ID)
	if stored.TranscriptionStatus != calls.TranscriptionStatusCompleted || stored.TranscriptionText == "" {
		t.Fatalf("recording = %+v", stored)
	}

	// A second delivery must not overwrite the text.
	rec.ApplyTranscriptionEvent(context.Background(), c.ID, telephony.TranscriptionCallbackForm{
		CallSid: "PV123", TranscriptionSid: "TR789", TranscriptionText: "garbage", TranscriptionStatus: "completed",
	})
	stored, _, _ = repo.RecordingByCall(context.Background(), c.ID)
	if stored.TranscriptionText != "I am fine, thank you" {
		t.Fatalf("transcription overwritten: %q", stored.TranscriptionText)
	}
}

func TestTranscriptionFailureStatus(t *testing.T) {
	rec, repo, _ := newTestReconciler(t)
	c := seedCall(t, repo, calls.CallStatusAnswered, "PV123")

	rec.ApplyRecordingEvent(context.Background(), c.ID, telephony.RecordingCallbackForm{
		CallSid: "PV123", RecordingSid: "RE456",
		RecordingURL: "https://api.twilio.example/recordings/RE456",
	})
	rec.Wait()

	rec.ApplyTranscriptionEvent(context.Background(), c.ID, telephony.TranscriptionCallbackForm{
		CallSid: "PV123", TranscriptionStatus: "failed",
	})
	stored, _, _ := repo.RecordingByCall(context.Background(), c.ID)
	if stored.TranscriptionStatus != calls.TranscriptionStatusFailed {
		t.Fatalf("transcription status = %s, want failed", stored.TranscriptionStatus)
	}
}
