package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"dialgate/internal/calls"
	"dialgate/internal/storage"
	"dialgate/internal/telephony"

	"github.com/google/uuid"
)

// Config carries the reconciler's provider credentials and timing knobs.
type Config struct {
	// FetchGrace is how long to wait after a recording event before
	// downloading the artifact; the provider finalizes it asynchronously.
	FetchGrace time.Duration

	// Basic-auth credentials for the artifact download.
	AccountSID string
	AuthToken  string
}

// Reconciler folds provider callback events into call state.
//
// Events are at-least-once and unordered: every apply is a guarded
// conditional update, so duplicates and stale arrivals degrade to no-ops
// instead of corrupting state. Unmatched events are logged and dropped; the
// endpoint still answers 200 so the provider does not retry forever.
type Reconciler struct {
	repo  calls.Repository
	store storage.Store
	cfg   Config
	log   *slog.Logger
	clock func() time.Time

	// fetch downloads a recording artifact. Swapped in tests.
	fetch func(ctx context.Context, url string) (io.ReadCloser, int64, string, error)

	wg sync.WaitGroup
}

func NewReconciler(repo calls.Repository, store storage.Store, cfg Config, log *slog.Logger) *Reconciler {
	if cfg.FetchGrace <= 0 {
		cfg.FetchGrace = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		repo:  repo,
		store: store,
		cfg:   cfg,
		log:   log,
		clock: time.Now,
	}
	r.fetch = r.httpFetch
	return r
}

// resolve finds the call an event belongs to: the embedded local call id
// first, the provider's call id as fallback.
func (r *Reconciler) resolve(ctx context.Context, callIDHint, providerCallID string) (calls.Call, bool) {
	if callIDHint != "" {
		if c, err := r.repo.Get(ctx, callIDHint); err == nil {
			return c, true
		}
	}
	if providerCallID != "" {
		if c, err := r.repo.GetByProviderCallID(ctx, providerCallID); err == nil {
			return c, true
		}
	}
	return calls.Call{}, false
}

// ApplyStatusEvent maps a provider call-status event onto the state machine.
func (r *Reconciler) ApplyStatusEvent(ctx context.Context, callIDHint string, form telephony.StatusCallbackForm) {
	c, ok := r.resolve(ctx, callIDHint, form.CallSid)
	if !ok {
		r.log.Warn("status event unmatched", "provider_call_id", form.CallSid, "status", form.CallStatus)
		return
	}

	target, ok := telephony.MapProviderStatus(form.CallStatus)
	if !ok {
		r.log.Warn("status event unmapped", "call_id", c.ID, "status", form.CallStatus)
		return
	}

	patch := calls.Patch{Status: &target}
	if target == calls.CallStatusCompleted && form.DurationSeconds > 0 {
		d := form.DurationSeconds
		patch.DurationSeconds = &d
	}

	_, err := r.repo.ConditionalUpdate(ctx, c.ID, calls.SourcesFor(target), patch)
	if err != nil {
		// Duplicate or out-of-order delivery; current state wins.
		r.log.Info("status event dropped", "call_id", c.ID, "target", target, "err", err)
		return
	}
	r.appendEvent(ctx, c.ID, calls.EventTypeStatusReceived, map[string]any{
		"provider_status": form.CallStatus,
		"status":          target,
	})
}

// ApplyRecordingEvent records the call's recording and schedules the artifact
// fetch. The first event per call wins; repeats are no-ops.
func (r *Reconciler) ApplyRecordingEvent(ctx context.Context, callIDHint string, form telephony.RecordingCallbackForm) {
	c, ok := r.resolve(ctx, callIDHint, form.CallSid)
	if !ok {
		r.log.Warn("recording event unmatched", "provider_call_id", form.CallSid, "recording", form.RecordingSid)
		return
	}

	now := r.clock().UTC()
	rec := calls.Recording{
		ID:                  uuid.NewString(),
		CallID:              c.ID,
		ProviderRecordingID: form.RecordingSid,
		SourceURL:           form.RecordingURL,
		DurationSeconds:     form.DurationSeconds,
		Status:              calls.RecordingStatusPending,
		TranscriptionStatus: calls.TranscriptionStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := r.repo.CreateRecording(ctx, rec); err != nil {
		if err == calls.ErrDuplicateRecording {
			r.log.Info("recording event duplicate", "call_id", c.ID, "recording", form.RecordingSid)
			return
		}
		r.log.Error("recording create failed", "call_id", c.ID, "err", err)
		return
	}

	st := calls.CallStatusRecordingReceived
	if _, err := r.repo.ConditionalUpdate(ctx, c.ID, calls.SourcesFor(st), calls.Patch{Status: &st}); err != nil {
		// The call already reached a terminal status; keep the recording and
		// fetch it anyway.
		r.log.Info("recording transition skipped", "call_id", c.ID, "err", err)
	}
	r.appendEvent(ctx, c.ID, calls.EventTypeRecordingReceived, map[string]any{
		"provider_recording_id": form.RecordingSid,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		taskCtx, cancel := context.WithTimeout(context.Background(), r.cfg.FetchGrace+time.Minute)
		defer cancel()
		select {
		case <-taskCtx.Done():
			return
		case <-time.After(r.cfg.FetchGrace):
		}
		r.fetchAndStore(taskCtx, c.ID, rec)
	}()
}

// fetchAndStore downloads the artifact, stores it durably and closes the
// call's lifecycle. A fetch failure marks the recording failed and leaves the
// call state alone; the source URL stays retriable out-of-band.
func (r *Reconciler) fetchAndStore(ctx context.Context, callID string, rec calls.Recording) {
	body, size, contentType, err := r.fetch(ctx, rec.SourceURL)
	if err != nil {
		r.failRecording(ctx, callID, rec, err)
		return
	}
	defer body.Close()

	rec.StorageKey = "recordings/" + rec.ID + ".mp3"
	url, err := r.store.Put(ctx, rec.StorageKey, body, size, contentType)
	if err != nil {
		r.failRecording(ctx, callID, rec, err)
		return
	}

	rec.URL = url
	rec.SizeBytes = size
	rec.Status = calls.RecordingStatusStored
	rec.UpdatedAt = r.clock().UTC()
	if err := r.repo.UpdateRecording(ctx, rec); err != nil {
		r.log.Error("recording update failed", "call_id", callID, "err", err)
		return
	}
	r.appendEvent(ctx, callID, calls.EventTypeRecordingStored, map[string]any{
		"storage_key": rec.StorageKey,
		"size_bytes":  size,
	})

	st := calls.CallStatusCompleted
	if _, err := r.repo.ConditionalUpdate(ctx, callID,
		[]calls.CallStatus{calls.CallStatusRecordingReceived},
		calls.Patch{Status: &st},
	); err != nil {
		r.log.Info("completion transition skipped", "call_id", callID, "err", err)
	}
}

func (r *Reconciler) failRecording(ctx context.Context, callID string, rec calls.Recording, cause error) {
	rec.Status = calls.RecordingStatusFailed
	rec.UpdatedAt = r.clock().UTC()
	if err := r.repo.UpdateRecording(ctx, rec); err != nil {
		r.log.Error("recording update failed", "call_id", callID, "err", err)
	}
	r.appendEvent(ctx, callID, calls.EventTypeRecordingFetchFailed, map[string]any{"error": cause.Error()})
	r.log.Warn("recording fetch failed", "call_id", callID, "source_url", rec.SourceURL, "err", cause)
}

// ApplyTranscriptionEvent attaches transcription results to the call's
// recording. Only a pending transcription accepts an update.
func (r *Reconciler) ApplyTranscriptionEvent(ctx context.Context, callIDHint string, form telephony.TranscriptionCallbackForm) {
	c, ok := r.resolve(ctx, callIDHint, form.CallSid)
	if !ok {
		r.log.Warn("transcription event unmatched", "provider_call_id", form.CallSid)
		return
	}

	rec, found, err := r.repo.RecordingByCall(ctx, c.ID)
	if err != nil {
		r.log.Error("recording lookup failed", "call_id", c.ID, "err", err)
		return
	}
	if !found {
		r.log.Warn("transcription event without recording", "call_id", c.ID)
		return
	}
	if rec.TranscriptionStatus != calls.TranscriptionStatusPending {
		r.log.Info("transcription event duplicate", "call_id", c.ID)
		return
	}

	rec.TranscriptionID = form.TranscriptionSid
	rec.TranscriptionText = form.TranscriptionText
	rec.TranscriptionStatus = calls.TranscriptionStatusCompleted
	if form.TranscriptionStatus != "completed" {
		rec.TranscriptionStatus = calls.TranscriptionStatusFailed
	}
	rec.UpdatedAt = r.clock().UTC()
	if err := r.repo.UpdateRecording(ctx, rec); err != nil {
		r.log.Error("recording update failed", "call_id", c.ID, "err", err)
		return
	}
	r.appendEvent(ctx, c.ID, calls.EventTypeTranscriptionReceived, map[string]any{
		"transcription_status": rec.TranscriptionStatus,
	})
}

func (r *Reconciler) httpFetch(ctx context.Context, url string) (io.ReadCloser, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, "", err
	}
	if r.cfg.AccountSID != "" {
		req.SetBasicAuth(r.cfg.AccountSID, r.cfg.AuthToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, "", fmt.Errorf("recording fetch: status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return resp.Body, resp.ContentLength, contentType, nil
}

func (r *Reconciler) appendEvent(ctx context.Context, callID string, typ calls.EventType, payload map[string]any) {
	var body string
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			body = string(b)
		}
	}
	e := calls.CallEvent{
		ID:        uuid.NewString(),
		CallID:    callID,
		Type:      typ,
		Payload:   body,
		CreatedAt: r.clock().UTC(),
	}
	if err := r.repo.AppendEvent(ctx, e); err != nil {
		r.log.Warn("event append failed", "call_id", callID, "type", typ, "err", err)
	}
}

// Wait blocks until all in-flight fetch tasks finish.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}
