package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dialgate/internal/calls"
	"dialgate/internal/quota"
	"dialgate/internal/telephony"

	"github.com/google/uuid"
)

// Config carries the dispatcher's operational knobs.
type Config struct {
	// PublicBaseURL is the prefix for provider callback URLs.
	PublicBaseURL string
	// FromNumber is the default origin number.
	FromNumber string

	BatchMaxSize       int
	BatchDispatchDelay time.Duration
}

// Service creates calls, admits them through the quota guard and drives the
// provider dispatch as a background task.
//
// Intake returns before dispatch completes; the caller observes progress by
// polling call status. Every background failure terminates in a call-state
// transition so state is always observable.
type Service struct {
	repo     calls.Repository
	provider telephony.Provider
	guard    *quota.Guard
	cfg      Config
	log      *slog.Logger
	clock    func() time.Time

	wg sync.WaitGroup
	// taskTimeout bounds a single background dispatch.
	taskTimeout time.Duration
}

func NewService(repo calls.Repository, provider telephony.Provider, guard *quota.Guard, cfg Config, log *slog.Logger) *Service {
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 50
	}
	if cfg.BatchDispatchDelay <= 0 {
		cfg.BatchDispatchDelay = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:        repo,
		provider:    provider,
		guard:       guard,
		cfg:         cfg,
		log:         log,
		clock:       time.Now,
		taskTimeout: time.Minute,
	}
}

// CreateRequest is one call intake.
type CreateRequest struct {
	AccountID string
	APIKeyID  string

	ToNumber string
	// Message is the text spoken to the callee.
	Message string
	Voice   string

	// ScheduledFor defers dispatch when strictly in the future.
	ScheduledFor *time.Time

	// batchID groups calls created through DispatchBatch.
	batchID string
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return calls.NewValidationError("account_id", "required")
	}
	if strings.TrimSpace(r.ToNumber) == "" {
		return calls.NewValidationError("phone_number", "required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return calls.NewValidationError("message", "required")
	}
	return nil
}

// CreateCall validates the request, checks quota, persists the call and
// schedules a background dispatch. It returns as soon as the call row exists
// (the "accepted for processing" contract); provider errors surface later as
// a failed status.
func (s *Service) CreateCall(ctx context.Context, req CreateRequest) (calls.Call, error) {
	if err := req.validate(); err != nil {
		return calls.Call{}, err
	}

	decision, err := s.guard.CheckAdmission(ctx, req.AccountID, 1)
	if err != nil {
		return calls.Call{}, err
	}
	if !decision.Allowed {
		return calls.Call{}, decision.Exceeded(req.AccountID)
	}

	c, err := s.persistCall(ctx, req)
	if err != nil {
		return calls.Call{}, err
	}

	if err := s.guard.RecordAdmission(ctx, req.AccountID, 1); err != nil {
		// The call is already persisted; losing a counter increment is
		// preferable to failing the intake.
		s.log.Warn("quota record failed", "call_id", c.ID, "err", err)
	}

	if c.Status == calls.CallStatusQueued {
		s.spawn(s.taskTimeout, func(taskCtx context.Context) {
			s.Dispatch(taskCtx, c.ID)
		})
	}
	return c, nil
}

func (s *Service) persistCall(ctx context.Context, req CreateRequest) (calls.Call, error) {
	now := s.clock().UTC()

	meta := map[string]string{calls.MetaMessage: req.Message}
	if req.Voice != "" {
		meta[calls.MetaVoice] = req.Voice
	}
	if req.batchID != "" {
		meta[calls.MetaBatchID] = req.batchID
	}

	c := calls.Call{
		ID:         uuid.NewString(),
		AccountID:  req.AccountID,
		APIKeyID:   req.APIKeyID,
		FromNumber: s.cfg.FromNumber,
		ToNumber:   strings.TrimSpace(req.ToNumber),
		Status:     calls.CallStatusQueued,
		Metadata:   meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		t := req.ScheduledFor.UTC()
		c.Status = calls.CallStatusScheduled
		c.ScheduledFor = &t
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return calls.Call{}, err
	}
	s.appendEvent(ctx, c.ID, calls.EventTypeCreated, map[string]any{"status": c.Status})
	return c, nil
}

// Dispatch drives one call through the provider: queued|scheduled ->
// initiating -> initiated (or failed). A stale-status guard miss means the
// call was cancelled (or already picked up) in the meantime; the dispatch is
// dropped silently.
func (s *Service) Dispatch(ctx context.Context, callID string) {
	st := calls.CallStatusInitiating
	c, err := s.repo.ConditionalUpdate(ctx, callID,
		[]calls.CallStatus{calls.CallStatusQueued, calls.CallStatusScheduled},
		calls.Patch{Status: &st},
	)
	if err != nil {
		s.log.Info("dispatch skipped", "call_id", callID, "err", err)
		return
	}
	s.appendEvent(ctx, callID, calls.EventTypeDispatching, nil)

	providerCallID, err := s.provider.Initiate(ctx, telephony.InitiateRequest{
		To:        c.ToNumber,
		From:      c.FromNumber,
		Message:   c.Metadata[calls.MetaMessage],
		Voice:     c.Metadata[calls.MetaVoice],
		Callbacks: s.callbackURLs(c.ID),
	})
	if err != nil {
		s.failDispatch(ctx, callID, err)
		return
	}

	st = calls.CallStatusInitiated
	_, err = s.repo.ConditionalUpdate(ctx, callID,
		[]calls.CallStatus{calls.CallStatusInitiating},
		calls.Patch{Status: &st, ProviderCallID: &providerCallID},
	)
	if err != nil {
		// Cancelled while the provider call was in flight; the provider-side
		// call is reaped by the cancel path or ends on its own.
		s.log.Warn("initiated update lost", "call_id", callID, "provider_call_id", providerCallID, "err", err)
		return
	}
	s.appendEvent(ctx, callID, calls.EventTypeInitiated, map[string]any{"provider_call_id": providerCallID})
}

func (s *Service) failDispatch(ctx context.Context, callID string, cause error) {
	st := calls.CallStatusFailed
	_, err := s.repo.ConditionalUpdate(ctx, callID,
		[]calls.CallStatus{calls.CallStatusInitiating},
		calls.Patch{
			Status:      &st,
			SetMetadata: map[string]string{calls.MetaDispatchError: cause.Error()},
		},
	)
	if err != nil {
		s.log.Error("failed-state update lost", "call_id", callID, "err", err)
		return
	}
	s.appendEvent(ctx, callID, calls.EventTypeDispatchFailed, map[string]any{"error": cause.Error()})
	s.log.Warn("dispatch failed", "call_id", callID, "err", cause)
}

// Cancel moves a non-terminal call to cancelled. The provider-side cancel is
// best-effort: its failure is logged and swallowed, never surfaced, and the
// local transition proceeds regardless.
func (s *Service) Cancel(ctx context.Context, accountID, callID string) (calls.Call, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if accountID != "" && c.AccountID != accountID {
		return calls.Call{}, calls.ErrNotFound
	}
	if c.Status.Terminal() {
		return calls.Call{}, calls.ErrInvalidState
	}

	if c.ProviderCallID != "" {
		if err := s.provider.Cancel(ctx, c.ProviderCallID); err != nil {
			s.log.Warn("provider cancel failed", "call_id", callID, "provider_call_id", c.ProviderCallID, "err", err)
		}
	}

	st := calls.CallStatusCancelled
	updated, err := s.repo.ConditionalUpdate(ctx, callID,
		calls.SourcesFor(calls.CallStatusCancelled),
		calls.Patch{Status: &st},
	)
	if err != nil {
		// Raced to a terminal status between the read and the update.
		if err == calls.ErrStaleStatus {
			return calls.Call{}, calls.ErrInvalidState
		}
		return calls.Call{}, err
	}
	s.appendEvent(ctx, callID, calls.EventTypeCancelled, nil)
	return updated, nil
}

func (s *Service) callbackURLs(callID string) telephony.CallbackURLs {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return telephony.CallbackURLs{
		Status:        base + "/webhooks/twilio/status?call_id=" + callID,
		Recording:     base + "/webhooks/twilio/recording?call_id=" + callID,
		Transcription: base + "/webhooks/twilio/transcription?call_id=" + callID,
	}
}

// appendEvent records an audit event; audit failures never block lifecycle
// transitions.
func (s *Service) appendEvent(ctx context.Context, callID string, typ calls.EventType, payload map[string]any) {
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
		CreatedAt: s.clock().UTC(),
	}
	if err := s.repo.AppendEvent(ctx, e); err != nil {
		s.log.Warn("event append failed", "call_id", callID, "type", typ, "err", err)
	}
}

// spawn runs fn as a tracked background task with its own deadline, detached
// from the triggering request's context.
func (s *Service) spawn(timeout time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until all background tasks finish. Used on shutdown and in
// tests.
func (s *Service) Wait() {
	s.wg.Wait()
}
