package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"dialgate/internal/auth"
	"dialgate/internal/calls"
	"dialgate/internal/config"
	"dialgate/internal/dispatch"
	"dialgate/internal/quota"
	"dialgate/internal/ratelimit"
	"dialgate/internal/reporting"
	"dialgate/internal/storage"
	"dialgate/internal/telephony"
	"dialgate/internal/webhook"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	router   *gin.Engine
	manager  *auth.Manager
	repo     *calls.MemoryRepo
	provider *telephony.FakeProvider
	svc      *dispatch.Service
	rec      *webhook.Reconciler
}

func newAPIFixture(t *testing.T, limits quota.Limits) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	manager, err := auth.NewManager(config.AuthConfig{KeySecret: "test-secret"})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	if limits.MaxPerDay == 0 {
		limits = quota.Limits{MaxPerDay: 100, MaxPerMonth: 1000}
	}

	repo := calls.NewMemoryRepo()
	provider := &telephony.FakeProvider{}
	guard := quota.NewGuard(quota.NewMemoryCounters(), limits)
	svc := dispatch.NewService(repo, provider, guard, dispatch.Config{
		PublicBaseURL: "https://dialgate.example.com",
		FromNumber:    "+15550001111",
	}, log)
	rec := webhook.NewReconciler(repo, storage.NewMemoryStore(), webhook.Config{FetchGrace: time.Millisecond}, log)

	h := Handlers{
		Auth:     manager,
		Dispatch: svc,
		Reports:  reporting.NewService(repo),
		Repo:     repo,
	}

	r := gin.New()
	r.POST("/auth/keys", h.IssueKey)
	webhook.NewHandlers(rec).Register(r)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAPIKey(manager))
	v1.Use(ratelimit.Middleware(ratelimit.NewMemoryLimiter(1000, time.Minute)))
	{
		v1.POST("/call", auth.RequireScope(auth.ScopeCallsWrite), h.CreateCall)
		v1.GET("/calls/:id", auth.RequireScope(auth.ScopeCallsRead), h.GetCall)
		v1.POST("/calls/:id/cancel", auth.RequireScope(auth.ScopeCallsWrite), h.CancelCall)
		v1.POST("/batch", auth.RequireScope(auth.ScopeBatchWrite), h.CreateBatch)
		v1.GET("/batch/:id/status", auth.RequireScope(auth.ScopeCallsRead), h.BatchStatus)
		v1.GET("/reports/calls", auth.RequireScope(auth.ScopeCallsRead), h.CallsReport)
	}

	return &apiFixture{router: r, manager: manager, repo: repo, provider: provider, svc: svc, rec: rec}
}

func (f *apiFixture) issueKey(t *testing.T, accountID string, scopes ...string) string {
	t.Helper()
	token, _, err := f.manager.IssueKey(time.Now(), accountID, scopes)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) postWebhookForm(t *testing.T, path string, form url.Values) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook %s: status %d", path, w.Code)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCallLifecycleEndToEnd(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})
	f.provider.NextCallID = "PV123"
	token := f.issueKey(t, "acct-1", auth.ScopeCallsRead, auth.ScopeCallsWrite)

	w := f.do(t, http.MethodPost, "/v1/call", token, gin.H{
		"phone_number": "+15551234567",
		"message":      "Hello",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	created := decode[map[string]any](t, w)
	callID, _ := created["call_id"].(string)
	if callID == "" || created["status"] != "queued" {
		t.Fatalf("create body: %v", created)
	}
	f.svc.Wait()

	// Provider reports completion.
	form := url.Values{}
	form.Set("CallSid", "PV123")
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "42")
	f.postWebhookForm(t, "/webhooks/twilio/status?call_id="+callID, form)

	w = f.do(t, http.MethodGet, "/v1/calls/"+callID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d body %s", w.Code, w.Body.String())
	}
	var body struct {
		Call calls.Call `json:"call"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Call.Status != calls.CallStatusCompleted || body.Call.DurationSeconds != 42 {
		t.Fatalf("final call = %+v", body.Call)
	}
	if body.Call.ProviderCallID != "PV123" {
		t.Fatalf("provider call id = %q", body.Call.ProviderCallID)
	}
}

func TestAuthAndScopeEnforcement(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})

	if w := f.do(t, http.MethodPost, "/v1/call", "", gin.H{"phone_number": "+1", "message": "x"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/call", "garbage", gin.H{"phone_number": "+1", "message": "x"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", w.Code)
	}

	readOnly := f.issueKey(t, "acct-1", auth.ScopeCallsRead)
	if w := f.do(t, http.MethodPost, "/v1/call", readOnly, gin.H{"phone_number": "+15551234567", "message": "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("read-only write: status %d", w.Code)
	}

	admin := f.issueKey(t, "acct-1", auth.ScopeAdmin)
	if w := f.do(t, http.MethodPost, "/v1/call", admin, gin.H{"phone_number": "+15551234567", "message": "x"}); w.Code != http.StatusAccepted {
		t.Fatalf("admin write: status %d body %s", w.Code, w.Body.String())
	}
	f.svc.Wait()
}

func TestCreateCallValidationResponse(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})
	token := f.issueKey(t, "acct-1", auth.ScopeCallsWrite)

	w := f.do(t, http.MethodPost, "/v1/call", token, gin.H{"message": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	if body["field"] != "phone_number" {
		t.Fatalf("body = %v", body)
	}

	w = f.do(t, http.MethodPost, "/v1/call", token, gin.H{"phone_number": "+15551234567", "message": "x", "scheduled_for": "not-a-time"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad scheduled_for: status %d", w.Code)
	}
}

func TestQuotaExceededResponse(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{MaxPerDay: 1, MaxPerMonth: 10})
	token := f.issueKey(t, "acct-1", auth.ScopeCallsWrite)

	req := gin.H{"phone_number": "+15551234567", "message": "x"}
	if w := f.do(t, http.MethodPost, "/v1/call", token, req); w.Code != http.StatusAccepted {
		t.Fatalf("first call: status %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/v1/call", token, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second call: status %d body %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	if body["usage"] == nil || body["limits"] == nil {
		t.Fatalf("429 body lacks usage/limits: %v", body)
	}
	f.svc.Wait()
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})
	token := f.issueKey(t, "acct-1", auth.ScopeCallsRead, auth.ScopeCallsWrite)

	w := f.do(t, http.MethodPost, "/v1/call", token, gin.H{
		"phone_number": "+15551234567", "message": "x",
		"scheduled_for": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create: status %d", w.Code)
	}
	callID := decode[map[string]any](t, w)["call_id"].(string)

	w = f.do(t, http.MethodPost, "/v1/calls/"+callID+"/cancel", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", w.Code, w.Body.String())
	}
	if decode[map[string]any](t, w)["status"] != "cancelled" {
		t.Fatalf("cancel body: %s", w.Body.String())
	}

	// Cancelling again is an invalid state, not a 500.
	if w := f.do(t, http.MethodPost, "/v1/calls/"+callID+"/cancel", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("double cancel: status %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/calls/missing/cancel", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing cancel: status %d", w.Code)
	}
}

func TestGetCallIsAccountScoped(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})
	owner := f.issueKey(t, "acct-1", auth.ScopeCallsRead, auth.ScopeCallsWrite)
	other := f.issueKey(t, "acct-2", auth.ScopeCallsRead)

	w := f.do(t, http.MethodPost, "/v1/call", owner, gin.H{"phone_number": "+15551234567", "message": "x"})
	callID := decode[map[string]any](t, w)["call_id"].(string)
	f.svc.Wait()

	if w := f.do(t, http.MethodGet, "/v1/calls/"+callID, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign get: status %d", w.Code)
	}
}

func TestBatchEndpoints(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})
	token := f.issueKey(t, "acct-1", auth.ScopeCallsRead, auth.ScopeBatchWrite)

	w := f.do(t, http.MethodPost, "/v1/batch", token, gin.H{
		"calls": []gin.H{
			{"phone_number": "+15550000001", "message": "a"},
			{"phone_number": "+15550000002", "message": "b"},
		},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("batch: status %d body %s", w.Code, w.Body.String())
	}
	var res struct {
		BatchID string `json:"batch_id"`
		Calls   []struct {
			CallID string `json:"call_id"`
		} `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.BatchID == "" || len(res.Calls) != 2 {
		t.Fatalf("batch body: %s", w.Body.String())
	}
	f.svc.Wait()

	w = f.do(t, http.MethodGet, "/v1/batch/"+res.BatchID+"/status", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("batch status: %d body %s", w.Code, w.Body.String())
	}
	var status reporting.BatchStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Total != 2 || status.Counts[calls.CallStatusInitiated] != 2 {
		t.Fatalf("batch status: %+v", status)
	}

	if w := f.do(t, http.MethodGet, "/v1/batch/missing/status", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing batch: status %d", w.Code)
	}
}

func TestCallsReportEndpoint(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})
	token := f.issueKey(t, "acct-1", auth.ScopeCallsRead, auth.ScopeCallsWrite)

	for _, n := range []string{"+15550000001", "+15550000002"} {
		if w := f.do(t, http.MethodPost, "/v1/call", token, gin.H{"phone_number": n, "message": "x"}); w.Code != http.StatusAccepted {
			t.Fatalf("create %s: status %d", n, w.Code)
		}
	}
	f.svc.Wait()

	w := f.do(t, http.MethodGet, "/v1/reports/calls", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report: status %d body %s", w.Code, w.Body.String())
	}
	var summary reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.TotalCalls != 2 || summary.InFlightCalls != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	if w := f.do(t, http.MethodGet, "/v1/reports/calls?from=garbage", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad from: status %d", w.Code)
	}
}

func TestIssueKeyEndpoint(t *testing.T) {
	f := newAPIFixture(t, quota.Limits{})

	w := f.do(t, http.MethodPost, "/auth/keys", "", gin.H{"account_id": "acct-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("issue: status %d body %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	tok, _ := body["api_key"].(string)
	if tok == "" || body["api_key_id"] == "" {
		t.Fatalf("body = %v", body)
	}

	// The issued key authenticates.
	if w := f.do(t, http.MethodGet, "/v1/reports/calls", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("issued key: status %d", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/auth/keys", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing account: status %d", w.Code)
	}
}
