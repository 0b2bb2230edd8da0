package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dialgate/internal/config"
)

func testProvider(t *testing.T, handler http.HandlerFunc) *TwilioProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewTwilioProvider(config.TwilioConfig{AccountSID: "AC123", AuthToken: "secret"})
	p.baseURL = srv.URL
	return p
}

func TestTwilioProvider_Initiate(t *testing.T) {
	var gotForm map[string]string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Calls.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		_ = r.ParseForm()
		gotForm = map[string]string{
			"To":             r.PostFormValue("To"),
			"StatusCallback": r.PostFormValue("StatusCallback"),
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	})

	sid, err := p.Initiate(context.Background(), InitiateRequest{
		To:      "+15551234567",
		From:    "+15550000000",
		Message: "Hello",
		Callbacks: CallbackURLs{
			Status: "https://api.example.com/webhooks/twilio/status?call_id=c1",
		},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if sid != "CA999" {
		t.Fatalf("expected CA999, got %s", sid)
	}
	if gotForm["To"] != "+15551234567" {
		t.Fatalf("To not forwarded: %+v", gotForm)
	}
	if gotForm["StatusCallback"] == "" {
		t.Fatalf("status callback not forwarded")
	}
}

func TestTwilioProvider_Initiate_ErrorResponse(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' phone number","status":400}`))
	})

	_, err := p.Initiate(context.Background(), InitiateRequest{To: "bad", Message: "Hello"})
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %+v", perr)
	}
}

func TestTwilioProvider_Cancel(t *testing.T) {
	var gotStatus string
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Calls/CA999.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotStatus = r.PostFormValue("Status")
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"canceled"}`))
	})

	if err := p.Cancel(context.Background(), "CA999"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotStatus != "canceled" {
		t.Fatalf("expected Status=canceled, got %q", gotStatus)
	}
}
