package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dialgate/internal/config"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider places calls through the Twilio REST API.
// Requests are form-encoded; responses are JSON.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewTwilioProvider(cfg config.TwilioConfig) *TwilioProvider {
	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	twiml, err := RenderPromptAndRecord(req)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", twiml)
	form.Set("StatusCallback", req.Callbacks.Status)
	form.Set("StatusCallbackMethod", "POST")
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	out, err := p.post(ctx, "initiate", endpoint, form)
	if err != nil {
		return "", err
	}
	if out.SID == "" {
		return "", &ProviderError{Op: "initiate", Message: "no call sid in response"}
	}
	return out.SID, nil
}

// Cancel asks the provider to end the call. Twilio models this as updating
// the call resource's status.
func (p *TwilioProvider) Cancel(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return &ProviderError{Op: "cancel", Message: "provider call id required"}
	}
	form := url.Values{}
	form.Set("Status", "canceled")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", p.baseURL, p.accountSID, providerCallID)
	_, err := p.post(ctx, "cancel", endpoint, form)
	return err
}

func (p *TwilioProvider) post(ctx context.Context, op, endpoint string, form url.Values) (twilioCallResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return twilioCallResponse{}, &ProviderError{Op: op, Message: err.Error()}
	}
	httpReq.SetBasicAuth(p.accountSID, p.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return twilioCallResponse{}, &ProviderError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return twilioCallResponse{}, &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	var out twilioCallResponse
	// Error payloads share the same JSON shape (code/message).
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return twilioCallResponse{}, &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return out, nil
}
