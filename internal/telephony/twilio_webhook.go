package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Webhook form parsing for the subset of Twilio callback fields we consume.
// Twilio sends application/x-www-form-urlencoded by default.
//
// Keep this provider-adapter-only; reconciliation decisions are not made here.

// StatusCallbackForm is a call-status event.
type StatusCallbackForm struct {
	CallSid         string
	CallStatus      string
	DurationSeconds int
	To              string
	From            string
}

// RecordingCallbackForm is a recording-complete event.
type RecordingCallbackForm struct {
	CallSid         string
	RecordingSid    string
	RecordingURL    string
	DurationSeconds int
	RecordingStatus string
}

// TranscriptionCallbackForm is a transcription-complete event.
type TranscriptionCallbackForm struct {
	CallSid             string
	RecordingSid        string
	TranscriptionSid    string
	TranscriptionText   string
	TranscriptionStatus string
}

func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}
	return StatusCallbackForm{
		CallSid:         r.PostFormValue("CallSid"),
		CallStatus:      strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		DurationSeconds: atoiOrZero(r.PostFormValue("CallDuration")),
		To:              r.PostFormValue("To"),
		From:            r.PostFormValue("From"),
	}, nil
}

func ParseRecordingCallback(r *http.Request) (RecordingCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingCallbackForm{}, err
	}
	return RecordingCallbackForm{
		CallSid:         r.PostFormValue("CallSid"),
		RecordingSid:    r.PostFormValue("RecordingSid"),
		RecordingURL:    r.PostFormValue("RecordingUrl"),
		DurationSeconds: atoiOrZero(r.PostFormValue("RecordingDuration")),
		RecordingStatus: strings.ToLower(strings.TrimSpace(r.PostFormValue("RecordingStatus"))),
	}, nil
}

func ParseTranscriptionCallback(r *http.Request) (TranscriptionCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return TranscriptionCallbackForm{}, err
	}
	return TranscriptionCallbackForm{
		CallSid:             r.PostFormValue("CallSid"),
		RecordingSid:        r.PostFormValue("RecordingSid"),
		TranscriptionSid:    r.PostFormValue("TranscriptionSid"),
		TranscriptionText:   r.PostFormValue("TranscriptionText"),
		TranscriptionStatus: strings.ToLower(strings.TrimSpace(r.PostFormValue("TranscriptionStatus"))),
	}, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
