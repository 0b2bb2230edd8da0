package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal Twilio Markup Language builder for the outbound prompt-and-record
// flow. It intentionally avoids any provider SDK dependency; only include
// primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlRecord struct {
	XMLName                       xml.Name `xml:"Record"`
	MaxLength                     int      `xml:"maxLength,attr,omitempty"`
	PlayBeep                      bool     `xml:"playBeep,attr"`
	RecordingStatusCallback       string   `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackMethod string   `xml:"recordingStatusCallbackMethod,attr,omitempty"`
	Transcribe                    bool     `xml:"transcribe,attr"`
	TranscribeCallback            string   `xml:"transcribeCallback,attr,omitempty"`
}

// RenderPromptAndRecord builds the TwiML for an outbound call: speak the
// message, pause briefly, then record the callee's answer with recording and
// transcription callbacks attached.
func RenderPromptAndRecord(req InitiateRequest) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", errors.New("telephony: message required")
	}

	var r twimlResponse
	r.Verbs = append(r.Verbs, twimlSay{Voice: req.Voice, Text: req.Message})
	r.Verbs = append(r.Verbs, twimlPause{Length: 1})
	r.Verbs = append(r.Verbs, twimlRecord{
		MaxLength:                     120,
		PlayBeep:                      true,
		RecordingStatusCallback:       req.Callbacks.Recording,
		RecordingStatusCallbackMethod: "POST",
		Transcribe:                    true,
		TranscribeCallback:            req.Callbacks.Transcription,
	})

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
