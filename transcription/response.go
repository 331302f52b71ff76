package transcription

import (
	"encoding/json"
	"strings"
)

// jobStatus is the poll response. Providers disagree on where the text
// lives, so every known location is decoded and text() picks the first one
// that is set.
type jobStatus struct {
	Status     string          `json:"status"`
	Text       string          `json:"text"`
	Transcript string          `json:"transcript"`
	Output     json.RawMessage `json:"output"`
	Result     json.RawMessage `json:"result"`
	Segments   []struct {
		Text string `json:"text"`
	} `json:"segments"`
	ResultURL string          `json:"result_url"`
	Error     json.RawMessage `json:"error"`
	Message   string          `json:"message"`
	Code      json.RawMessage `json:"code"`

	raw []byte
}

func (s jobStatus) text() string {
	for _, t := range []string{s.Text, s.Transcript, nestedText(s.Output), nestedText(s.Result)} {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}

	parts := make([]string, 0, len(s.Segments))
	for _, seg := range s.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// nestedText reads {"text": "..."} or a bare string.
func nestedText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Transcript
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func (s jobStatus) errorMessage() string {
	if len(s.Error) > 0 {
		var str string
		if json.Unmarshal(s.Error, &str) == nil && str != "" {
			return str
		}
		var obj struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if json.Unmarshal(s.Error, &obj) == nil {
			if obj.Message != "" {
				return obj.Message
			}
			if obj.Detail != "" {
				return obj.Detail
			}
		}
	}
	if s.Message != "" {
		return s.Message
	}
	return "unknown error"
}
