package youtube

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		detector string
		blocked  bool
	}{
		{"clean page", http.StatusOK, "<html>ytInitialPlayerResponse</html>", "", false},
		{"too many requests", http.StatusTooManyRequests, "", "status", true},
		{"forbidden", http.StatusForbidden, "", "status", true},
		{"unusual traffic", http.StatusOK, "Our systems have detected Unusual Traffic", "phrase", true},
		{"human check", http.StatusOK, "please verify you are human", "phrase", true},
		{"bot check", http.StatusOK, "Sign in to confirm you’re not a bot", "phrase", true},
		{"recaptcha", http.StatusOK, `<div class="g-recaptcha"></div>`, "captcha", true},
		{"captcha redirect", http.StatusOK, `<form action="/das_captcha">`, "captcha", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, blocked := detectBlock(DefaultDetectors, tt.status, []byte(tt.body))
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.detector, name)
		})
	}
}
