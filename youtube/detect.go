package youtube

import (
	"bytes"
	"net/http"
)

// BlockDetector recognizes one kind of anti-bot response. Detectors are kept
// small and independent; the page format they key on changes without notice.
type BlockDetector interface {
	Name() string
	Detect(status int, body []byte) bool
}

// DefaultDetectors is checked in order against every fetched page.
var DefaultDetectors = []BlockDetector{
	statusDetector{codes: []int{http.StatusTooManyRequests, http.StatusForbidden}},
	phraseDetector{phrases: [][]byte{
		[]byte("unusual traffic"),
		[]byte("verify you are human"),
		[]byte("our systems have detected"),
		[]byte("sign in to confirm you're not a bot"),
		[]byte("sign in to confirm you’re not a bot"),
		[]byte("confirm you're not a robot"),
	}},
	captchaDetector{markers: [][]byte{
		[]byte("/das_captcha"),
		[]byte("g-recaptcha"),
		[]byte("id=\"captcha-form\""),
	}},
}

type statusDetector struct {
	codes []int
}

func (d statusDetector) Name() string { return "status" }

func (d statusDetector) Detect(status int, _ []byte) bool {
	for _, c := range d.codes {
		if status == c {
			return true
		}
	}
	return false
}

type phraseDetector struct {
	phrases [][]byte
}

func (d phraseDetector) Name() string { return "phrase" }

func (d phraseDetector) Detect(_ int, body []byte) bool {
	lower := bytes.ToLower(body)
	for _, p := range d.phrases {
		if bytes.Contains(lower, p) {
			return true
		}
	}
	return false
}

type captchaDetector struct {
	markers [][]byte
}

func (d captchaDetector) Name() string { return "captcha" }

func (d captchaDetector) Detect(_ int, body []byte) bool {
	for _, m := range d.markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

// detectBlock returns the name of the first detector that fires.
func detectBlock(detectors []BlockDetector, status int, body []byte) (string, bool) {
	for _, d := range detectors {
		if d.Detect(status, body) {
			return d.Name(), true
		}
	}
	return "", false
}
