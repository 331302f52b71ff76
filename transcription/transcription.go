package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 10 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DefaultPollAttempts   = 60
	DefaultTimeout        = 30 * time.Second

	maxResponseSize = 16 << 20
)

type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxRetries     int
	InitialBackoff time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	Timeout        time.Duration
}

// Request asks the service to transcribe the audio behind URL.
type Request struct {
	URL      string `json:"url"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// Client talks to the paid transcription service. It is safe for concurrent
// use; the retry and poll loops keep all state on the stack.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	// Sleep waits between attempts. Tests replace it to record backoff.
	Sleep func(ctx context.Context, d time.Duration) error
	log   logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.Config("transcription.NewClient", nil, "transcriber base URL is not set")
	}
	if cfg.APIKey == "" {
		return nil, apperrors.Config("transcription.NewClient", nil, "transcriber API key is not set")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, apperrors.Config("transcription.NewClient", err, "transcriber base URL is invalid")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Sleep:      sleepContext,
		log:        log,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the wait before the given attempt (2, 3, 4, ...).
func (c *Client) Backoff(attempt int) time.Duration {
	return time.Duration(float64(c.cfg.InitialBackoff) * math.Pow(2, float64(attempt-2)))
}

// Transcribe submits req and polls until the transcript is ready.
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	id, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return c.Poll(ctx, id)
}

func retryableSubmitStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Submit creates a transcription job and returns its id. 429, 502, 503, 504
// and network failures are retried; everything else surfaces immediately.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	const op = "transcription.Submit"
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", apperrors.Validation(op, err, "cannot encode request")
	}

	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.Backoff(attempt)
			c.log.WithFields(logrus.Fields{
				"attempt":     attempt,
				"maxAttempts": maxAttempts,
				"url":         req.URL,
				"backoff":     wait,
			}).WithError(lastErr).Warn("Retrying transcription submit")
			if err := c.Sleep(ctx, wait); err != nil {
				return "", apperrors.Wrap(op, err)
			}
		}

		id, err := c.submitOnce(ctx, op, payload)
		if err == nil {
			c.log.WithFields(logrus.Fields{"url": req.URL, "request_id": id, "attempt": attempt}).Info("Transcription submitted")
			return id, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", apperrors.Wrap(op, ctx.Err())
		}
		if !c.retryable(err) {
			c.log.WithField("url", req.URL).WithError(err).Error("Transcription submit failed")
			return "", err
		}
	}

	c.log.WithFields(logrus.Fields{
		"maxAttempts": maxAttempts,
		"url":         req.URL,
	}).WithError(lastErr).Error("Transcription submit failed after max retries")
	return "", lastErr
}

func (c *Client) retryable(err error) bool {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return retryableSubmitStatus(appErr.Status)
	}
	switch apperrors.Classify(err) {
	case apperrors.NetworkError, apperrors.Timeout:
		return true
	}
	return false
}

func (c *Client) submitOnce(ctx context.Context, op string, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transcriptions", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Config(op, err, "cannot build submit request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	status, body, err := c.do(httpReq)
	if err != nil {
		return "", apperrors.Wrap(op, err)
	}
	if status < 200 || status > 299 {
		return "", statusError(op, status, body)
	}

	var resp struct {
		RequestID string `json:"request_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperrors.Parse(op, err, "submit response is not valid JSON").WithDiagnostic(string(body))
	}
	id := resp.RequestID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return "", apperrors.Parse(op, nil, "submit response has no request id").WithDiagnostic(string(body))
	}
	return id, nil
}

// Poll waits for the job to finish and returns its transcript text.
func (c *Client) Poll(ctx context.Context, requestID string) (string, error) {
	const op = "transcription.Poll"
	log := c.log.WithField("request_id", requestID)
	target := c.cfg.BaseURL + "/v1/transcriptions/" + url.PathEscape(requestID)

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		if attempt > 1 {
			if err := c.Sleep(ctx, c.cfg.PollInterval); err != nil {
				return "", apperrors.Wrap(op, err)
			}
		}

		st, err := c.pollOnce(ctx, op, target)
		if err != nil {
			if ctx.Err() != nil {
				return "", apperrors.Wrap(op, ctx.Err())
			}
			if !c.retryable(err) {
				return "", err
			}
			log.WithField("attempt", attempt).WithError(err).Warn("Transcription poll failed")
			continue
		}

		switch strings.ToLower(st.Status) {
		case "done", "completed", "succeeded", "success":
			text := st.text()
			if text == "" && st.ResultURL != "" {
				text, err = c.fetchResult(ctx, op, st.ResultURL)
				if err != nil {
					return "", err
				}
			}
			if text == "" {
				return "", apperrors.Parse(op, nil, "completed job has no transcript").WithDiagnostic(string(st.raw))
			}
			log.WithField("attempts", attempt).Info("Transcription completed")
			return text, nil
		case "error", "failed", "failure", "cancelled", "canceled":
			msg := st.errorMessage()
			log.WithField("message", msg).Error("Transcription job failed")
			return "", apperrors.New(kindForCode(st.Code), op, nil, msg).WithDiagnostic(string(st.raw))
		default:
			log.WithFields(logrus.Fields{"attempt": attempt, "status": st.Status}).Debug("Transcription pending")
		}
	}

	return "", apperrors.New(apperrors.Timeout, op, nil,
		fmt.Sprintf("job not finished after %d polls", c.cfg.PollAttempts))
}

func (c *Client) pollOnce(ctx context.Context, op, target string) (jobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return jobStatus{}, apperrors.Config(op, err, "cannot build poll request")
	}
	c.authorize(req)

	status, body, err := c.do(req)
	if err != nil {
		return jobStatus{}, apperrors.Wrap(op, err)
	}
	if status < 200 || status > 299 {
		return jobStatus{}, statusError(op, status, body)
	}

	var st jobStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return jobStatus{}, apperrors.Parse(op, err, "poll response is not valid JSON").WithDiagnostic(string(body))
	}
	st.raw = body
	return st, nil
}

func (c *Client) fetchResult(ctx context.Context, op, resultURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return "", apperrors.Parse(op, err, "invalid result_url").WithDiagnostic(resultURL)
	}
	if strings.HasPrefix(resultURL, c.cfg.BaseURL) {
		c.authorize(req)
	}

	status, body, err := c.do(req)
	if err != nil {
		return "", apperrors.Wrap(op, err)
	}
	if status < 200 || status > 299 {
		return "", statusError(op, status, body)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var st jobStatus
		if err := json.Unmarshal(trimmed, &st); err == nil {
			if text := st.text(); text != "" {
				return text, nil
			}
		}
	}
	return string(trimmed), nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// statusError maps a non-2xx response, keeping the service's own message
// when it sends one.
func statusError(op string, status int, body []byte) *apperrors.Error {
	e := apperrors.FromStatus(op, status, string(body))
	var st jobStatus
	if json.Unmarshal(body, &st) == nil {
		if msg := st.errorMessage(); msg != "" && msg != "unknown error" {
			e.Message = fmt.Sprintf("%s (status %d)", msg, status)
		}
	}
	return e
}

// kindForCode maps the optional error code on a failed job.
func kindForCode(code json.RawMessage) apperrors.Kind {
	if len(code) == 0 {
		return apperrors.UnknownFailure
	}
	var s string
	if err := json.Unmarshal(code, &s); err != nil {
		s = string(code)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return apperrors.KindForStatus(n)
	}
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "credit"), strings.Contains(s, "quota"), strings.Contains(s, "payment"):
		return apperrors.InsufficientCredits
	case strings.Contains(s, "auth"):
		return apperrors.Unauthorized
	case strings.Contains(s, "invalid"), strings.Contains(s, "validation"), strings.Contains(s, "unsupported"):
		return apperrors.ValidationError
	case strings.Contains(s, "rate"):
		return apperrors.RateLimited
	case strings.Contains(s, "timeout"):
		return apperrors.Timeout
	case strings.Contains(s, "unavailable"), strings.Contains(s, "not_found"), strings.Contains(s, "private"):
		return apperrors.BlockedOrUnavailable
	}
	return apperrors.UnknownFailure
}
