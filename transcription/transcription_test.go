package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/sirupsen/logrus"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, baseURL string, cfg Config) (*Client, *recordingSleeper) {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	client, err := NewClient(cfg, log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	sleeper := &recordingSleeper{}
	client.Sleep = sleeper.Sleep
	return client, sleeper
}

func TestNewClientRequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}, nil); !apperrors.Is(err, apperrors.ConfigurationError) {
		t.Errorf("expected ConfigurationError for missing base URL, got %v", err)
	}
	if _, err := NewClient(Config{BaseURL: "http://example.com"}, nil); !apperrors.Is(err, apperrors.ConfigurationError) {
		t.Errorf("expected ConfigurationError for missing API key, got %v", err)
	}
}

func TestSubmitBackoffSchedule(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, sleeper := newTestClient(t, srv.URL, Config{})
	_, err := client.Submit(context.Background(), Request{URL: "https://www.youtube.com/watch?v=abc123def45"})
	if err == nil {
		t.Fatal("expected error")
	}

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	if !reflect.DeepEqual(sleeper.waits, want) {
		t.Errorf("expected backoff %v, got %v", want, sleeper.waits)
	}
	if got := attempts.Load(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}
	if kind := apperrors.Classify(err); kind != apperrors.NetworkError {
		t.Errorf("expected NetworkError, got %s", kind)
	}
}

func TestSubmitRecoversAfterRateLimit(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "whisper-large" || req.Language != "en" {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"id":"job-42"}`)
	}))
	defer srv.Close()

	client, sleeper := newTestClient(t, srv.URL, Config{Model: "whisper-large"})
	id, err := client.Submit(context.Background(), Request{URL: "https://youtu.be/abc123def45", Language: "en"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != "job-42" {
		t.Errorf("expected id job-42, got %q", id)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if !reflect.DeepEqual(sleeper.waits, want) {
		t.Errorf("expected backoff %v, got %v", want, sleeper.waits)
	}
}

func TestSubmitPermanentStatuses(t *testing.T) {
	tests := []struct {
		status int
		kind   apperrors.Kind
	}{
		{http.StatusUnprocessableEntity, apperrors.ValidationError},
		{http.StatusUnauthorized, apperrors.Unauthorized},
		{http.StatusPaymentRequired, apperrors.InsufficientCredits},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"rejected by provider"}}`)
			}))
			defer srv.Close()

			client, sleeper := newTestClient(t, srv.URL, Config{})
			_, err := client.Submit(context.Background(), Request{URL: "https://youtu.be/abc123def45"})
			if kind := apperrors.Classify(err); kind != tt.kind {
				t.Errorf("expected %s, got %s (%v)", tt.kind, kind, err)
			}
			if got := attempts.Load(); got != 1 {
				t.Errorf("expected exactly 1 attempt, got %d", got)
			}
			if len(sleeper.waits) != 0 {
				t.Errorf("expected no backoff, got %v", sleeper.waits)
			}
			if !strings.Contains(err.Error(), "rejected by provider") {
				t.Errorf("expected provider message in %q", err.Error())
			}
		})
	}
}

func TestSubmitNetworkErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client, sleeper := newTestClient(t, baseURL, Config{MaxRetries: 2, InitialBackoff: time.Second})
	_, err := client.Submit(context.Background(), Request{URL: "https://youtu.be/abc123def45"})
	if kind := apperrors.Classify(err); kind != apperrors.NetworkError {
		t.Errorf("expected NetworkError, got %s (%v)", kind, err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if !reflect.DeepEqual(sleeper.waits, want) {
		t.Errorf("expected backoff %v, got %v", want, sleeper.waits)
	}
}

func TestPollCompletes(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transcriptions/job-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"status":"processing"}`)
			return
		}
		fmt.Fprint(w, `{"status":"done","output":{"text":"the full transcript"}}`)
	}))
	defer srv.Close()

	client, sleeper := newTestClient(t, srv.URL, Config{})
	text, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != "the full transcript" {
		t.Errorf("unexpected text %q", text)
	}
	want := []time.Duration{5 * time.Second, 5 * time.Second}
	if !reflect.DeepEqual(sleeper.waits, want) {
		t.Errorf("expected poll waits %v, got %v", want, sleeper.waits)
	}
}

func TestPollResponseShapes(t *testing.T) {
	tests := map[string]string{
		"text":       `{"status":"completed","text":"hello there"}`,
		"transcript": `{"status":"succeeded","transcript":"hello there"}`,
		"result":     `{"status":"done","result":{"text":"hello there"}}`,
		"segments":   `{"status":"done","segments":[{"text":"hello"},{"text":" "},{"text":"there"}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			client, _ := newTestClient(t, srv.URL, Config{})
			text, err := client.Poll(context.Background(), "job")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if text != "hello there" {
				t.Errorf("expected %q, got %q", "hello there", text)
			}
		})
	}
}

func TestPollResultURL(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/transcriptions/job-7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"done","result_url":"%s/results/job-7.txt"}`, srv.URL)
	})
	mux.HandleFunc("/results/job-7.txt", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("expected result fetch to be authorized")
		}
		fmt.Fprint(w, "plain text result\n")
	})

	client, _ := newTestClient(t, srv.URL, Config{})
	text, err := client.Poll(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != "plain text result" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestPollJobFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":"audio could not be decoded","code":"invalid_media"}`)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, Config{})
	_, err := client.Poll(context.Background(), "job")
	if err == nil || !strings.Contains(err.Error(), "audio could not be decoded") {
		t.Fatalf("expected service message, got %v", err)
	}
	if kind := apperrors.Classify(err); kind != apperrors.ValidationError {
		t.Errorf("expected ValidationError, got %s", kind)
	}
}

func TestPollCeiling(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprint(w, `{"status":"queued"}`)
	}))
	defer srv.Close()

	client, sleeper := newTestClient(t, srv.URL, Config{PollAttempts: 4})
	_, err := client.Poll(context.Background(), "job")
	if kind := apperrors.Classify(err); kind != apperrors.Timeout {
		t.Errorf("expected Timeout, got %s", kind)
	}
	if got := polls.Load(); got != 4 {
		t.Errorf("expected 4 polls, got %d", got)
	}
	if len(sleeper.waits) != 3 {
		t.Errorf("expected 3 waits, got %v", sleeper.waits)
	}
}

func TestTranscribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, `{"request_id":"r-1"}`)
	})
	mux.HandleFunc("/v1/transcriptions/r-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"completed","text":"done and dusted"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, Config{})
	text, err := client.Transcribe(context.Background(), Request{URL: "https://youtu.be/abc123def45"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if text != "done and dusted" {
		t.Errorf("unexpected text %q", text)
	}
}
