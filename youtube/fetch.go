package youtube

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/proxy"
	"github.com/nijaru/yt-transcripts/ratelimit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWatchURL = "https://www.youtube.com/watch"
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
	DefaultTimeout  = 15 * time.Second

	maxBodySize = 8 << 20
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
}

func randomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

type Config struct {
	// WatchURL is the page endpoint; the video id is sent as the v parameter.
	WatchURL string
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.WatchURL == "" {
		c.WatchURL = DefaultWatchURL
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// ClientFactory builds the HTTP client for one attempt. cred is nil when no
// proxy pool is configured.
type ClientFactory func(cred *proxy.Credential, timeout time.Duration) *http.Client

func defaultClientFactory(cred *proxy.Credential, timeout time.Duration) *http.Client {
	if cred == nil {
		return &http.Client{Timeout: timeout}
	}
	return proxy.Client(*cred, timeout)
}

// Scraper fetches watch pages and caption payloads through rotating proxies.
// One Scraper is built at startup and shared by every worker.
type Scraper struct {
	cfg        Config
	proxies    *proxy.Pool
	limiter    *ratelimit.Limiter
	newClient  ClientFactory
	detectors  []BlockDetector
	extractors []PlayerExtractor
	log        logrus.FieldLogger
}

func NewScraper(cfg Config, proxies *proxy.Pool, limiter *ratelimit.Limiter, log logrus.FieldLogger) *Scraper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if limiter == nil {
		limiter = ratelimit.New(0)
	}
	return &Scraper{
		cfg:        cfg.withDefaults(),
		proxies:    proxies,
		limiter:    limiter,
		newClient:  defaultClientFactory,
		detectors:  DefaultDetectors,
		extractors: DefaultExtractors,
		log:        log,
	}
}

// WithClientFactory replaces how per-attempt clients are built.
func (s *Scraper) WithClientFactory(f ClientFactory) *Scraper {
	if f != nil {
		s.newClient = f
	}
	return s
}

func (s *Scraper) client() (*http.Client, string, error) {
	if s.proxies.Len() == 0 {
		return s.newClient(nil, s.cfg.Timeout), "direct", nil
	}
	cred, err := s.proxies.Next()
	if err != nil {
		return nil, "", err
	}
	return s.newClient(&cred, s.cfg.Timeout), cred.String(), nil
}

func (s *Scraper) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.Backoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = s.cfg.Backoff << uint(s.cfg.Attempts)
	return bo
}

func (s *Scraper) watchURL(videoID string) string {
	u, err := url.Parse(s.cfg.WatchURL)
	if err != nil {
		return s.cfg.WatchURL + "?v=" + url.QueryEscape(videoID)
	}
	q := u.Query()
	q.Set("v", videoID)
	q.Set("hl", "en")
	u.RawQuery = q.Encode()
	return u.String()
}

type response struct {
	status int
	body   []byte
}

func (s *Scraper) get(ctx context.Context, target string, header http.Header) (response, string, error) {
	if err := s.limiter.WaitIfNeeded(ctx); err != nil {
		return response{}, "", backoff.Permanent(err)
	}

	client, via, err := s.client()
	if err != nil {
		return response{}, "", backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return response{}, via, backoff.Permanent(err)
	}
	req.Header = header

	resp, err := client.Do(req)
	if err != nil {
		return response{}, via, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return response{status: resp.StatusCode}, via, err
	}
	return response{status: resp.StatusCode, body: body}, via, nil
}

func pageHeader() http.Header {
	h := http.Header{}
	h.Set("User-Agent", randomUserAgent())
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cookie", "CONSENT=YES+cb; SOCS=CAI")
	return h
}

func payloadHeader(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", randomUserAgent())
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Origin", "https://www.youtube.com")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

// FetchPage downloads the watch page for videoID. Transport failures, non-200
// responses and anti-bot pages are retried with a fresh proxy each attempt.
func (s *Scraper) FetchPage(ctx context.Context, videoID string) ([]byte, error) {
	const op = "youtube.FetchPage"
	target := s.watchURL(videoID)
	log := s.log.WithField("video_id", videoID)

	var last response
	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		resp, via, err := s.get(ctx, target, pageHeader())
		last = resp
		if err != nil {
			log.WithFields(logrus.Fields{"attempt": attempt, "via": via}).WithError(err).Debug("Page fetch failed")
			return nil, err
		}
		if name, blocked := detectBlock(s.detectors, resp.status, resp.body); blocked {
			log.WithFields(logrus.Fields{
				"attempt":  attempt,
				"via":      via,
				"status":   resp.status,
				"detector": name,
			}).Warn("Blocking signature detected")
			return nil, fmt.Errorf("blocked by %s detector (status %d)", name, resp.status)
		}
		if resp.status != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.status)
		}
		return resp.body, nil
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(s.cfg.Attempts)),
	)
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil || apperrors.Is(err, apperrors.ConfigurationError) {
		return nil, apperrors.Wrap(op, err)
	}
	return nil, apperrors.Blocked(op, err, fmt.Sprintf("watch page unavailable after %d attempts", attempt)).
		WithStatus(last.status).
		WithDiagnostic(snippet(last.body))
}

// FetchPayload downloads a caption track. 403 and 429 responses and
// transport failures are retried under the same policy as FetchPage.
func (s *Scraper) FetchPayload(ctx context.Context, videoID, trackURL string) ([]byte, error) {
	const op = "youtube.FetchPayload"
	header := payloadHeader(s.watchURL(videoID))
	log := s.log.WithField("video_id", videoID)

	var last response
	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		resp, via, err := s.get(ctx, trackURL, header.Clone())
		last = resp
		if err != nil {
			log.WithFields(logrus.Fields{"attempt": attempt, "via": via}).WithError(err).Debug("Payload fetch failed")
			return nil, err
		}
		switch {
		case resp.status == http.StatusOK:
			return resp.body, nil
		case resp.status == http.StatusForbidden || resp.status == http.StatusTooManyRequests:
			log.WithFields(logrus.Fields{"attempt": attempt, "via": via, "status": resp.status}).Warn("Caption payload refused")
			return nil, fmt.Errorf("status %d", resp.status)
		default:
			return nil, backoff.Permanent(apperrors.FromStatus(op, resp.status, snippet(resp.body)))
		}
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(s.cfg.Attempts)),
	)
	if err == nil {
		return body, nil
	}
	var appErr *apperrors.Error
	if ctx.Err() != nil || errors.As(err, &appErr) {
		return nil, apperrors.Wrap(op, err)
	}
	msg := fmt.Sprintf("caption payload unavailable after %d attempts", attempt)
	if last.status == http.StatusTooManyRequests {
		return nil, apperrors.New(apperrors.RateLimited, op, err, msg).
			WithStatus(last.status).
			WithDiagnostic(snippet(last.body))
	}
	return nil, apperrors.Blocked(op, err, msg).
		WithStatus(last.status).
		WithDiagnostic(snippet(last.body))
}
