package youtube

import (
	"context"
	"net/http"
	"strings"
	"time"

	kkyoutube "github.com/kkdai/youtube/v2"
	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/nijaru/yt-transcripts/proxy"
	"github.com/nijaru/yt-transcripts/ratelimit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type LibraryOptions struct {
	Timeout time.Duration
	// Proxies, when set, routes every call through a freshly drawn credential.
	Proxies *proxy.Pool
	Limiter *ratelimit.Limiter
	Log     logrus.FieldLogger
}

// Library fetches captions through the kkdai/youtube client, which talks to
// the innertube API instead of scraping the watch page.
type Library struct {
	timeout   time.Duration
	proxies   *proxy.Pool
	limiter   *ratelimit.Limiter
	newClient ClientFactory
	log       logrus.FieldLogger
}

func NewLibrary(opts LibraryOptions) *Library {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.New(0)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Library{
		timeout:   opts.Timeout,
		proxies:   opts.Proxies,
		limiter:   opts.Limiter,
		newClient: defaultClientFactory,
		log:       opts.Log,
	}
}

// Proxied reports whether calls leave through the proxy pool.
func (l *Library) Proxied() bool {
	return l.proxies.Len() > 0
}

func (l *Library) httpClient() (*http.Client, error) {
	if !l.Proxied() {
		return l.newClient(nil, l.timeout), nil
	}
	cred, err := l.proxies.Next()
	if err != nil {
		return nil, err
	}
	return l.newClient(&cred, l.timeout), nil
}

// Transcript resolves the video, picks a caption track for lang and returns
// its segments.
func (l *Library) Transcript(ctx context.Context, videoID, lang string) (Transcript, error) {
	const op = "youtube.Library.Transcript"

	hc, err := l.httpClient()
	if err != nil {
		return Transcript{}, err
	}
	client := &kkyoutube.Client{HTTPClient: hc}

	if err := l.limiter.WaitIfNeeded(ctx); err != nil {
		return Transcript{}, apperrors.Wrap(op, err)
	}
	video, err := client.GetVideoContext(ctx, videoID)
	if err != nil {
		return Transcript{}, libraryError(op, err)
	}

	tracks := convertTracks(video.CaptionTracks)
	track, err := SelectTrack(tracks, lang)
	if err != nil {
		return Transcript{}, err
	}

	if err := l.limiter.WaitIfNeeded(ctx); err != nil {
		return Transcript{}, apperrors.Wrap(op, err)
	}
	vt, err := client.GetTranscriptCtx(ctx, video, track.LanguageCode)
	if err != nil {
		return Transcript{}, libraryError(op, err)
	}

	segments := toSegments(vt)
	if len(segments) == 0 {
		return Transcript{}, apperrors.NoCaptions(op, nil, "transcript is empty")
	}

	l.log.WithFields(logrus.Fields{
		"video_id": videoID,
		"language": track.LanguageCode,
		"segments": len(segments),
		"proxied":  l.Proxied(),
	}).Debug("Library transcript fetched")

	return Transcript{
		VideoID:  videoID,
		Language: track.LanguageCode,
		Kind:     track.Kind,
		Segments: segments,
	}, nil
}

func convertTracks(in []kkyoutube.CaptionTrack) []models.CaptionTrack {
	out := make([]models.CaptionTrack, 0, len(in))
	for _, t := range in {
		kind := models.CaptionManual
		if t.Kind == "asr" || strings.HasPrefix(t.VssID, "a.") {
			kind = models.CaptionASR
		}
		out = append(out, models.CaptionTrack{
			BaseURL:      t.BaseURL,
			LanguageCode: t.LanguageCode,
			Name:         t.Name.SimpleText,
			Kind:         kind,
		})
	}
	return out
}

func toSegments(vt kkyoutube.VideoTranscript) []models.Segment {
	segments := make([]models.Segment, 0, len(vt))
	for _, s := range vt {
		text := strings.Join(strings.Fields(s.Text), " ")
		if text == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Text:     text,
			Start:    float64(s.StartMs) / 1000,
			Duration: float64(s.Duration) / 1000,
		})
	}
	return segments
}

// libraryError maps client errors onto the taxonomy. The client mostly
// returns plain text errors, so anything untyped goes through Classify.
func libraryError(op string, err error) error {
	if errors.Is(err, kkyoutube.ErrTranscriptDisabled) {
		return apperrors.NoCaptions(op, err, "transcript is disabled")
	}
	return apperrors.Wrap(op, err)
}
