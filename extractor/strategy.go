package extractor

import (
	"context"
	"strings"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/nijaru/yt-transcripts/transcription"
	"github.com/nijaru/yt-transcripts/youtube"
)

// Outcome is what a successful strategy hands back to the chain.
type Outcome struct {
	Text     string
	Segments []models.Segment
	Language string
}

// Strategy is one way of obtaining a transcript.
type Strategy interface {
	Name() string
	Method() models.Method
	// UsesCaptions is true for strategies that read published caption
	// tracks. They are skipped once a video is known to have none.
	UsesCaptions() bool
	Extract(ctx context.Context, task models.VideoTask, lang string) (Outcome, error)
}

// TranscriptSource is satisfied by youtube.Library and youtube.Scraper.
type TranscriptSource interface {
	Transcript(ctx context.Context, videoID, lang string) (youtube.Transcript, error)
}

// Transcriber is satisfied by transcription.Client.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcription.Request) (string, error)
}

type captionStrategy struct {
	name   string
	method models.Method
	source TranscriptSource
}

// NewCaptionStrategy adapts a caption source into a chain step.
func NewCaptionStrategy(name string, method models.Method, source TranscriptSource) Strategy {
	return &captionStrategy{name: name, method: method, source: source}
}

func (s *captionStrategy) Name() string          { return s.name }
func (s *captionStrategy) Method() models.Method { return s.method }
func (s *captionStrategy) UsesCaptions() bool    { return true }

func (s *captionStrategy) Extract(ctx context.Context, task models.VideoTask, lang string) (Outcome, error) {
	tr, err := s.source.Transcript(ctx, task.ID, lang)
	if err != nil {
		return Outcome{}, err
	}
	text := tr.Text()
	if text == "" {
		return Outcome{}, apperrors.NoCaptions("extractor."+s.name, nil, "caption track is empty")
	}
	return Outcome{Text: text, Segments: tr.Segments, Language: tr.Language}, nil
}

type paidStrategy struct {
	client Transcriber
}

// NewPaidStrategy delegates to the paid transcription service.
func NewPaidStrategy(client Transcriber) Strategy {
	return &paidStrategy{client: client}
}

func (s *paidStrategy) Name() string          { return string(models.MethodPaid) }
func (s *paidStrategy) Method() models.Method { return models.MethodPaid }
func (s *paidStrategy) UsesCaptions() bool    { return false }

func (s *paidStrategy) Extract(ctx context.Context, task models.VideoTask, lang string) (Outcome, error) {
	text, err := s.client.Transcribe(ctx, transcription.Request{
		URL:      task.WatchURL(),
		Language: lang,
	})
	if err != nil {
		return Outcome{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, apperrors.Parse("extractor.paid", nil, "service returned an empty transcript")
	}
	return Outcome{Text: text, Language: lang}, nil
}
