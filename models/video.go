package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nijaru/yt-transcripts/validation"
)

type CaptionKind string

const (
	CaptionManual CaptionKind = "manual"
	CaptionASR    CaptionKind = "asr"
)

// VideoTask is one unit of work handed to the pool. It is never mutated after
// creation; workers receive copies.
type VideoTask struct {
	ID        string            `json:"id"`
	SourceURL string            `json:"source_url"`
	Title     string            `json:"title,omitempty"`
	Language  string            `json:"language,omitempty"`
	Origin    map[string]string `json:"origin,omitempty"`
}

// NewVideoTask normalizes raw (a URL or bare id) into a task. origin is
// copied so later changes by the caller do not leak into the task.
func NewVideoTask(raw, title, language string, origin map[string]string) (VideoTask, error) {
	id, err := validation.ExtractVideoID(raw)
	if err != nil {
		return VideoTask{}, err
	}
	var copied map[string]string
	if len(origin) > 0 {
		copied = make(map[string]string, len(origin))
		for k, v := range origin {
			copied[k] = v
		}
	}
	return VideoTask{
		ID:        id,
		SourceURL: strings.TrimSpace(raw),
		Title:     strings.TrimSpace(title),
		Language:  language,
		Origin:    copied,
	}, nil
}

// WatchURL returns the canonical watch page address for the task.
func (t VideoTask) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(t.ID)
}

func (t VideoTask) String() string {
	if t.Title != "" {
		return fmt.Sprintf("%s (%s)", t.ID, t.Title)
	}
	return t.ID
}

// CaptionTrack describes one subtitle stream found on a video page.
type CaptionTrack struct {
	BaseURL      string      `json:"base_url"`
	LanguageCode string      `json:"language_code"`
	Name         string      `json:"name"`
	Kind         CaptionKind `json:"kind"`
}

func (c CaptionTrack) IsAutoGenerated() bool { return c.Kind == CaptionASR }

// Segment is a timed piece of transcript text. Start and Duration are seconds.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// JoinSegments assembles the full transcript text in segment order.
func JoinSegments(segments []Segment) string {
	var b strings.Builder
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

// SegmentsDuration returns the end offset of the last segment.
func SegmentsDuration(segments []Segment) time.Duration {
	if len(segments) == 0 {
		return 0
	}
	last := segments[len(segments)-1]
	return time.Duration((last.Start + last.Duration) * float64(time.Second))
}
