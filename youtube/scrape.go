package youtube

import (
	"context"

	"github.com/nijaru/yt-transcripts/models"
	"github.com/sirupsen/logrus"
)

// Transcript is the caption text recovered for one video.
type Transcript struct {
	VideoID  string
	Language string
	Kind     models.CaptionKind
	Segments []models.Segment
}

func (t Transcript) Text() string {
	return models.JoinSegments(t.Segments)
}

// Transcript runs the full manual path: watch page, player metadata, track
// selection, payload download and parse. Each track URL is requested once
// per call.
func (s *Scraper) Transcript(ctx context.Context, videoID, lang string) (Transcript, error) {
	page, err := s.FetchPage(ctx, videoID)
	if err != nil {
		return Transcript{}, err
	}

	blob, extractor, err := ExtractPlayer(page, s.extractors)
	if err != nil {
		return Transcript{}, err
	}

	tracks, err := DecodeTracks(blob)
	if err != nil {
		return Transcript{}, err
	}

	track, err := SelectTrack(tracks, lang)
	if err != nil {
		return Transcript{}, err
	}

	s.log.WithFields(logrus.Fields{
		"video_id":  videoID,
		"extractor": extractor,
		"tracks":    len(tracks),
		"language":  track.LanguageCode,
		"kind":      track.Kind,
	}).Debug("Caption track selected")

	payload, err := s.FetchPayload(ctx, videoID, track.BaseURL)
	if err != nil {
		return Transcript{}, err
	}

	segments, err := ParsePayload(payload)
	if err != nil {
		return Transcript{}, err
	}

	return Transcript{
		VideoID:  videoID,
		Language: track.LanguageCode,
		Kind:     track.Kind,
		Segments: segments,
	}, nil
}
