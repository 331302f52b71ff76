package youtube

import (
	"encoding/json"
	"strings"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
)

type textRuns struct {
	SimpleText string `json:"simpleText"`
	Runs       []struct {
		Text string `json:"text"`
	} `json:"runs"`
}

func (t textRuns) String() string {
	if t.SimpleText != "" {
		return t.SimpleText
	}
	var b strings.Builder
	for _, r := range t.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

type rawTrack struct {
	BaseURL      string   `json:"baseUrl"`
	LanguageCode string   `json:"languageCode"`
	Name         textRuns `json:"name"`
	Kind         string   `json:"kind"`
	VssID        string   `json:"vssId"`
}

type tracklist struct {
	CaptionTracks []rawTrack `json:"captionTracks"`
}

type playabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// playerResponse covers the three shapes the extractors can hand back: the
// full player response, the wrapped captions object, or the tracklist itself.
type playerResponse struct {
	PlayabilityStatus *playabilityStatus `json:"playabilityStatus"`
	Captions          *struct {
		Renderer *tracklist `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	Renderer      *tracklist `json:"playerCaptionsTracklistRenderer"`
	CaptionTracks []rawTrack `json:"captionTracks"`
}

// DecodeTracks reads the caption track list out of a player metadata blob.
// A playable video with no captions returns an empty slice and no error.
func DecodeTracks(blob []byte) ([]models.CaptionTrack, error) {
	const op = "youtube.DecodeTracks"

	var pr playerResponse
	if err := json.Unmarshal(blob, &pr); err != nil {
		return nil, apperrors.Parse(op, err, "player response is not valid JSON").
			WithDiagnostic(snippet(blob))
	}

	if ps := pr.PlayabilityStatus; ps != nil {
		switch ps.Status {
		case "", "OK":
		case "LOGIN_REQUIRED", "ERROR", "UNPLAYABLE", "AGE_CHECK_REQUIRED", "CONTENT_CHECK_REQUIRED":
			return nil, apperrors.Blocked(op, nil, "video not playable: "+playabilityReason(ps))
		}
	}

	var raw []rawTrack
	switch {
	case pr.Captions != nil && pr.Captions.Renderer != nil:
		raw = pr.Captions.Renderer.CaptionTracks
	case pr.Renderer != nil:
		raw = pr.Renderer.CaptionTracks
	default:
		raw = pr.CaptionTracks
	}

	tracks := make([]models.CaptionTrack, 0, len(raw))
	for _, t := range raw {
		if t.BaseURL == "" {
			continue
		}
		kind := models.CaptionManual
		if t.Kind == "asr" || strings.HasPrefix(t.VssID, "a.") {
			kind = models.CaptionASR
		}
		tracks = append(tracks, models.CaptionTrack{
			BaseURL:      t.BaseURL,
			LanguageCode: t.LanguageCode,
			Name:         t.Name.String(),
			Kind:         kind,
		})
	}
	return tracks, nil
}

func playabilityReason(ps *playabilityStatus) string {
	if ps.Reason != "" {
		return ps.Status + " (" + ps.Reason + ")"
	}
	return ps.Status
}

// needsPOToken reports whether the track URL only works with a proof-of-origin
// token, which plain HTTP clients cannot produce.
func needsPOToken(t models.CaptionTrack) bool {
	return strings.Contains(t.BaseURL, "&exp=xpe")
}

// SelectTrack picks the best track for lang: a manual track in that language,
// then any track in it, then one sharing the base language, else the first.
func SelectTrack(tracks []models.CaptionTrack, lang string) (models.CaptionTrack, error) {
	const op = "youtube.SelectTrack"

	usable := make([]models.CaptionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPOToken(t) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		usable = tracks
	}
	if len(usable) == 0 {
		return models.CaptionTrack{}, apperrors.NoCaptions(op, nil, "no caption tracks")
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return usable[0], nil
	}

	var exact, base *models.CaptionTrack
	for i := range usable {
		t := &usable[i]
		code := strings.ToLower(t.LanguageCode)
		if code == lang {
			if t.Kind == models.CaptionManual {
				return *t, nil
			}
			if exact == nil {
				exact = t
			}
			continue
		}
		if base == nil && baseLanguage(code) == baseLanguage(lang) {
			base = t
		}
	}
	switch {
	case exact != nil:
		return *exact, nil
	case base != nil:
		return *base, nil
	}
	return usable[0], nil
}

func baseLanguage(code string) string {
	if i := strings.IndexAny(code, "-_"); i > 0 {
		return code[:i]
	}
	return code
}
