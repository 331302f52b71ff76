package validation

import (
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/nijaru/yt-transcripts/errors"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// IsVideoID reports whether s has the shape of a YouTube video id.
func IsVideoID(s string) bool {
	return videoIDPattern.MatchString(s)
}

func ValidateURL(rawURL string) error {
	const op = "validation.ValidateURL"

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return apperrors.Validation(op, nil, "URL is required")
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return apperrors.Validation(op, err, "invalid URL format")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return apperrors.Validation(op, nil, "URL must start with http or https")
	}

	if parsedURL.Host == "" {
		return apperrors.Validation(op, nil, "URL must have a host")
	}

	return nil
}

// ExtractVideoID accepts a bare id or any common YouTube URL form (watch,
// youtu.be, shorts, embed, live, v/) and returns the 11-character id.
func ExtractVideoID(raw string) (string, error) {
	const op = "validation.ExtractVideoID"

	raw = strings.TrimSpace(raw)
	if IsVideoID(raw) {
		return raw, nil
	}

	if !strings.Contains(raw, "://") && looksLikeYouTubeHost(raw) {
		raw = "https://" + raw
	}
	if err := ValidateURL(raw); err != nil {
		return "", apperrors.Validation(op, err, "not a video id or URL: "+raw)
	}

	u, _ := url.Parse(raw)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v", "e":
				id = parts[1]
			}
		}
	default:
		return "", apperrors.Validation(op, nil, "not a YouTube URL: "+u.Host)
	}

	if !IsVideoID(id) {
		return "", apperrors.Validation(op, nil, "YouTube URL must contain a valid video ID")
	}
	return id, nil
}

func looksLikeYouTubeHost(s string) bool {
	lower := strings.ToLower(s)
	for _, prefix := range []string{"youtube.com/", "www.youtube.com/", "m.youtube.com/", "youtu.be/"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func firstSegment(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
