package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nijaru/yt-transcripts/models"
	"github.com/pkg/errors"
)

func FormatText(text string) string {
	text = strings.TrimSpace(text)
	var builder strings.Builder
	for _, char := range text {
		builder.WriteRune(char)
		if char == '.' || char == '!' || char == '?' {
			builder.WriteRune('\n')
		}
	}
	return builder.String()
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TranscriptFilename is "<id>_<slug>.txt", or "<id>.txt" without a title.
func TranscriptFilename(task models.VideoTask) string {
	slug := strings.Trim(unsafeFileChars.ReplaceAllString(task.Title, "_"), "_.")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	if slug == "" {
		return task.ID + ".txt"
	}
	return task.ID + "_" + slug + ".txt"
}

// TranscriptHeader renders the metadata block written above the text.
func TranscriptHeader(res models.ExtractionResult) string {
	var b strings.Builder
	if res.Task.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", res.Task.Title)
	}
	fmt.Fprintf(&b, "Video ID: %s\n", res.Task.ID)
	fmt.Fprintf(&b, "URL: %s\n", res.Task.WatchURL())
	fmt.Fprintf(&b, "Method: %s\n", res.Method)
	if res.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", res.Language)
	}
	finished := res.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	fmt.Fprintf(&b, "Extracted: %s\n", finished.UTC().Format(time.RFC3339))
	for _, k := range sortedKeys(res.Task.Origin) {
		fmt.Fprintf(&b, "%s: %s\n", k, res.Task.Origin[k])
	}
	b.WriteString(strings.Repeat("-", 40))
	b.WriteString("\n\n")
	return b.String()
}

// WriteTranscript stores a successful result under dir and returns the path.
func WriteTranscript(dir string, res models.ExtractionResult) (string, error) {
	if !res.Success {
		return "", errors.Errorf("refusing to write failed result for %s", res.Task.ID)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	path := filepath.Join(dir, TranscriptFilename(res.Task))
	content := TranscriptHeader(res) + FormatText(res.Text)
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "write transcript %s", path)
	}
	return path, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
