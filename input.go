package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nijaru/yt-transcripts/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InputError describes one input line that could not become a task.
type InputError struct {
	Line int
	Raw  string
	Err  error
}

func (e InputError) Error() string {
	return "line " + strconv.Itoa(e.Line) + ": " + e.Err.Error()
}

// parseInput reads "url[,title[,key=value...]]" records. Lines starting
// with # are comments. A lang key overrides lang for that row. Bad lines
// are returned separately so one typo does not sink the whole batch.
func parseInput(r io.Reader, lang string) ([]models.VideoTask, []InputError, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var (
		tasks []models.VideoTask
		bad   []InputError
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				bad = append(bad, InputError{Line: parseErr.Line, Err: parseErr.Err})
				continue
			}
			return nil, nil, errors.Wrap(err, "read input")
		}
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			continue
		}
		line, _ := cr.FieldPos(0)

		title := ""
		if len(record) > 1 {
			title = record[1]
		}
		rowLang := lang
		origin := map[string]string{"line": strconv.Itoa(line)}
		for _, field := range record[min(len(record), 2):] {
			key, value, ok := strings.Cut(field, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				bad = append(bad, InputError{Line: line, Raw: field, Err: errors.Errorf("metadata %q is not key=value", field)})
				continue
			}
			value = strings.TrimSpace(value)
			if strings.EqualFold(key, "lang") || strings.EqualFold(key, "language") {
				if value != "" {
					rowLang = value
				}
				continue
			}
			origin[key] = value
		}

		task, err := models.NewVideoTask(record[0], title, rowLang, origin)
		if err != nil {
			bad = append(bad, InputError{Line: line, Raw: record[0], Err: err})
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, bad, nil
}

func readInputFile(path, lang string) ([]models.VideoTask, []InputError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open input file %s", path)
	}
	defer f.Close()
	return parseInput(f, lang)
}

// collectTasks merges positional URLs and the input file, keeping the first
// occurrence of every video id.
func collectTasks(args []string, inputPath, lang string, log logrus.FieldLogger) ([]models.VideoTask, error) {
	var tasks []models.VideoTask
	for i, raw := range args {
		task, err := models.NewVideoTask(raw, "", lang, map[string]string{"arg": strconv.Itoa(i + 1)})
		if err != nil {
			log.WithError(err).WithField("input", raw).Warn("Skipping invalid video URL")
			continue
		}
		tasks = append(tasks, task)
	}

	if inputPath != "" {
		fromFile, bad, err := readInputFile(inputPath, lang)
		if err != nil {
			return nil, err
		}
		for _, b := range bad {
			log.WithFields(logrus.Fields{
				"file": inputPath,
				"line": b.Line,
				"raw":  b.Raw,
			}).WithError(b.Err).Warn("Skipping invalid input line")
		}
		tasks = append(tasks, fromFile...)
	}

	seen := make(map[string]bool, len(tasks))
	unique := tasks[:0]
	for _, t := range tasks {
		if seen[t.ID] {
			log.WithField("video_id", t.ID).Debug("Duplicate video skipped")
			continue
		}
		seen[t.ID] = true
		unique = append(unique, t)
	}
	return unique, nil
}
