package youtube

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/nijaru/yt-transcripts/errors"
)

// PlayerExtractor locates the embedded player metadata JSON in a watch page.
type PlayerExtractor interface {
	Name() string
	Extract(page []byte) ([]byte, bool)
}

// DefaultExtractors are tried in order; the first valid blob wins.
var DefaultExtractors = []PlayerExtractor{
	globalAssignment{markers: [][]byte{
		[]byte("var ytInitialPlayerResponse = "),
		[]byte("ytInitialPlayerResponse = "),
		[]byte(`window["ytInitialPlayerResponse"] = `),
		[]byte("ytInitialPlayerResponse="),
	}},
	jsonKey{key: []byte(`"captions":`), wrapAs: "captions"},
	braceSearch{needle: []byte(`"captionTracks"`), maxCandidates: 64},
}

// globalAssignment finds `<global> = {...}`.
type globalAssignment struct {
	markers [][]byte
}

func (e globalAssignment) Name() string { return "global_assignment" }

func (e globalAssignment) Extract(page []byte) ([]byte, bool) {
	for _, m := range e.markers {
		idx := bytes.Index(page, m)
		if idx < 0 {
			continue
		}
		start := idx + len(m)
		for start < len(page) && isSpace(page[start]) {
			start++
		}
		if obj := balancedObject(page, start); obj != nil && json.Valid(obj) {
			return obj, true
		}
	}
	return nil, false
}

// jsonKey finds `"key":{...}` anywhere in the page and wraps the value so it
// decodes like a full player response.
type jsonKey struct {
	key    []byte
	wrapAs string
}

func (e jsonKey) Name() string { return "json_key" }

func (e jsonKey) Extract(page []byte) ([]byte, bool) {
	from := 0
	for {
		idx := bytes.Index(page[from:], e.key)
		if idx < 0 {
			return nil, false
		}
		start := from + idx + len(e.key)
		for start < len(page) && isSpace(page[start]) {
			start++
		}
		if obj := balancedObject(page, start); obj != nil && json.Valid(obj) {
			wrapped, err := json.Marshal(map[string]json.RawMessage{e.wrapAs: obj})
			if err == nil {
				return wrapped, true
			}
		}
		from = start
	}
}

// braceSearch is the last resort: walk backwards from the needle trying each
// enclosing '{' until one yields a valid object that contains it.
type braceSearch struct {
	needle        []byte
	maxCandidates int
}

func (e braceSearch) Name() string { return "brace_search" }

func (e braceSearch) Extract(page []byte) ([]byte, bool) {
	idx := bytes.Index(page, e.needle)
	if idx < 0 {
		return nil, false
	}
	tried := 0
	for i := idx; i >= 0 && tried < e.maxCandidates; i-- {
		if page[i] != '{' {
			continue
		}
		tried++
		obj := balancedObject(page, i)
		if obj == nil || i+len(obj) <= idx {
			continue
		}
		if json.Valid(obj) {
			return obj, true
		}
	}
	return nil, false
}

// ExtractPlayer runs the extractors in order and returns the first blob.
func ExtractPlayer(page []byte, extractors []PlayerExtractor) ([]byte, string, error) {
	const op = "youtube.ExtractPlayer"
	if len(extractors) == 0 {
		extractors = DefaultExtractors
	}
	for _, e := range extractors {
		if blob, ok := e.Extract(page); ok {
			return blob, e.Name(), nil
		}
	}
	return nil, "", apperrors.Parse(op, nil, "player response not found in page").
		WithDiagnostic(snippet(page))
}

// balancedObject returns data[start:end] where data[start] is '{' and end is
// just past its matching '}'. String literals and escapes are honoured.
func balancedObject(data []byte, start int) []byte {
	if start >= len(data) || data[start] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(data); i++ {
		c := data[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[start : i+1]
			}
		}
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func snippet(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
