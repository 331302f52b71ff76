package youtube

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"html"
	"io"
	"strconv"
	"strings"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/pkg/errors"
)

// ParsePayload decodes a caption payload. The format is chosen by the first
// non-space byte: '<' for timedtext XML, '{' for JSON3 events.
func ParsePayload(data []byte) ([]models.Segment, error) {
	const op = "youtube.ParsePayload"

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, apperrors.Parse(op, nil, "empty caption payload")
	}

	var (
		segments []models.Segment
		err      error
	)
	switch trimmed[0] {
	case '<':
		segments, err = parseXML(trimmed)
	case '{':
		segments, err = parseJSON3(trimmed)
	default:
		return nil, apperrors.Parse(op, nil, "unrecognized caption payload format").
			WithDiagnostic(snippet(trimmed))
	}
	if err != nil {
		return nil, apperrors.Parse(op, err, "malformed caption payload").
			WithDiagnostic(snippet(trimmed))
	}
	if len(segments) == 0 {
		return nil, apperrors.Parse(op, nil, "caption payload has no segments").
			WithDiagnostic(snippet(trimmed))
	}
	return segments, nil
}

// parseXML handles both the legacy <text start dur> format (seconds) and
// srv3 <p t d> (milliseconds).
func parseXML(data []byte) ([]models.Segment, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var segments []models.Segment
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return segments, nil
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var scale float64
		var startAttr, durAttr string
		switch start.Name.Local {
		case "text":
			scale = 1
			startAttr, durAttr = "start", "dur"
		case "p":
			scale = 1000
			startAttr, durAttr = "t", "d"
		default:
			continue
		}

		text, err := elementText(dec)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Text:     text,
			Start:    attrFloat(start, startAttr) / scale,
			Duration: attrFloat(start, durAttr) / scale,
		})
	}
}

func attrFloat(el xml.StartElement, name string) float64 {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			v, err := strconv.ParseFloat(a.Value, 64)
			if err == nil {
				return v
			}
		}
	}
	return 0
}

// elementText collects the character data of the element just opened,
// descending into child spans such as srv3 <s> or <font>. Entities the
// decoder resolved are unescaped once more for double-escaped payloads.
func elementText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	text := html.UnescapeString(b.String())
	return strings.Join(strings.Fields(text), " "), nil
}

type json3Payload struct {
	Events *[]struct {
		TStartMs    float64 `json:"tStartMs"`
		DDurationMs float64 `json:"dDurationMs"`
		Segs        []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func parseJSON3(data []byte) ([]models.Segment, error) {
	var payload json3Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.Events == nil {
		return nil, errors.New("events array missing")
	}

	var segments []models.Segment
	for _, ev := range *payload.Events {
		var b strings.Builder
		for _, s := range ev.Segs {
			b.WriteString(s.UTF8)
		}
		text := strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
		if text == "" {
			continue
		}
		segments = append(segments, models.Segment{
			Text:     text,
			Start:    ev.TStartMs / 1000,
			Duration: ev.DDurationMs / 1000,
		})
	}
	return segments, nil
}
