package youtube

import (
	"testing"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadXML(t *testing.T) {
	data := `<text start="1.0" dur="2.5">hello</text><text start="3.5" dur="1.0">world</text>`

	segments, err := ParsePayload([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []models.Segment{
		{Text: "hello", Start: 1.0, Duration: 2.5},
		{Text: "world", Start: 3.5, Duration: 1.0},
	}, segments)
	assert.Equal(t, "hello world", models.JoinSegments(segments))
}

func TestParsePayloadXMLKeepsEscapedBrackets(t *testing.T) {
	data := `<transcript>
<text start="1.0" dur="2.5">if a &lt; b and c &gt; d then</text>
<text start="3.5" dur="1">List&amp;lt;String&amp;gt; &amp;amp; more</text>
</transcript>`

	segments, err := ParsePayload([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []models.Segment{
		{Text: "if a < b and c > d then", Start: 1.0, Duration: 2.5},
		{Text: "List<String> & more", Start: 3.5, Duration: 1.0},
	}, segments)
}

func TestParsePayloadTimedtextDocument(t *testing.T) {
	data := `<?xml version="1.0" encoding="utf-8" ?><transcript>
<text start="0" dur="1.2">it&amp;#39;s &lt;b&gt;fine&lt;/b&gt;</text>
<text start="1.2" dur="0.8">   </text>
<text start="2" dur="1">line
break</text>
</transcript>`

	segments, err := ParsePayload([]byte(data))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "it's <b>fine</b>", segments[0].Text)
	assert.Equal(t, "line break", segments[1].Text)
	assert.Equal(t, 2.0, segments[1].Start)
}

func TestParsePayloadSrv3(t *testing.T) {
	data := `<timedtext format="3"><body>
<p t="1500" d="2000"><s>good</s><s t="400"> morning</s></p>
<p t="3000" d="800"><font color="#E5E5E5">x <s>&gt;</s> y</font></p>
<p t="4000" d="500"></p>
</body></timedtext>`

	segments, err := ParsePayload([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []models.Segment{
		{Text: "good morning", Start: 1.5, Duration: 2.0},
		{Text: "x > y", Start: 3.0, Duration: 0.8},
	}, segments)
}

func TestParsePayloadJSON3(t *testing.T) {
	segments, err := ParsePayload([]byte(`{"events":[{"tStartMs":1000,"segs":[{"utf8":"hi"}]}]}`))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "hi", segments[0].Text)
	assert.Equal(t, 1.0, segments[0].Start)

	segments, err = ParsePayload([]byte(`{"events":[
		{"tStartMs":0,"dDurationMs":4000},
		{"tStartMs":200,"dDurationMs":1500,"segs":[{"utf8":"split"},{"utf8":" words"}]},
		{"tStartMs":1700,"segs":[{"utf8":"\n"}]}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, []models.Segment{{Text: "split words", Start: 0.2, Duration: 1.5}}, segments)
}

func TestParsePayloadErrors(t *testing.T) {
	tests := map[string]string{
		"empty":           "   ",
		"html":            "<!DOCTYPE html><html></html>",
		"plain text":      "hello",
		"truncated json":  `{"events":[{"tStartMs":`,
		"no events":       `{"wireMagic":"pb3"}`,
		"empty events":    `{"events":[]}`,
		"broken xml":      `<text start="1">unterminated`,
		"no text element": `<transcript></transcript>`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(data))
			require.Error(t, err)
			assert.Equal(t, apperrors.ParseError, apperrors.Classify(err))
		})
	}
}
