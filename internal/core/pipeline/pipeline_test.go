package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"", Auto, true},
		{"auto", Auto, true},
		{"standard", Standard, true},
		{"STANDARD", Standard, true},
		{"vlm", VLM, true},
		{"asr", ASR, true},
		{"fancy", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseKind(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		source string
		want   DocType
	}{
		{"report.pdf", TypePDF},
		{"/data/in/Report.PDF", TypePDF},
		{"slides.pptx", TypeOfficeDocument},
		{"notes.md", TypeMarkdown},
		{"page.html", TypeWebDocument},
		{"table.csv", TypeSpreadsheet},
		{"scan.png", TypeImage},
		{"talk.mp3", TypeAudio},
		{"feed.xml", TypeStructuredData},
		{"archive.zip", TypeUnknown},
		{"noextension", TypeUnknown},
		{"https://example.com/docs/paper.pdf", TypePDF},
		{"https://example.com/docs/paper.pdf?download=1", TypePDF},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Detect(tc.source), "source %q", tc.source)
	}
}

func TestSelect_Auto(t *testing.T) {
	assert.Equal(t, []Kind{Standard, VLM}, Select(TypePDF, Auto, true))
	assert.Equal(t, []Kind{VLM, Standard}, Select(TypeImage, Auto, true))
	assert.Equal(t, []Kind{ASR}, Select(TypeAudio, Auto, true))
	assert.Equal(t, []Kind{Standard}, Select(TypeOfficeDocument, Auto, true))
	assert.Nil(t, Select(TypeUnknown, Auto, true))
}

func TestSelect_Explicit(t *testing.T) {
	// Without fallback the requested pipeline is the only candidate.
	assert.Equal(t, []Kind{VLM}, Select(TypePDF, VLM, false))

	// With fallback the type's remaining candidates follow the request.
	assert.Equal(t, []Kind{VLM, Standard}, Select(TypePDF, VLM, true))
	assert.Equal(t, []Kind{Standard, VLM}, Select(TypeImage, Standard, true))

	// An explicit request for an unknown type is still honored.
	assert.Equal(t, []Kind{Standard}, Select(TypeUnknown, Standard, true))
}

func TestSelect_DoesNotMutateTable(t *testing.T) {
	first := Select(TypePDF, Auto, true)
	first[0] = ASR
	second := Select(TypePDF, Auto, true)
	assert.Equal(t, []Kind{Standard, VLM}, second)
}

func TestSupportedFormats(t *testing.T) {
	f := SupportedFormats()
	require.NotEmpty(t, f.InputFormats)
	assert.Contains(t, f.InputFormats, "pdf")
	assert.Contains(t, f.InputFormats, "mp3")
	assert.NotContains(t, f.InputFormats, ".pdf")
	assert.Equal(t, []string{"standard", "vlm", "asr"}, f.Pipelines)
	assert.IsIncreasing(t, f.InputFormats)
}
