package pipeline

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// Kind identifies a conversion pipeline.
type Kind string

const (
	Standard Kind = "standard"
	VLM      Kind = "vlm"
	ASR      Kind = "asr"

	// Auto is not a pipeline; it asks the selector to pick by file type.
	Auto Kind = "auto"
)

// Valid reports whether k names a concrete pipeline or auto.
func (k Kind) Valid() bool {
	switch k {
	case Standard, VLM, ASR, Auto:
		return true
	}
	return false
}

// ParseKind maps a request string to a Kind. Empty means auto.
func ParseKind(s string) (Kind, bool) {
	if s == "" {
		return Auto, true
	}
	k := Kind(strings.ToLower(s))
	if !k.Valid() {
		return "", false
	}
	return k, true
}

// DocType is a coarse document category derived from the file extension.
type DocType string

const (
	TypePDF            DocType = "pdf"
	TypeOfficeDocument DocType = "office_document"
	TypeWebDocument    DocType = "web_document"
	TypeMarkdown       DocType = "markdown"
	TypeSpreadsheet    DocType = "spreadsheet"
	TypeImage          DocType = "image"
	TypeAudio          DocType = "audio"
	TypeStructuredData DocType = "structured_data"
	TypeUnknown        DocType = "unknown"
)

var extTypes = map[string]DocType{
	".pdf":      TypePDF,
	".docx":     TypeOfficeDocument,
	".xlsx":     TypeOfficeDocument,
	".pptx":     TypeOfficeDocument,
	".html":     TypeWebDocument,
	".htm":      TypeWebDocument,
	".xhtml":    TypeWebDocument,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
	".csv":      TypeSpreadsheet,
	".png":      TypeImage,
	".jpg":      TypeImage,
	".jpeg":     TypeImage,
	".tiff":     TypeImage,
	".tif":      TypeImage,
	".bmp":      TypeImage,
	".webp":     TypeImage,
	".mp3":      TypeAudio,
	".wav":      TypeAudio,
	".m4a":      TypeAudio,
	".flac":     TypeAudio,
	".xml":      TypeStructuredData,
	".json":     TypeStructuredData,
}

// candidates maps a document type to its pipeline order. The first entry is
// the primary pipeline, the rest are fallbacks. Audio has no fallback:
// transcription failure is terminal. Adding a pipeline is a table edit.
var candidates = map[DocType][]Kind{
	TypePDF:            {Standard, VLM},
	TypeOfficeDocument: {Standard},
	TypeWebDocument:    {Standard},
	TypeMarkdown:       {Standard},
	TypeSpreadsheet:    {Standard},
	TypeImage:          {VLM, Standard},
	TypeAudio:          {ASR},
	TypeStructuredData: {Standard},
}

// Detect returns the document type for a file path or URL, keyed on the
// lowercased extension.
func Detect(source string) DocType {
	ext := Ext(source)
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return TypeUnknown
}

// Ext extracts the lowercase extension from a path or URL.
func Ext(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

// Select computes the ordered candidate pipelines for a document type.
//
// An explicit pipeline (anything but Auto) is honored as the sole candidate;
// with allowFallback set, the type's remaining candidates are appended after
// it. Auto yields the table order. An unknown type yields nil, which callers
// treat as an unsupported format.
func Select(t DocType, explicit Kind, allowFallback bool) []Kind {
	table := candidates[t]

	if explicit != Auto && explicit != "" {
		out := []Kind{explicit}
		if allowFallback {
			for _, k := range table {
				if k != explicit {
					out = append(out, k)
				}
			}
		}
		return out
	}

	if len(table) == 0 {
		return nil
	}
	out := make([]Kind, len(table))
	copy(out, table)
	return out
}

// Formats describes the static capability surface of the selector.
type Formats struct {
	InputFormats []string `json:"input_formats"`
	Pipelines    []string `json:"pipelines"`
}

// SupportedFormats returns the input extensions and pipelines known to the
// selector, for capability reporting.
func SupportedFormats() Formats {
	inputs := make([]string, 0, len(extTypes))
	for ext := range extTypes {
		inputs = append(inputs, strings.TrimPrefix(ext, "."))
	}
	sort.Strings(inputs)
	return Formats{
		InputFormats: inputs,
		Pipelines:    []string{string(Standard), string(VLM), string(ASR)},
	}
}
