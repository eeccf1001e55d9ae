// Package reconcile splits raw model output into player-facing narrative and
// a structured stats fragment, and merges that fragment into session state.
package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultMarker introduces the structured fragment in model output.
const DefaultMarker = "JSON_STATS:"

var errNotObject = errors.New("fragment is not a JSON object")

// Extraction is the result of locating a structured fragment.
type Extraction struct {
	// Found reports whether the marker appeared at all.
	Found bool
	// Start and End delimit the byte span of marker plus fragment in raw.
	Start, End int
	// Fields holds the fragment's top-level members when it parsed.
	Fields map[string]json.RawMessage
	// Err is set when the marker was found but no fragment could be decoded.
	Err error
}

// Extractor locates a structured fragment inside raw model text.
type Extractor interface {
	Extract(raw string) Extraction
}

// MarkerExtractor finds a JSON object that follows a fixed marker string.
// Whitespace and a ```json code fence between marker and object are allowed.
type MarkerExtractor struct {
	Marker string
}

// Extract implements Extractor.
func (e MarkerExtractor) Extract(raw string) Extraction {
	marker := e.Marker
	if marker == "" {
		marker = DefaultMarker
	}

	start := strings.Index(raw, marker)
	if start < 0 {
		return Extraction{}
	}
	ex := Extraction{Found: true, Start: start, End: len(raw)}

	pos := start + len(marker)
	pos = skipSpace(raw, pos)
	fenced := false
	if rest := raw[pos:]; strings.HasPrefix(rest, "```") {
		fenced = true
		pos += 3
		if strings.HasPrefix(strings.ToLower(raw[pos:]), "json") {
			pos += 4
		}
		pos = skipSpace(raw, pos)
	}

	if pos >= len(raw) || raw[pos] != '{' {
		ex.Err = errNotObject
		return ex
	}

	dec := json.NewDecoder(strings.NewReader(raw[pos:]))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		ex.Err = fmt.Errorf("decode fragment: %w", err)
		return ex
	}

	end := pos + int(dec.InputOffset())
	if fenced {
		after := skipSpace(raw, end)
		if strings.HasPrefix(raw[after:], "```") {
			end = after + 3
		}
	}

	ex.End = end
	ex.Fields = fields
	return ex
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && unicode.IsSpace(rune(s[pos])) {
		pos++
	}
	return pos
}

// compactRaw renders a raw JSON member for logs.
func compactRaw(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
