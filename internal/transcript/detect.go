package transcript

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Detect classifies a transcript from its first non-empty line. A line that
// starts with { or [ and parses as JSON means one record per line; anything
// else is free-form text.
func Detect(firstLine string) Kind {
	line := strings.TrimSpace(firstLine)
	if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
		if json.Valid([]byte(line)) {
			return KindStructured
		}
	}
	return KindFreeForm
}

// KindFromFileName guesses the format from a file extension, returning
// KindUnknown when the extension says nothing.
func KindFromFileName(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".json":
		return KindStructured
	case ".txt":
		return KindFreeForm
	}
	return KindUnknown
}

// FirstLine returns the first line of text that is not blank.
func FirstLine(text string) string {
	for line := range strings.Lines(text) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Lines returns the non-blank lines of text without terminators.
func Lines(text string) []string {
	var out []string
	for line := range strings.Lines(text) {
		line = decodeLine(line)
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

var (
	markerRe     = regexp.MustCompile(`\[\s*#(\d+)\s*\](.*)`)
	markerOnlyRe = regexp.MustCompile(`\[\s*#(\d+)\s*\]`)
)

// ParseFreeForm splits delimited text on "[ #N ] name" markers. A record's
// content runs from the end of its marker line to the next marker.
func ParseFreeForm(text string) []Record {
	matches := markerRe.FindAllStringSubmatchIndex(text, -1)
	records := make([]Record, 0, len(matches))
	for _, m := range matches {
		id := text[m[2]:m[3]]
		name := strings.TrimSpace(text[m[4]:m[5]])
		if name == "" {
			name = "Unknown"
		}

		contentStart := m[1]
		contentEnd := len(text)
		if next := markerOnlyRe.FindStringIndex(text[contentStart:]); next != nil {
			contentEnd = contentStart + next[0]
		}

		lower := strings.ToLower(name)
		records = append(records, Record{
			Name:      name,
			Mes:       strings.TrimSpace(text[contentStart:contentEnd]),
			IsUser:    lower == "user" || lower == "you",
			Extra:     json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
			IsRawText: true,
		})
	}
	return records
}

// Parse decodes a whole in-memory transcript. Structured text yields one record
// per non-blank line; free-form text yields one record per marker.
func Parse(text string, kind Kind) []Record {
	if kind == KindUnknown {
		kind = Detect(FirstLine(text))
	}
	if kind == KindFreeForm {
		return ParseFreeForm(text)
	}
	lines := Lines(text)
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		records = append(records, DecodeLine(line, kind))
	}
	return records
}

// Count returns how many records Parse would produce.
func Count(text string, kind Kind) int {
	if kind == KindUnknown {
		kind = Detect(FirstLine(text))
	}
	if kind == KindFreeForm {
		return len(markerRe.FindAllStringIndex(text, -1))
	}
	return len(Lines(text))
}
