// Package transcript reads chat transcripts page by page from a stream and
// parses structured or free-form transcript text into records.
package transcript

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hpungsan/cardvault/internal/rewrite"
)

// Kind is the transcript format.
type Kind string

const (
	KindUnknown    Kind = ""
	KindStructured Kind = "structured"
	KindFreeForm   Kind = "freeform"
)

// Valid reports whether k is a concrete format.
func (k Kind) Valid() bool { return k == KindStructured || k == KindFreeForm }

// Record is one transcript message. CleanText and RenderParts are derived on
// every read and never stored.
type Record struct {
	Name        string               `json:"name,omitempty"`
	IsUser      bool                 `json:"is_user"`
	IsSystem    bool                 `json:"is_system"`
	SendDate    string               `json:"send_date,omitempty"`
	Mes         string               `json:"mes"`
	Extra       json.RawMessage      `json:"extra,omitempty"`
	IsRawText   bool                 `json:"is_raw_text,omitempty"`
	CleanText   string               `json:"clean_text,omitempty"`
	RenderParts []rewrite.RenderUnit `json:"render_parts,omitempty"`
}

// RawText wraps a line that is not a structured record.
func RawText(line string) Record {
	return Record{Mes: line, IsRawText: true}
}

// DecodeLine turns one non-empty line into a record according to kind.
// A structured line that is not a JSON object becomes a raw-text record.
func DecodeLine(line string, kind Kind) Record {
	if kind != KindStructured {
		return RawText(line)
	}
	rec, ok := decodeStructured(line)
	if !ok {
		return RawText(line)
	}
	return rec
}

func decodeStructured(line string) (Record, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil || fields == nil {
		return Record{}, false
	}
	rec := Record{
		Name:     stringField(fields["name"]),
		IsUser:   boolField(fields["is_user"]),
		IsSystem: boolField(fields["is_system"]),
		SendDate: stringField(fields["send_date"]),
		Mes:      stringField(fields["mes"]),
	}
	if extra, ok := fields["extra"]; ok && !isNull(extra) {
		rec.Extra = extra
	}
	return rec, true
}

// stringField reads a string, keeping numbers as their literal text.
// Send dates appear as both.
func stringField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func boolField(raw json.RawMessage) bool {
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
