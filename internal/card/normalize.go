package card

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/cardvault/internal/container"
	"github.com/hpungsan/cardvault/internal/errors"
)

// source is the closed set of payload shapes a card can arrive in.
// canonicalize is the only consumer.
type source interface{ isSource() }

// versioned is a payload that declares a known spec tag. doc is the whole
// document; top and fields are its top-level and data objects.
type versioned struct {
	specVersion string
	doc         []byte
	top         map[string]json.RawMessage
	fields      map[string]json.RawMessage
}

type versionedV2 struct{ versioned }

type versionedV3 struct{ versioned }

// bare is a legacy object with no spec tag, possibly nested under "data".
type bare struct {
	fields map[string]json.RawMessage
}

func (versionedV2) isSource() {}
func (versionedV3) isSource() {}
func (bare) isSource()        {}

// Parse runs a raw upload through the container walk (for images) and the
// normalizer. Errors carry the stage that failed.
func Parse(raw []byte, kind Kind) (*Card, error) {
	switch kind {
	case KindImage:
		payload, ok, err := container.ExtractCardText(raw)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NewPayloadMissing()
		}
		return Normalize(payload, KindImage)
	case KindJSON:
		return Normalize(decodeUTF8(raw), KindJSON)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported card kind %q", kind))
	}
}

// Normalize parses a card payload into the canonical shape.
// Image payloads are usually base64; some producers embed raw JSON instead,
// so a payload that does not decode to JSON is parsed as-is.
func Normalize(payload string, kind Kind) (*Card, error) {
	text := payload
	if kind == KindImage {
		if decoded, ok := decodeBase64JSON(payload); ok {
			text = decoded
		}
	}

	raw := []byte(strings.TrimSpace(text))
	if !json.Valid(raw) {
		return nil, errors.NewCardParse("card payload is not valid JSON", nil)
	}

	src, err := classify(raw)
	if err != nil {
		return nil, err
	}
	c := canonicalize(src)
	return &c, nil
}

// classify decides which source shape the JSON document is.
func classify(raw []byte) (source, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, errors.NewCardParse("card payload is not an object", err)
	}

	switch spec := asString(top["spec"]); spec {
	case SpecV2, SpecV3:
		fields, err := objectFields(top["data"])
		if err != nil {
			return nil, err
		}
		v := versioned{specVersion: asString(top["spec_version"]), doc: raw, top: top, fields: fields}
		if spec == SpecV2 {
			return versionedV2{v}, nil
		}
		return versionedV3{v}, nil
	}

	data, ok := top["data"]
	if !ok || isFalsy(data) {
		return bare{fields: top}, nil
	}
	fields, err := objectFields(data)
	if err != nil {
		return nil, err
	}
	return bare{fields: fields}, nil
}

// canonicalize maps every source shape onto Card. Versioned cards keep their
// document; bare objects get the v3 wrapper and legacy aliases.
func canonicalize(src source) Card {
	switch s := src.(type) {
	case versionedV2:
		return s.card(SpecV2)
	case versionedV3:
		return s.card(SpecV3)
	case bare:
		return Card{Spec: SpecV3, SpecVersion: bareSpecVersion, Data: readData(s.fields, true)}
	default:
		panic(fmt.Sprintf("card: unhandled source %T", src))
	}
}

// emptyCollections are the data keys a versioned card gets when it omits them.
var emptyCollections = map[string]json.RawMessage{
	"alternate_greetings": json.RawMessage("[]"),
	"tags":                json.RawMessage("[]"),
	"extensions":          json.RawMessage("{}"),
}

func (v versioned) card(spec string) Card {
	c := Card{Spec: spec, SpecVersion: v.specVersion, Data: readData(v.fields, false)}

	filled := false
	for key, empty := range emptyCollections {
		if _, ok := v.fields[key]; !ok {
			v.fields[key] = empty
			filled = true
		}
	}
	if !filled {
		c.raw = v.doc
		return c
	}
	data, err := json.Marshal(v.fields)
	if err != nil {
		return c
	}
	v.top["data"] = data
	if doc, err := json.Marshal(v.top); err == nil {
		c.raw = doc
	}
	return c
}

// readData fills every canonical field. Wrong-typed values become the zero
// value of the field instead of failing the parse.
func readData(f map[string]json.RawMessage, legacyAliases bool) Data {
	d := Data{
		Name:                    asString(f["name"]),
		Description:             asString(f["description"]),
		Personality:             asString(f["personality"]),
		Scenario:                asString(f["scenario"]),
		FirstMessage:            asString(f["first_mes"]),
		MessageExample:          asString(f["mes_example"]),
		CreatorNotes:            asString(f["creator_notes"]),
		SystemPrompt:            asString(f["system_prompt"]),
		PostHistoryInstructions: asString(f["post_history_instructions"]),
		AlternateGreetings:      asStringList(f["alternate_greetings"]),
		CharacterBook:           asBook(f["character_book"]),
		Tags:                    asStringList(f["tags"]),
		Creator:                 asString(f["creator"]),
		CharacterVersion:        asString(f["character_version"]),
		Extensions:              asObject(f["extensions"]),
	}
	if legacyAliases && d.FirstMessage == "" {
		d.FirstMessage = asString(f["first_message"])
	}
	return d
}

func objectFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.NewCardParse("card data is not an object", err)
	}
	return fields, nil
}

func asString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		// Numeric versions such as 1.2 are common in character_version.
		return string(raw)
	}
	return ""
}

func asStringList(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func asObject(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func asBook(raw json.RawMessage) *CharacterBook {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var b CharacterBook
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	if b.Extensions == nil {
		b.Extensions = map[string]any{}
	}
	if b.Entries == nil {
		b.Entries = []BookEntry{}
	}
	return &b
}

// isFalsy reports JSON values a loose "data ? data : obj" check skips over.
func isFalsy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "null", "false", "0", `""`:
		return true
	}
	return false
}

// decodeBase64JSON returns the decoded text when payload is base64 of a
// non-empty JSON document.
func decodeBase64JSON(payload string) (string, bool) {
	trimmed := strings.TrimSpace(payload)
	b, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(trimmed, "="))
		if err != nil {
			return "", false
		}
	}
	text := strings.TrimSpace(decodeUTF8(b))
	if !json.Valid([]byte(text)) || isFalsy(json.RawMessage(text)) {
		return "", false
	}
	return text, true
}

// decodeUTF8 decodes bytes leniently and drops a leading byte order mark.
func decodeUTF8(b []byte) string {
	return strings.TrimPrefix(strings.ToValidUTF8(string(b), "\uFFFD"), "\uFEFF")
}
