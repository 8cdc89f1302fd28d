// Package card turns embedded or uploaded card payloads into one canonical
// character card shape.
package card

import (
	"bytes"
	"encoding/json"
)

// Versioned spec tags recognised as already canonical.
const (
	SpecV2 = "chara_card_v2"
	SpecV3 = "chara_card_v3"

	// bareSpecVersion is stamped on cards synthesized from bare objects.
	bareSpecVersion = "1.0"
)

// Card is the canonical versioned wrapper around Data.
//
// A card read from a versioned document keeps that document, including keys
// Data does not model, and encodes back to it. Data is a read-only view of
// such a card.
type Card struct {
	Spec        string `json:"spec"`
	SpecVersion string `json:"spec_version"`
	Data        Data   `json:"data"`

	raw json.RawMessage
}

// MarshalJSON emits the preserved source document when there is one.
func (c Card) MarshalJSON() ([]byte, error) {
	if c.raw != nil {
		return c.raw, nil
	}
	type plain Card
	return json.Marshal(plain(c))
}

// UnmarshalJSON runs the document through the normalizer, so stored cards
// decode the same way uploads do.
func (c *Card) UnmarshalJSON(b []byte) error {
	b = bytes.Clone(bytes.TrimSpace(b))
	if string(b) == "null" {
		return nil
	}
	src, err := classify(b)
	if err != nil {
		return err
	}
	*c = canonicalize(src)
	return nil
}

// Data holds the character fields. After normalization every list and map is
// non-nil and every scalar is present, whatever schema the source used.
type Data struct {
	Name                    string         `json:"name"`
	Description             string         `json:"description"`
	Personality             string         `json:"personality"`
	Scenario                string         `json:"scenario"`
	FirstMessage            string         `json:"first_mes"`
	MessageExample          string         `json:"mes_example"`
	CreatorNotes            string         `json:"creator_notes"`
	SystemPrompt            string         `json:"system_prompt"`
	PostHistoryInstructions string         `json:"post_history_instructions"`
	AlternateGreetings      []string       `json:"alternate_greetings"`
	CharacterBook           *CharacterBook `json:"character_book,omitempty"`
	Tags                    []string       `json:"tags"`
	Creator                 string         `json:"creator"`
	CharacterVersion        string         `json:"character_version"`
	Extensions              map[string]any `json:"extensions"`
}

// CharacterBook is the lorebook embedded in a card.
type CharacterBook struct {
	Name              string         `json:"name,omitempty"`
	Description       string         `json:"description,omitempty"`
	ScanDepth         *int           `json:"scan_depth,omitempty"`
	TokenBudget       *int           `json:"token_budget,omitempty"`
	RecursiveScanning *bool          `json:"recursive_scanning,omitempty"`
	Extensions        map[string]any `json:"extensions"`
	Entries           []BookEntry    `json:"entries"`
}

// UnmarshalJSON decodes entries one at a time and drops the ones that do not
// fit BookEntry.
func (b *CharacterBook) UnmarshalJSON(data []byte) error {
	type plain CharacterBook
	var p struct {
		plain
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = CharacterBook(p.plain)
	b.Entries = make([]BookEntry, 0, len(p.Entries))
	for _, raw := range p.Entries {
		var e BookEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		b.Entries = append(b.Entries, e)
	}
	return nil
}

// EntryID is a lorebook entry id. Cards use both numbers and strings; the id
// is held as text and numeric text encodes as a JSON number.
type EntryID string

func (id EntryID) MarshalJSON() ([]byte, error) {
	var n json.Number
	if err := json.Unmarshal([]byte(id), &n); err == nil && n != "" && string(n) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *EntryID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = EntryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = EntryID(n)
	return nil
}

// BookEntry is one lorebook entry.
type BookEntry struct {
	ID             EntryID        `json:"id"`
	Keys           []string       `json:"keys"`
	SecondaryKeys  []string       `json:"secondary_keys,omitempty"`
	Comment        string         `json:"comment,omitempty"`
	Content        string         `json:"content"`
	Constant       bool           `json:"constant"`
	Selective      bool           `json:"selective"`
	InsertionOrder int            `json:"insertion_order"`
	Enabled        bool           `json:"enabled"`
	Position       string         `json:"position,omitempty"`
	UseRegex       bool           `json:"use_regex,omitempty"`
	Extensions     map[string]any `json:"extensions,omitempty"`
}

// UnmarshalJSON defaults Enabled to true when the key is absent.
func (e *BookEntry) UnmarshalJSON(b []byte) error {
	type plain BookEntry
	p := plain{Enabled: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = BookEntry(p)
	if e.Keys == nil {
		e.Keys = []string{}
	}
	return nil
}

// Kind is the declared origin of an ingestion payload.
type Kind string

const (
	KindImage Kind = "image-container"
	KindJSON  Kind = "json-text"
)
