package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/hpungsan/cardvault/internal/card"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/rewrite"
	"github.com/hpungsan/cardvault/internal/transcript"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestCard creates a card row with default values for testing.
func newTestCard(id, name string) *CardRow {
	now := time.Now().Unix()
	return &CardRow{
		ID: id,
		Card: card.Card{
			Spec:        card.SpecV2,
			SpecVersion: "2.0",
			Data: card.Data{
				Name:               name,
				AlternateGreetings: []string{},
				Tags:               []string{"test"},
				Extensions:         map[string]any{},
			},
		},
		Version:   1,
		FileHash:  "hash-" + id,
		FileType:  card.KindJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func stringPtr(s string) *string { return &s }

func TestInsertAndGetCard(t *testing.T) {
	db := openTestDB(t)

	c := newTestCard("01CARD1", "Aria")
	c.FileName = stringPtr("aria.json")
	c.StorageKey = stringPtr("abcd1234/cards/aria.json")

	if err := InsertCard(db, c); err != nil {
		t.Fatalf("InsertCard failed: %v", err)
	}

	got, err := GetCard(db, "01CARD1", false)
	if err != nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if got.Name() != "Aria" {
		t.Errorf("Name = %q, want Aria", got.Name())
	}
	if got.Card.Spec != card.SpecV2 {
		t.Errorf("Spec = %q, want %q", got.Card.Spec, card.SpecV2)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.FileName == nil || *got.FileName != "aria.json" {
		t.Errorf("FileName = %v, want aria.json", got.FileName)
	}
	if got.StorageKey == nil || *got.StorageKey != *c.StorageKey {
		t.Errorf("StorageKey = %v, want %s", got.StorageKey, *c.StorageKey)
	}
	if got.FileType != card.KindJSON {
		t.Errorf("FileType = %q, want %q", got.FileType, card.KindJSON)
	}
	if len(got.Card.Data.Tags) != 1 || got.Card.Data.Tags[0] != "test" {
		t.Errorf("Tags = %v, want [test]", got.Card.Data.Tags)
	}
	if got.DeletedAt != nil {
		t.Errorf("DeletedAt = %v, want nil", got.DeletedAt)
	}
}

func TestInsertCard_Duplicate(t *testing.T) {
	db := openTestDB(t)

	if err := InsertCard(db, newTestCard("01DUP", "A")); err != nil {
		t.Fatalf("InsertCard failed: %v", err)
	}
	err := InsertCard(db, newTestCard("01DUP", "B"))
	if err != ErrUniqueConstraint {
		t.Errorf("expected ErrUniqueConstraint, got %v", err)
	}
}

func TestGetCard_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := GetCard(db, "missing", false)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestSupersedeCard(t *testing.T) {
	db := openTestDB(t)

	first := newTestCard("01SUP", "Aria")
	first.CreatedAt = 1000
	first.UpdatedAt = 1000
	if err := InsertCard(db, first); err != nil {
		t.Fatalf("InsertCard failed: %v", err)
	}

	next := newTestCard("01SUP", "Aria v2")
	next.FileHash = "hash-2"
	next.UpdatedAt = 2000
	if err := SupersedeCard(db, next, "01HIST1"); err != nil {
		t.Fatalf("SupersedeCard failed: %v", err)
	}
	if next.Version != 2 {
		t.Errorf("Version = %d, want 2", next.Version)
	}
	if next.CreatedAt != 1000 {
		t.Errorf("CreatedAt = %d, want 1000", next.CreatedAt)
	}

	got, err := GetCard(db, "01SUP", false)
	if err != nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if got.Name() != "Aria v2" || got.Version != 2 || got.FileHash != "hash-2" {
		t.Errorf("live row = %q v%d %s, want Aria v2 v2 hash-2", got.Name(), got.Version, got.FileHash)
	}
	if got.CreatedAt != 1000 || got.UpdatedAt != 2000 {
		t.Errorf("timestamps = %d/%d, want 1000/2000", got.CreatedAt, got.UpdatedAt)
	}

	// A second supersede stacks history newest first
	third := newTestCard("01SUP", "Aria v3")
	third.UpdatedAt = 3000
	if err := SupersedeCard(db, third, "01HIST2"); err != nil {
		t.Fatalf("SupersedeCard failed: %v", err)
	}

	history, err := ListCardHistory(db, "01SUP")
	if err != nil {
		t.Fatalf("ListCardHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Version != 2 || history[0].Card.Data.Name != "Aria v2" || history[0].CreatedAt != 2000 {
		t.Errorf("history[0] = v%d %q at %d", history[0].Version, history[0].Card.Data.Name, history[0].CreatedAt)
	}
	if history[1].Version != 1 || history[1].Card.Data.Name != "Aria" || history[1].FileHash != "hash-01SUP" {
		t.Errorf("history[1] = v%d %q %s", history[1].Version, history[1].Card.Data.Name, history[1].FileHash)
	}
}

func TestSupersedeCard_Missing(t *testing.T) {
	db := openTestDB(t)

	err := SupersedeCard(db, newTestCard("nope", "X"), "01HIST")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}

	history, err := ListCardHistory(db, "nope")
	if err != nil {
		t.Fatalf("ListCardHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history length = %d, want 0", len(history))
	}
}

func TestListCards(t *testing.T) {
	db := openTestDB(t)

	for i, id := range []string{"01A", "01B", "01C"} {
		c := newTestCard(id, "card "+id)
		c.UpdatedAt = int64(1000 + i)
		if err := InsertCard(db, c); err != nil {
			t.Fatalf("InsertCard failed: %v", err)
		}
	}
	if err := SoftDeleteCard(db, "01B", 5000); err != nil {
		t.Fatalf("SoftDeleteCard failed: %v", err)
	}

	cards, total, err := ListCards(db, 10, 0)
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(cards) != 2 || cards[0].ID != "01C" || cards[1].ID != "01A" {
		t.Errorf("cards = %+v, want 01C then 01A", cards)
	}

	cards, total, err = ListCards(db, 1, 1)
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	if total != 2 || len(cards) != 1 || cards[0].ID != "01A" {
		t.Errorf("page 2 = %+v (total %d), want [01A]", cards, total)
	}
}

func TestSoftDeleteCard(t *testing.T) {
	db := openTestDB(t)

	if err := InsertCard(db, newTestCard("01DEL", "Gone")); err != nil {
		t.Fatalf("InsertCard failed: %v", err)
	}
	if err := SoftDeleteCard(db, "01DEL", 42); err != nil {
		t.Fatalf("SoftDeleteCard failed: %v", err)
	}

	if _, err := GetCard(db, "01DEL", false); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound for deleted card, got %v", err)
	}
	got, err := GetCard(db, "01DEL", true)
	if err != nil {
		t.Fatalf("GetCard(includeDeleted) failed: %v", err)
	}
	if got.DeletedAt == nil || *got.DeletedAt != 42 {
		t.Errorf("DeletedAt = %v, want 42", got.DeletedAt)
	}

	// Deleting twice is NotFound
	if err := SoftDeleteCard(db, "01DEL", 43); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound on second delete, got %v", err)
	}
}

func TestRuleSets(t *testing.T) {
	db := openTestDB(t)

	// Nothing stored yet
	rs, err := GetRuleSet(db, rewrite.ScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetRuleSet failed: %v", err)
	}
	if rs.Rules == nil || len(rs.Rules) != 0 {
		t.Errorf("Rules = %v, want empty slice", rs.Rules)
	}

	rules := []rewrite.Rule{
		{ID: "a", Regex: "foo", Replace: "bar", Placement: rewrite.PlaceAIOutput},
		{ID: "b", FindRegex: "/bar/gi", ReplaceString: "baz"},
	}
	if err := PutRuleSet(db, &RuleSet{Scope: rewrite.ScopeGlobal, Rules: rules, UpdatedAt: 10}); err != nil {
		t.Fatalf("PutRuleSet failed: %v", err)
	}
	if err := PutRuleSet(db, &RuleSet{Scope: rewrite.ScopeCardDisplay, CardID: "01X", Rules: rules[:1], UpdatedAt: 11}); err != nil {
		t.Fatalf("PutRuleSet failed: %v", err)
	}

	rs, err = GetRuleSet(db, rewrite.ScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetRuleSet failed: %v", err)
	}
	if len(rs.Rules) != 2 || rs.Rules[0].ID != "a" || rs.Rules[1].ID != "b" {
		t.Errorf("global rules = %+v", rs.Rules)
	}
	if !rs.Rules[0].Placement.Has(rewrite.PlaceAIOutput) {
		t.Errorf("placement lost: %v", rs.Rules[0].Placement)
	}
	if rs.UpdatedAt != 10 {
		t.Errorf("UpdatedAt = %d, want 10", rs.UpdatedAt)
	}

	// Replace overwrites
	if err := PutRuleSet(db, &RuleSet{Scope: rewrite.ScopeGlobal, UpdatedAt: 12}); err != nil {
		t.Fatalf("PutRuleSet failed: %v", err)
	}
	rs, err = GetRuleSet(db, rewrite.ScopeGlobal, "")
	if err != nil {
		t.Fatalf("GetRuleSet failed: %v", err)
	}
	if len(rs.Rules) != 0 || rs.UpdatedAt != 12 {
		t.Errorf("after replace: %d rules at %d, want 0 at 12", len(rs.Rules), rs.UpdatedAt)
	}

	display, err := GetRuleSet(db, rewrite.ScopeCardDisplay, "01X")
	if err != nil {
		t.Fatalf("GetRuleSet failed: %v", err)
	}
	if len(display.Rules) != 1 {
		t.Errorf("display rules = %d, want 1", len(display.Rules))
	}
}

func TestSessions(t *testing.T) {
	db := openTestDB(t)

	if err := InsertCard(db, newTestCard("01CARD", "Aria")); err != nil {
		t.Fatalf("InsertCard failed: %v", err)
	}

	for i, id := range []string{"01S1", "01S2"} {
		s := &Session{
			ID:           id,
			CardID:       "01CARD",
			FileName:     id + ".jsonl",
			ObjectKey:    "abcd1234/chat_history/" + id + ".jsonl",
			Kind:         transcript.KindStructured,
			FileSize:     128,
			MessageCount: 4,
			CreatedAt:    int64(100 + i),
		}
		if err := InsertSession(db, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	got, err := GetSession(db, "01S1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Kind != transcript.KindStructured || got.MessageCount != 4 || got.FileSize != 128 {
		t.Errorf("session = %+v", got)
	}

	sessions, total, err := ListSessions(db, "01CARD", 10, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 2 || len(sessions) != 2 || sessions[0].ID != "01S2" {
		t.Errorf("sessions = %+v (total %d), want 01S2 first", sessions, total)
	}

	if err := UpdateSessionKind(db, "01S1", transcript.KindFreeForm); err != nil {
		t.Fatalf("UpdateSessionKind failed: %v", err)
	}
	got, err = GetSession(db, "01S1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Kind != transcript.KindFreeForm {
		t.Errorf("Kind = %q, want %q", got.Kind, transcript.KindFreeForm)
	}

	if err := DeleteSession(db, "01S1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := GetSession(db, "01S1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	if err := DeleteSession(db, "01S1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound on second delete, got %v", err)
	}
	if err := UpdateSessionKind(db, "01S1", transcript.KindStructured); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NotFound on update of deleted session, got %v", err)
	}
}

func TestInsertSession_UnknownCard(t *testing.T) {
	db := openTestDB(t)

	err := InsertSession(db, &Session{ID: "01S", CardID: "ghost", FileName: "a.txt", ObjectKey: "k", CreatedAt: 1})
	if err == nil {
		t.Fatal("expected foreign key error for unknown card")
	}
}
