package db

import (
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/rewrite"
)

// RuleSet is the ordered rule list stored for one scope. CardID is empty for
// the global scope.
type RuleSet struct {
	Scope     rewrite.Scope
	CardID    string
	Rules     []rewrite.Rule
	UpdatedAt int64
}

// PutRuleSet replaces the rules stored for (rs.Scope, rs.CardID).
func PutRuleSet(db *sql.DB, rs *RuleSet) error {
	rules := rs.Rules
	if rules == nil {
		rules = []rewrite.Rule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return errors.NewInternal(err)
	}

	_, err = db.Exec(`
		INSERT INTO rule_sets (scope, card_id, rules_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, card_id) DO UPDATE
		SET rules_json = excluded.rules_json, updated_at = excluded.updated_at
	`, string(rs.Scope), rs.CardID, string(rulesJSON), rs.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetRuleSet returns the rules stored for (scope, cardID). A scope with no
// stored rules yields an empty set, not an error.
func GetRuleSet(db *sql.DB, scope rewrite.Scope, cardID string) (*RuleSet, error) {
	rs := &RuleSet{Scope: scope, CardID: cardID, Rules: []rewrite.Rule{}}

	var rulesJSON string
	err := db.QueryRow(
		`SELECT rules_json, updated_at FROM rule_sets WHERE scope = ? AND card_id = ?`,
		string(scope), cardID,
	).Scan(&rulesJSON, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return rs, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := json.Unmarshal([]byte(rulesJSON), &rs.Rules); err != nil {
		return nil, errors.NewInternal(err)
	}
	return rs, nil
}
