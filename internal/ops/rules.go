package ops

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/cardvault/internal/card"
	"github.com/hpungsan/cardvault/internal/db"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/rewrite"
)

// RulesInput addresses one rule scope. CardID must be empty for the global
// scope and set for the card scopes.
type RulesInput struct {
	Scope  rewrite.Scope
	CardID string
}

// SetRulesInput contains parameters for the SetRules operation.
type SetRulesInput struct {
	RulesInput
	Rules []rewrite.Rule
}

// RulesOutput is the rule list of one scope.
type RulesOutput struct {
	Scope  rewrite.Scope  `json:"scope"`
	CardID string         `json:"card_id,omitempty"`
	Rules  []rewrite.Rule `json:"rules"`
	// Skipped lists stored rules that will not compile.
	Skipped []rewrite.Skip `json:"skipped,omitempty"`
}

func validateScope(input RulesInput) (RulesInput, error) {
	input.CardID = strings.TrimSpace(input.CardID)
	if input.Scope == "" {
		input.Scope = rewrite.ScopeGlobal
	}
	if !input.Scope.Valid() {
		return input, errors.NewInvalidRequest(fmt.Sprintf("unknown rule scope %q", input.Scope))
	}
	if input.Scope == rewrite.ScopeGlobal && input.CardID != "" {
		return input, errors.NewInvalidRequest("global rules take no card_id")
	}
	if input.Scope != rewrite.ScopeGlobal && input.CardID == "" {
		return input, errors.NewInvalidRequest(fmt.Sprintf("%s rules need a card_id", input.Scope))
	}
	return input, nil
}

// SetRules replaces the rules of a writable scope. Rules that fail to compile
// are stored anyway and reported as skipped, matching how they behave at
// render time.
func SetRules(database *sql.DB, input SetRulesInput) (*RulesOutput, error) {
	scope, err := validateScope(input.RulesInput)
	if err != nil {
		return nil, err
	}
	if scope.Scope == rewrite.ScopeCardBuiltin {
		return nil, errors.NewInvalidRequest("card-builtin rules are read-only; re-upload the card to change them")
	}
	if scope.CardID != "" {
		if _, err := db.GetCard(database, scope.CardID, false); err != nil {
			return nil, err
		}
	}

	rules := make([]rewrite.Rule, len(input.Rules))
	for i, r := range input.Rules {
		r.Scope = ""
		rules[i] = r
	}

	err = db.PutRuleSet(database, &db.RuleSet{
		Scope:     scope.Scope,
		CardID:    scope.CardID,
		Rules:     rules,
		UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	// Compile a stamped copy so skips name the scope.
	stamped := make([]rewrite.Rule, len(rules))
	for i, r := range rules {
		r.Scope = scope.Scope
		stamped[i] = r
	}

	return &RulesOutput{
		Scope:   scope.Scope,
		CardID:  scope.CardID,
		Rules:   rules,
		Skipped: rewrite.Compile(stamped, rewrite.Options{}).Skipped(),
	}, nil
}

// GetRules returns the rules of one scope. Built-in rules are read from the
// card's regex_scripts extension.
func GetRules(database *sql.DB, input RulesInput) (*RulesOutput, error) {
	scope, err := validateScope(input)
	if err != nil {
		return nil, err
	}

	var rules []rewrite.Rule
	if scope.Scope == rewrite.ScopeCardBuiltin {
		row, err := db.GetCard(database, scope.CardID, false)
		if err != nil {
			return nil, err
		}
		rules = card.BuiltinRules(&row.Card)
	} else {
		if scope.CardID != "" {
			if _, err := db.GetCard(database, scope.CardID, false); err != nil {
				return nil, err
			}
		}
		rs, err := db.GetRuleSet(database, scope.Scope, scope.CardID)
		if err != nil {
			return nil, err
		}
		rules = rs.Rules
	}
	if rules == nil {
		rules = []rewrite.Rule{}
	}

	return &RulesOutput{Scope: scope.Scope, CardID: scope.CardID, Rules: rules}, nil
}

// RuleChain returns the rules applied to a card's messages: global, then the
// card's built-in rules, then its display rules. An empty cardID yields the
// global rules alone.
func RuleChain(database *sql.DB, cardID string) ([]rewrite.Rule, error) {
	global, err := db.GetRuleSet(database, rewrite.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}

	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return rewrite.Chain(global.Rules, nil, nil), nil
	}

	row, err := db.GetCard(database, cardID, true)
	if err != nil {
		return nil, err
	}
	display, err := db.GetRuleSet(database, rewrite.ScopeCardDisplay, cardID)
	if err != nil {
		return nil, err
	}
	return rewrite.Chain(global.Rules, card.BuiltinRules(&row.Card), display.Rules), nil
}
