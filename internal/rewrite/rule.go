// Package rewrite applies ordered regex substitution rules to message text and
// splits fenced code blocks out into sandbox render units.
package rewrite

import (
	"encoding/json"
	"slices"
	"strings"
)

// Scope is where a rule was defined.
type Scope string

const (
	ScopeGlobal      Scope = "global"
	ScopeCardBuiltin Scope = "card-builtin"
	ScopeCardDisplay Scope = "card-display"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeCardBuiltin, ScopeCardDisplay:
		return true
	}
	return false
}

// Placement is the set of message kinds a rule is meant for.
type Placement uint8

const (
	PlaceUserInput Placement = 1 << iota
	PlaceAIOutput
	PlaceSlashCommand
	PlaceWorldInfo
)

// wire values used by card producers for each placement bit
var placementWire = []struct {
	bit  Placement
	wire int
}{
	{PlaceUserInput, 1},
	{PlaceAIOutput, 2},
	{PlaceSlashCommand, 3},
	{PlaceWorldInfo, 5},
}

// Has reports whether every bit of q is set in p.
func (p Placement) Has(q Placement) bool { return p&q == q }

// MarshalJSON encodes the set as the sorted list of wire values.
func (p Placement) MarshalJSON() ([]byte, error) {
	out := []int{}
	for _, w := range placementWire {
		if p.Has(w.bit) {
			out = append(out, w.wire)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of wire values. Unknown values are ignored.
func (p *Placement) UnmarshalJSON(b []byte) error {
	var values []int
	if err := json.Unmarshal(b, &values); err != nil {
		return err
	}
	var out Placement
	for _, v := range values {
		for _, w := range placementWire {
			if w.wire == v {
				out |= w.bit
			}
		}
	}
	*p = out
	return nil
}

// Rule is one substitution. Two field families exist in the wild: the
// explicit regex/flags/replace form used by global settings, and the
// findRegex/replaceString form embedded in cards.
type Rule struct {
	ID            string    `json:"id"`
	ScriptName    string    `json:"scriptName,omitempty"`
	Regex         string    `json:"regex,omitempty"`
	Flags         string    `json:"flags,omitempty"`
	FindRegex     string    `json:"findRegex,omitempty"`
	Replace       string    `json:"replace,omitempty"`
	ReplaceString string    `json:"replaceString,omitempty"`
	Disabled      bool      `json:"disabled,omitempty"`
	Placement     Placement `json:"placement,omitempty"`
	Scope         Scope     `json:"scope,omitempty"`
}

// validFlags is the alphabet kept when flags are recovered from a compact
// "/pattern/flags" string.
const validFlags = "gimsuy"

// Resolve returns the effective pattern and flags. The explicit regex field
// wins over findRegex. A findRegex of the form "/pattern/flags" is split at
// its last slash. Flags default to "g".
func (r Rule) Resolve() (pattern, flags string) {
	pattern, flags = r.Regex, r.Flags
	if pattern == "" {
		pattern = r.FindRegex
	}
	if r.Regex == "" && strings.HasPrefix(r.FindRegex, "/") {
		if last := strings.LastIndex(r.FindRegex, "/"); last > 0 {
			pattern = r.FindRegex[1:last]
			flags = strings.Map(func(c rune) rune {
				if strings.ContainsRune(validFlags, c) {
					return c
				}
				return -1
			}, r.FindRegex[last+1:])
		}
	}
	if flags == "" {
		flags = "g"
	}
	return pattern, flags
}

// Replacement returns the raw replacement template.
func (r Rule) Replacement() string {
	if r.Replace != "" {
		return r.Replace
	}
	return r.ReplaceString
}

// Label names the rule in logs.
func (r Rule) Label() string {
	if r.ID != "" {
		return r.ID
	}
	return r.ScriptName
}

// Chain concatenates the three scopes in precedence order and stamps each
// copy with its scope. The inputs are not modified.
func Chain(global, builtin, display []Rule) []Rule {
	out := make([]Rule, 0, len(global)+len(builtin)+len(display))
	for _, set := range []struct {
		scope Scope
		rules []Rule
	}{
		{ScopeGlobal, global},
		{ScopeCardBuiltin, builtin},
		{ScopeCardDisplay, display},
	} {
		for _, r := range set.rules {
			r.Scope = set.scope
			out = append(out, r)
		}
	}
	return slices.Clip(out)
}
