package rewrite

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/logging"
)

// DefaultMatchTimeout bounds a single rule's match time on one text.
const DefaultMatchTimeout = 250 * time.Millisecond

// Options configures Compile.
type Options struct {
	Logger       *slog.Logger
	MatchTimeout time.Duration
}

// Skip records a rule that was dropped at compile time.
type Skip struct {
	RuleID  string `json:"rule_id"`
	Scope   Scope  `json:"scope,omitempty"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

type step struct {
	rule        Rule
	re          *regexp2.Regexp
	global      bool
	replacement string
}

// Pipeline is a compiled, immutable rule list. Apply is safe for concurrent use.
type Pipeline struct {
	steps   []step
	skipped []Skip
	logger  *slog.Logger
}

// Compile prepares rules in order. Disabled rules and rules without a pattern
// are dropped. A rule that fails to compile is logged, listed in Skipped, and
// otherwise ignored.
func Compile(rules []Rule, opts Options) *Pipeline {
	p := &Pipeline{logger: logging.OrDiscard(opts.Logger)}
	timeout := opts.MatchTimeout
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}

	for _, r := range rules {
		if r.Disabled {
			continue
		}
		pattern, flags := r.Resolve()
		if pattern == "" {
			continue
		}
		re, global, err := compileRule(pattern, flags)
		if err != nil {
			verr := errors.NewRuleCompile(r.Label(), pattern, err)
			p.logger.Warn("skipping regex rule", "rule_id", r.Label(), "scope", r.Scope, "error", verr)
			p.skipped = append(p.skipped, Skip{
				RuleID:  r.Label(),
				Scope:   r.Scope,
				Pattern: pattern,
				Reason:  err.Error(),
			})
			continue
		}
		re.MatchTimeout = timeout
		p.steps = append(p.steps, step{
			rule:        r,
			re:          re,
			global:      global,
			replacement: translateTemplate(r.Replacement()),
		})
	}
	return p
}

// Len returns the number of active rules.
func (p *Pipeline) Len() int { return len(p.steps) }

// Skipped lists rules dropped at compile time.
func (p *Pipeline) Skipped() []Skip {
	out := make([]Skip, len(p.skipped))
	copy(out, p.skipped)
	return out
}

// Apply runs every rule in order; each rule sees the previous rule's output.
// A rule that errors at match time (for example on timeout) leaves the text
// as it was before that rule.
func (p *Pipeline) Apply(text string) string {
	if text == "" {
		return ""
	}
	for _, s := range p.steps {
		count := 1
		if s.global {
			count = -1
		}
		out, err := s.re.Replace(text, s.replacement, -1, count)
		if err != nil {
			p.logger.Warn("regex rule failed", "rule_id", s.rule.Label(), "scope", s.rule.Scope, "error", err)
			continue
		}
		text = out
	}
	return text
}

func compileRule(pattern, flags string) (*regexp2.Regexp, bool, error) {
	var opts regexp2.RegexOptions
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'y':
		default:
			return nil, false, fmt.Errorf("invalid flag %q", f)
		}
	}
	re, err := regexp2.Compile(pattern, opts|regexp2.ECMAScript)
	if err != nil {
		return nil, false, err
	}
	return re, global, nil
}

var namedRef = regexp.MustCompile(`^\$<([A-Za-z_][A-Za-z0-9_]*)>`)

// translateTemplate rewrites a JavaScript replacement template into regexp2
// syntax. $<name> becomes ${name}, and $0, which JavaScript leaves as text,
// is escaped.
func translateTemplate(tmpl string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '$' || i+1 == len(tmpl) {
			b.WriteByte(tmpl[i])
			continue
		}
		next := tmpl[i+1]
		switch {
		case next == '$':
			b.WriteString("$$")
			i++
		case next == '0' && (i+2 == len(tmpl) || tmpl[i+2] < '1' || tmpl[i+2] > '9'):
			b.WriteString("$$0")
			i++
		case next == '<':
			m := namedRef.FindStringSubmatch(tmpl[i:])
			if m == nil {
				b.WriteByte('$')
				continue
			}
			b.WriteString("${" + m[1] + "}")
			i += len(m[0]) - 1
		default:
			b.WriteByte('$')
		}
	}
	return b.String()
}
