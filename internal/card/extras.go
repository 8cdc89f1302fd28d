package card

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/hpungsan/cardvault/internal/container"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/rewrite"
)

// regexScriptsKey is the extensions entry holding card-embedded rules.
const regexScriptsKey = "regex_scripts"

// BuiltinRules returns the regex scripts embedded in the card's extensions as
// card-builtin rules. Entries that are not rule objects are skipped.
func BuiltinRules(c *Card) []rewrite.Rule {
	if c == nil {
		return nil
	}
	items, ok := c.Data.Extensions[regexScriptsKey].([]any)
	if !ok {
		return nil
	}

	rules := make([]rewrite.Rule, 0, len(items))
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			continue
		}
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var r rewrite.Rule
		if err := json.Unmarshal(b, &r); err != nil {
			continue
		}
		r.Scope = rewrite.ScopeCardBuiltin
		rules = append(rules, r)
	}
	return rules
}

// KindFromContentType picks the ingestion kind from the declared content type,
// then the file extension, then the PNG signature.
func KindFromContentType(contentType, fileName string, data []byte) (Kind, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return KindImage, nil
	case "application/json", "text/json":
		return KindJSON, nil
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		return KindImage, nil
	case ".json":
		return KindJSON, nil
	}

	if container.HasSignature(data) {
		return KindImage, nil
	}
	return "", errors.NewInvalidRequest("unsupported card file: expected PNG image or JSON")
}
