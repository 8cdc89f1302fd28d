package rewrite

import (
	"regexp"
	"strings"
)

// RenderUnit is one sandboxed render group: an html body plus the css and js
// blocks that preceded it.
type RenderUnit struct {
	HTML string   `json:"html"`
	CSS  []string `json:"css"`
	JS   []string `json:"js"`
}

// fenceRe matches ```lang\nbody``` lazily; the tag is optional.
var fenceRe = regexp.MustCompile("(?i)```([a-z0-9+-]*)\n([\\s\\S]*?)```")

// ExtractRenderUnits removes every fenced block from text and groups them.
// css and js blocks accumulate until an html, svg or xml block flushes them
// into a unit with that body. Leftover css or js becomes a final unit with an
// empty body. Blocks in other languages are removed but not rendered.
func ExtractRenderUnits(text string) (clean string, units []RenderUnit) {
	matches := fenceRe.FindAllStringSubmatchIndex(text, -1)
	units = []RenderUnit{}
	if len(matches) == 0 {
		return text, units
	}

	var b strings.Builder
	css, js := []string{}, []string{}
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]

		lang := strings.ToLower(text[m[2]:m[3]])
		body := text[m[4]:m[5]]
		switch lang {
		case "css":
			css = append(css, body)
		case "js", "javascript":
			js = append(js, body)
		case "html", "svg", "xml":
			units = append(units, RenderUnit{HTML: body, CSS: css, JS: js})
			css, js = []string{}, []string{}
		}
	}
	b.WriteString(text[last:])

	if len(css) > 0 || len(js) > 0 {
		units = append(units, RenderUnit{HTML: "", CSS: css, JS: js})
	}
	return b.String(), units
}

// Render applies the pipeline and then extracts render units from the result.
// A nil pipeline skips the rewrite step.
func Render(text string, p *Pipeline) (clean string, units []RenderUnit) {
	if p != nil {
		text = p.Apply(text)
	}
	return ExtractRenderUnits(text)
}
