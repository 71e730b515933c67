// Package richtext cleans the HTML produced by the editor and walks it into a
// small block model that the PDF renderer and the diff summary can consume.
package richtext

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func editorPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"p", "br", "div", "span",
			"strong", "b", "em", "i", "u", "s", "strike", "del", "ins", "sub", "sup",
			"h1", "h2", "h3", "h4", "h5", "h6",
			"ul", "ol", "li", "blockquote", "pre", "code", "hr",
			"table", "thead", "tbody", "tfoot", "tr", "th", "td",
		)
		p.AllowAttrs("href").OnElements("a")
		p.AllowURLSchemes("http", "https", "mailto", "tel")
		p.RequireParseableURLs(true)
		p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
		p.AllowStyles("font-weight", "font-style", "text-decoration", "text-decoration-line").Globally()
		policy = p
	})
	return policy
}

// Sanitize strips everything from an editor fragment that the console does not render.
func Sanitize(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	return strings.TrimSpace(editorPolicy().Sanitize(fragment))
}
