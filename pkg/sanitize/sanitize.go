package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer cleans user supplied text before it is stored.
type Sanitizer struct {
	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

// New builds the course-content policies. Rich text keeps basic formatting and
// https links; plain text strips every tag.
func New() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h3", "h4",
	)
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("https", "mailto")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &Sanitizer{
		rich:  rich,
		plain: bluemonday.StrictPolicy(),
	}
}

// HTML sanitises a rich-text field such as a course description.
func (s *Sanitizer) HTML(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

// Text strips all markup from a single-line field such as a title.
func (s *Sanitizer) Text(raw string) string {
	return strings.TrimSpace(s.plain.Sanitize(raw))
}
