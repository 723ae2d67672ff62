// Package sanitize turns raw section markup into markup that is safe to embed.
//
// Sanitization runs in two steps. An allow-list engine (bluemonday) strips
// every element and attribute that is not explicitly permitted, then a fixed
// set of element rules normalizes what survived: media is lazy-loaded and
// sized to its container, links open in a new browsing context without
// access to the opener.
//
// A Policy holds no mutable state and may be shared between goroutines.
// Sanitizing already sanitized markup returns it unchanged.
package sanitize

import (
	"errors"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var ErrSanitize = errors.New("sanitization failed")

// allowedStyleProperties may appear in style attributes. Values are checked
// by the engine's per-property CSS handlers.
var allowedStyleProperties = []string{
	"color", "background-color",
	"font-size", "font-weight", "font-style", "font-family",
	"text-align", "text-decoration", "text-indent", "line-height", "vertical-align",
	"margin", "margin-top", "margin-right", "margin-bottom", "margin-left",
	"padding", "padding-top", "padding-right", "padding-bottom", "padding-left",
	"width", "max-width", "height", "border-radius",
	"list-style-type",
}

// Policy is an allow-list plus post-processing rules.
type Policy struct {
	engine *bluemonday.Policy
	rules  map[string]elementRule
}

// NewPolicy returns the newsletter policy: user generated content defaults,
// iframes for embedded media, style and target attributes.
func NewPolicy() *Policy {
	engine := bluemonday.UGCPolicy()
	// rel on links is owned by the element rules
	engine.RequireNoFollowOnLinks(false)
	engine.AllowDataAttributes()
	engine.AllowAttrs("class", "target", "rel", "loading").Globally()
	engine.AllowStyles(allowedStyleProperties...).Globally()
	engine.AllowElements("iframe")
	engine.AllowAttrs("src", "width", "height", "title", "allow", "allowfullscreen", "frameborder").OnElements("iframe")

	return &Policy{
		engine: engine,
		rules:  defaultRules(),
	}
}

// Sanitize returns the safe form of fragment.
func (p *Policy) Sanitize(fragment string) (string, error) {
	clean := p.engine.Sanitize(fragment)

	nodes, err := html.ParseFragment(strings.NewReader(clean), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse sanitized markup: %w", ErrSanitize, err)
	}

	var sb strings.Builder
	for _, n := range nodes {
		p.postProcess(n)
		if err := html.Render(&sb, n); err != nil {
			return "", fmt.Errorf("%w: failed to render sanitized markup: %w", ErrSanitize, err)
		}
	}
	return sb.String(), nil
}

func (p *Policy) postProcess(n *html.Node) {
	if n.Type == html.ElementNode {
		if rule, ok := p.rules[n.Data]; ok {
			rule.apply(n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.postProcess(c)
	}
}

// Markdown renders a sanitized fragment as markdown for text-only clients.
func Markdown(fragment string) (string, error) {
	markdown, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}
