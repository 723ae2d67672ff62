package segment

import (
	"strings"
	"unicode/utf8"

	"github.com/foomo/newsletter-mcp/service/vo"
	"golang.org/x/net/html"
)

const defaultMaxTitleLength = 80

var (
	headingTags       = map[string]bool{"h1": true, "h2": true, "h3": true}
	paragraphLikeTags = map[string]bool{"p": true, "div": true}
)

// Match is the classification of one element. A zero Match is a body element.
type Match struct {
	SectionID string
}

// Header reports whether the element starts a section.
func (m Match) Header() bool {
	return m.SectionID != ""
}

type textRule struct {
	sectionID string
	pattern   string
}

// Classifier decides whether an element is the header of a known section.
// It holds no per-document state apart from the harvested class styles and
// is safe for concurrent use.
type Classifier struct {
	exact          []textRule
	substring      []textRule
	maxTitleLength int
	styles         classStyles
}

// NewClassifier compiles rules into exact and substring matchers, keeping
// declaration order within each.
func NewClassifier(rules []vo.SectionRule) *Classifier {
	c := &Classifier{
		maxTitleLength: defaultMaxTitleLength,
		styles:         classStyles{},
	}
	for _, rule := range rules {
		for _, exact := range rule.Exact {
			if p := normalizeText(exact); p != "" {
				c.exact = append(c.exact, textRule{sectionID: rule.ID, pattern: p})
			}
		}
		for _, pattern := range rule.Patterns {
			if p := normalizeText(pattern); p != "" {
				c.substring = append(c.substring, textRule{sectionID: rule.ID, pattern: p})
			}
		}
	}
	return c
}

// withStyles returns a copy of c that also resolves class based styles.
func (c *Classifier) withStyles(styles classStyles) *Classifier {
	clone := *c
	clone.styles = styles
	return &clone
}

// Classify returns the section an element is the header of, or a zero Match
// for body elements.
func (c *Classifier) Classify(n *html.Node) Match {
	if n == nil || n.Type != html.ElementNode {
		return Match{}
	}
	text := normalizeText(nodeText(n))
	if !c.isHeaderCandidate(n, text) {
		return Match{}
	}
	id, _ := c.MatchText(text)
	return Match{SectionID: id}
}

// isHeaderCandidate: a heading tag, or a short paragraph whose own or
// descendant style marks it as a title. Plain paragraphs never qualify.
func (c *Classifier) isHeaderCandidate(n *html.Node, text string) bool {
	if text == "" {
		return false
	}
	if headingTags[n.Data] {
		return true
	}
	if !paragraphLikeTags[n.Data] || utf8.RuneCountInString(text) > c.maxTitleLength {
		return false
	}
	return c.styles.hasHeadingStyle(n)
}

// MatchText maps normalized header text to a section id. Exact titles are
// checked first, then substring patterns; declaration order decides ties.
func (c *Classifier) MatchText(text string) (string, bool) {
	text = normalizeText(text)
	if text == "" {
		return "", false
	}
	for _, rule := range c.exact {
		if text == rule.pattern {
			return rule.sectionID, true
		}
	}
	for _, rule := range c.substring {
		if strings.Contains(text, rule.pattern) {
			return rule.sectionID, true
		}
	}
	return "", false
}
