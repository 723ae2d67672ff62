// Package segment partitions the top-level element stream of a published
// document into named sections.
//
// The container's direct children are scanned once in document order. Each
// child is classified as the header of a known section or as body content;
// body content accumulates under the most recent header. Headers are never
// part of their own section. Content before the first header is dropped.
//
// When no header is recognized at all, every configured section receives the
// whole container so that readers always have something to show. Recognized
// headers without body content simply leave their sections absent.
package segment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/foomo/newsletter-mcp/service/vo"
)

// ErrParse is returned when the raw markup cannot be parsed.
var ErrParse = errors.New("failed to parse document")

// DuplicatePolicy decides what happens when a section header occurs twice.
type DuplicatePolicy string

const (
	// DuplicateReplace starts a fresh fragment; the last occurrence wins.
	DuplicateReplace DuplicatePolicy = "replace"
	// DuplicateAppend adds the later run to the earlier fragment.
	DuplicateAppend DuplicatePolicy = "append"
)

// DefaultContainerSelectors are tried in order to find the content container.
var DefaultContainerSelectors = []string{"#contents .doc-content", ".doc-content", "#contents", "body"}

// Result holds the raw (unsanitized) fragments of one document.
type Result struct {
	Fragments  map[string]string
	Order      []string // section ids in order of first detection
	Degenerate bool
	Title      string
}

type Segmenter struct {
	rules      []vo.SectionRule
	classifier *Classifier
	selectors  []string
	duplicates DuplicatePolicy
}

// Option configures a Segmenter.
type Option func(s *Segmenter)

// WithDuplicatePolicy sets how repeated section headers are handled.
func WithDuplicatePolicy(policy DuplicatePolicy) Option {
	return func(s *Segmenter) {
		if policy != "" {
			s.duplicates = policy
		}
	}
}

// WithContainerSelectors overrides the selectors tried to find the content container.
func WithContainerSelectors(selectors ...string) Option {
	return func(s *Segmenter) {
		if len(selectors) > 0 {
			s.selectors = selectors
		}
	}
}

// New returns a Segmenter for rules, replacing duplicates by default.
func New(rules []vo.SectionRule, opts ...Option) *Segmenter {
	s := &Segmenter{
		rules:      rules,
		classifier: NewClassifier(rules),
		selectors:  DefaultContainerSelectors,
		duplicates: DuplicateReplace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classifier exposes the header classifier built from the segmenter's rules.
func (s *Segmenter) Classifier() *Classifier {
	return s.classifier
}

// Segment splits raw markup into per-section fragments.
func (s *Segmenter) Segment(raw string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	var sheets []string
	doc.Find("style").Each(func(_ int, style *goquery.Selection) {
		sheets = append(sheets, style.Text())
	})
	classifier := s.classifier.withStyles(harvestClassStyles(sheets...))

	container := s.locateContainer(doc)
	sc := &scan{
		fragments:  map[string]string{},
		duplicates: s.duplicates,
	}

	var scanErr error
	container.Children().EachWithBreak(func(_ int, child *goquery.Selection) bool {
		node := child.Get(0)
		if structuralTags[node.Data] {
			return true
		}
		if match := classifier.Classify(node); match.Header() {
			sc.header(match.SectionID)
			return true
		}
		if sc.current == "" || isBlank(node) {
			return true
		}
		markup, err := goquery.OuterHtml(child)
		if err != nil {
			scanErr = fmt.Errorf("failed to render element <%s>: %w", node.Data, err)
			return false
		}
		sc.body(markup)
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	sc.flush()

	result := &Result{
		Fragments: sc.fragments,
		Order:     sc.order,
		Title:     extractTitle(doc.Get(0)),
	}
	if sc.headers == 0 {
		if err := s.fillDegenerate(result, container); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// fillDegenerate maps every configured section to the whole container.
func (s *Segmenter) fillDegenerate(result *Result, container *goquery.Selection) error {
	whole, err := container.Html()
	if err != nil {
		return fmt.Errorf("failed to render container: %w", err)
	}
	result.Degenerate = true
	for _, rule := range s.rules {
		result.Fragments[rule.ID] = whole
		result.Order = append(result.Order, rule.ID)
	}
	return nil
}

// locateContainer finds the narrowest element holding the document content
// and descends through single wrapper divs.
func (s *Segmenter) locateContainer(doc *goquery.Document) *goquery.Selection {
	container := doc.Selection
	for _, selector := range s.selectors {
		if found := doc.Find(selector).First(); found.Length() > 0 {
			container = found
			break
		}
	}
	for {
		var content []*goquery.Selection
		container.Children().Each(func(_ int, child *goquery.Selection) {
			if !structuralTags[goquery.NodeName(child)] {
				content = append(content, child)
			}
		})
		if len(content) != 1 || goquery.NodeName(content[0]) != "div" || hasDirectText(container.Get(0)) {
			return container
		}
		container = content[0]
	}
}

// scan accumulates body markup under the current section.
type scan struct {
	current    string
	headers    int
	buf        []string
	fragments  map[string]string
	order      []string
	duplicates DuplicatePolicy
}

func (sc *scan) header(sectionID string) {
	sc.flush()
	sc.headers++
	sc.current = sectionID
	sc.buf = sc.buf[:0]
}

func (sc *scan) body(markup string) {
	sc.buf = append(sc.buf, markup)
}

func (sc *scan) flush() {
	if sc.current == "" || len(sc.buf) == 0 {
		return
	}
	fragment := strings.Join(sc.buf, "")
	previous, seen := sc.fragments[sc.current]
	if !seen {
		sc.order = append(sc.order, sc.current)
	} else if sc.duplicates == DuplicateAppend {
		fragment = previous + fragment
	}
	sc.fragments[sc.current] = fragment
	sc.buf = sc.buf[:0]
}
