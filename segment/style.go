package segment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

const (
	// minHeadingFontSize is the smallest font size, in pt or px, that marks a title.
	minHeadingFontSize = 16
	minHeadingWeight   = 700
)

var (
	classSelectorRe = regexp.MustCompile(`^\.[A-Za-z0-9_-]+$`)
	leadingNumberRe = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)`)
)

// classStyles maps a class name to the declarations of its simple class rules.
// Published documents tend to express heading styles through classes
// (".c3{font-weight:700}") rather than inline attributes.
type classStyles map[string][]*css.Declaration

// harvestClassStyles collects simple ".name{...}" rules from stylesheet texts.
// Unparseable stylesheets are ignored.
func harvestClassStyles(sheets ...string) classStyles {
	styles := classStyles{}
	for _, sheet := range sheets {
		stylesheet, err := parser.Parse(sheet)
		if err != nil {
			continue
		}
		for _, rule := range stylesheet.Rules {
			if rule.Kind != css.QualifiedRule {
				continue
			}
			for _, selector := range rule.Selectors {
				selector = strings.TrimSpace(selector)
				if !classSelectorRe.MatchString(selector) {
					continue
				}
				name := selector[1:]
				styles[name] = append(styles[name], rule.Declarations...)
			}
		}
	}
	return styles
}

// effectiveStyle resolves the declarations that apply to n: class rules in
// class attribute order, then the inline style attribute.
func (cs classStyles) effectiveStyle(n *html.Node) map[string]string {
	style := map[string]string{}
	for _, class := range strings.Fields(attr(n, "class")) {
		for _, decl := range cs[class] {
			style[strings.ToLower(decl.Property)] = strings.ToLower(strings.TrimSpace(decl.Value))
		}
	}
	for _, decl := range parseInlineStyle(attr(n, "style")) {
		style[strings.ToLower(decl.Property)] = strings.ToLower(strings.TrimSpace(decl.Value))
	}
	return style
}

// parseInlineStyle parses a style attribute. The parser only completes a
// declaration at ";" or "}", so a missing final ";" is added. Declarations
// before a syntax error are kept.
func parseInlineStyle(inline string) []*css.Declaration {
	inline = strings.TrimSpace(inline)
	if inline == "" {
		return nil
	}
	if !strings.HasSuffix(inline, ";") {
		inline += ";"
	}
	decls, _ := parser.ParseDeclarations(inline)
	return decls
}

// hasHeadingStyle reports whether n or any of its descendants declares a
// large font size or a bold weight.
func (cs classStyles) hasHeadingStyle(n *html.Node) bool {
	if n.Type == html.ElementNode && isHeadingStyle(cs.effectiveStyle(n)) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && cs.hasHeadingStyle(c) {
			return true
		}
	}
	return false
}

func isHeadingStyle(style map[string]string) bool {
	if size, ok := leadingNumber(style["font-size"]); ok && size >= minHeadingFontSize {
		return true
	}
	switch weight := style["font-weight"]; weight {
	case "bold", "bolder":
		return true
	default:
		w, ok := leadingNumber(weight)
		return ok && w >= minHeadingWeight
	}
}

func leadingNumber(value string) (float64, bool) {
	m := leadingNumberRe.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
