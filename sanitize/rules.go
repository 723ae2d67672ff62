package sanitize

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

type declaration struct {
	property string
	value    string
}

// elementRule forces attributes and style declarations onto one element type.
// Managed attributes and declarations are removed and re-appended in a fixed
// order, so the result does not depend on where the source had them.
type elementRule struct {
	attrs []html.Attribute
	style []declaration
}

var framing = []declaration{
	{property: "border-radius", value: "12px"},
	{property: "margin", value: "1.5rem 0"},
}

func defaultRules() map[string]elementRule {
	lazy := html.Attribute{Key: "loading", Val: "lazy"}
	return map[string]elementRule{
		"img": {
			attrs: []html.Attribute{lazy},
			style: append([]declaration{
				{property: "max-width", value: "100%"},
				{property: "height", value: "auto"},
			}, framing...),
		},
		"iframe": {
			attrs: []html.Attribute{lazy},
			style: append([]declaration{
				{property: "width", value: "100%"},
				{property: "max-width", value: "100%"},
				{property: "aspect-ratio", value: "16 / 9"},
			}, framing...),
		},
		"a": {
			attrs: []html.Attribute{
				{Key: "target", Val: "_blank"},
				{Key: "rel", Val: "noopener noreferrer"},
			},
		},
	}
}

func (r elementRule) apply(n *html.Node) {
	managed := make(map[string]bool, len(r.attrs)+1)
	for _, a := range r.attrs {
		managed[a.Key] = true
	}

	var style string
	if len(r.style) > 0 {
		managed["style"] = true
		for _, a := range n.Attr {
			if a.Key == "style" {
				style = a.Val
			}
		}
		style = mergeStyle(style, r.style)
	}

	attrs := make([]html.Attribute, 0, len(n.Attr)+len(r.attrs)+1)
	for _, a := range n.Attr {
		if !managed[a.Key] {
			attrs = append(attrs, a)
		}
	}
	attrs = append(attrs, r.attrs...)
	if style != "" {
		attrs = append(attrs, html.Attribute{Key: "style", Val: style})
	}
	n.Attr = attrs
}

// parseStyle parses a style attribute value. Declarations are only completed
// by ";", so one is added when missing.
func parseStyle(style string) []*css.Declaration {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil
	}
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return nil
	}
	return decls
}

// mergeStyle drops forced properties from style and appends them with their
// forced values. Unparseable styles are replaced.
func mergeStyle(style string, forced []declaration) string {
	override := make(map[string]bool, len(forced))
	for _, d := range forced {
		override[d.property] = true
	}

	var parts []string
	for _, decl := range parseStyle(style) {
		property := strings.ToLower(strings.TrimSpace(decl.Property))
		if override[property] || decl.Value == "" {
			continue
		}
		parts = append(parts, decl.Property+": "+decl.Value)
	}
	for _, d := range forced {
		parts = append(parts, d.property+": "+d.value)
	}
	return strings.Join(parts, "; ")
}
