package segment

import (
	"strings"

	"golang.org/x/net/html"
)

// mediaTags are embedded media that keep an element alive even without text.
var mediaTags = map[string]bool{
	"img":     true,
	"iframe":  true,
	"video":   true,
	"audio":   true,
	"picture": true,
	"svg":     true,
	"embed":   true,
	"object":  true,
}

// structuralTags never carry section content.
var structuralTags = map[string]bool{
	"style":    true,
	"script":   true,
	"noscript": true,
	"meta":     true,
	"link":     true,
	"title":    true,
	"template": true,
}

// normalizeText lower-cases s and collapses all whitespace runs, including
// non-breaking spaces, into single spaces.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// nodeText returns the text of n and its descendants, skipping structural elements.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if structuralTags[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}

// hasDirectText reports whether n has a non-blank text node as a direct child.
func hasDirectText(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return true
		}
	}
	return false
}

// findNodeByTag returns the first element in n's subtree whose tag is in tags.
func findNodeByTag(n *html.Node, tags map[string]bool) *html.Node {
	if n.Type == html.ElementNode && tags[n.Data] {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result := findNodeByTag(c, tags); result != nil {
			return result
		}
	}
	return nil
}

func hasMedia(n *html.Node) bool {
	return findNodeByTag(n, mediaTags) != nil
}

// isBlank reports whether n would render as nothing visible.
func isBlank(n *html.Node) bool {
	return strings.TrimSpace(nodeText(n)) == "" && !hasMedia(n)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// extractTitle extracts the title from the HTML document
func extractTitle(doc *html.Node) string {
	title := findNodeByTag(doc, map[string]bool{"title": true})
	if title == nil || title.FirstChild == nil || title.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(title.FirstChild.Data)
}
