package segment

import (
	"strings"
	"testing"

	"github.com/foomo/newsletter-mcp/service/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var newsletterRules = []vo.SectionRule{
	{ID: "rachel-head", Patterns: []string{"an update from rachel head", "rachel head"}},
	{ID: "great-place-to-work", Patterns: []string{"great place to work"}},
	{ID: "ai", Exact: []string{"ai"}, Patterns: []string{"artificial intelligence"}},
	{ID: "sales", Patterns: []string{"sales"}},
	{ID: "domains-capability", Patterns: []string{"domains capability news", "domains capability"}},
	{ID: "chapter", Patterns: []string{"chapter"}},
	{ID: "domains-networks", Patterns: []string{"domains networks"}},
	{ID: "sustainability", Patterns: []string{"sustainability corner", "sustainability"}},
	{ID: "point-of-view", Patterns: []string{"point of view"}},
}

func parseElement(t *testing.T, markup string) *html.Node {
	t.Helper()
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	return nodes[0]
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		markup   string
		expected string
	}{
		{
			name:     "heading tag",
			markup:   `<h2>Sales</h2>`,
			expected: "sales",
		},
		{
			name:     "heading with nested spans",
			markup:   `<h1><span>Great Place</span> <span>To Work</span></h1>`,
			expected: "great-place-to-work",
		},
		{
			name:     "empty heading",
			markup:   `<h1>   </h1>`,
			expected: "",
		},
		{
			name:     "unknown heading",
			markup:   `<h1>Weekly digest</h1>`,
			expected: "",
		},
		{
			name:     "h4 is not a header tag",
			markup:   `<h4>Sales</h4>`,
			expected: "",
		},
		{
			name:     "plain paragraph matching a pattern",
			markup:   `<p>Sales</p>`,
			expected: "",
		},
		{
			name:     "paragraph with large font span",
			markup:   `<p><span style="font-size:18pt">Sales</span></p>`,
			expected: "sales",
		},
		{
			name:     "paragraph with small font span",
			markup:   `<p><span style="font-size:11pt">Sales</span></p>`,
			expected: "",
		},
		{
			name:     "paragraph with bold span",
			markup:   `<p><span style="color:#000;font-weight:700">Chapter</span></p>`,
			expected: "chapter",
		},
		{
			name:     "paragraph with bold keyword",
			markup:   `<p style="font-weight: bold">Point of View</p>`,
			expected: "point-of-view",
		},
		{
			name:     "paragraph with normal weight",
			markup:   `<p style="font-weight:400">Chapter</p>`,
			expected: "",
		},
		{
			name:     "bold prose is too long to be a title",
			markup:   `<p><b style="font-weight:700">Our sales team closed more deals this quarter than in any quarter of the previous three years combined</b></p>`,
			expected: "",
		},
		{
			name:     "case and whitespace are normalized",
			markup:   "<h3>  GREAT   Place to Work </h3>",
			expected: "great-place-to-work",
		},
		{
			name:     "list items are never headers",
			markup:   `<ul><li style="font-size:20pt">Sales</li></ul>`,
			expected: "",
		},
	}

	classifier := NewClassifier(newsletterRules)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := classifier.Classify(parseElement(t, tt.markup))
			assert.Equal(t, tt.expected, match.SectionID)
			assert.Equal(t, tt.expected != "", match.Header())
		})
	}
}

func TestClassifyClassStyles(t *testing.T) {
	styles := harvestClassStyles(`@import url('https://themes.example.com/fonts.css');` +
		`.c1{padding-top:0pt;margin:0}.c4{color:#000000;font-weight:700;font-size:11pt}` +
		`ol{margin:0;padding:0}.c7{font-size:20pt}.c0{font-weight:400}`)

	classifier := NewClassifier(newsletterRules).withStyles(styles)

	assert.Equal(t, "sales", classifier.Classify(parseElement(t, `<p class="c1"><span class="c4">Sales</span></p>`)).SectionID)
	assert.Equal(t, "chapter", classifier.Classify(parseElement(t, `<p class="c1 c7">Chapter</p>`)).SectionID)
	assert.False(t, classifier.Classify(parseElement(t, `<p class="c1"><span class="c0">Sales</span></p>`)).Header())

	// inline style overrides the class
	assert.False(t, classifier.Classify(parseElement(t, `<p><span class="c4" style="font-weight:400">Sales</span></p>`)).Header())
}

func TestMatchTextExactBeforeSubstring(t *testing.T) {
	rules := []vo.SectionRule{
		{ID: "ai-news", Patterns: []string{"ai"}},
		{ID: "ai", Exact: []string{"ai"}},
	}
	classifier := NewClassifier(rules)

	id, ok := classifier.MatchText("AI")
	require.True(t, ok)
	assert.Equal(t, "ai", id)

	id, ok = classifier.MatchText("AI news")
	require.True(t, ok)
	assert.Equal(t, "ai-news", id)
}

func TestMatchTextShortExactTitleDoesNotLeak(t *testing.T) {
	classifier := NewClassifier(newsletterRules)

	id, ok := classifier.MatchText("Sustainability Corner")
	require.True(t, ok)
	assert.Equal(t, "sustainability", id)

	id, ok = classifier.MatchText(" ai ")
	require.True(t, ok)
	assert.Equal(t, "ai", id)
}

func TestMatchTextRuleOrder(t *testing.T) {
	specificFirst := NewClassifier([]vo.SectionRule{
		{ID: "domains-capability", Patterns: []string{"domains capability"}},
		{ID: "domains", Patterns: []string{"domains"}},
	})
	id, _ := specificFirst.MatchText("Domains Capability News")
	assert.Equal(t, "domains-capability", id)

	generalFirst := NewClassifier([]vo.SectionRule{
		{ID: "domains", Patterns: []string{"domains"}},
		{ID: "domains-capability", Patterns: []string{"domains capability"}},
	})
	id, _ = generalFirst.MatchText("Domains Capability News")
	assert.Equal(t, "domains", id)
}

func TestMatchTextNoMatch(t *testing.T) {
	classifier := NewClassifier(newsletterRules)
	_, ok := classifier.MatchText("Upcoming events")
	assert.False(t, ok)
	_, ok = classifier.MatchText("   ")
	assert.False(t, ok)
}

func TestIsHeadingStyle(t *testing.T) {
	tests := []struct {
		style    map[string]string
		expected bool
	}{
		{map[string]string{"font-size": "16pt"}, true},
		{map[string]string{"font-size": "15.5px"}, false},
		{map[string]string{"font-size": "26px"}, true},
		{map[string]string{"font-weight": "700"}, true},
		{map[string]string{"font-weight": "600"}, false},
		{map[string]string{"font-weight": "bolder"}, true},
		{map[string]string{"font-size": "large"}, false},
		{map[string]string{}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, isHeadingStyle(tt.style), "%v", tt.style)
	}
}
