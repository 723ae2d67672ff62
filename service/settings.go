package service

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/foomo/newsletter-mcp/scrape"
	"github.com/foomo/newsletter-mcp/segment"
	"github.com/foomo/newsletter-mcp/service/vo"
	"gopkg.in/yaml.v3"
)

const (
	EnvDocumentURL = "NEWSLETTER_DOCUMENT_URL"
	EnvHTTPAddr    = "NEWSLETTER_HTTP_ADDR"

	DefaultDocumentURL = "https://docs.google.com/document/d/e/2PACX-1vT7ebn-gWDjlSl0XZkP5xmdmltWAK44hYojISgalRiUg2746gWD-LRft06dS3z0Qvno5t6cjIeXDRNa/pub"

	defaultAttemptTimeout = 15 * time.Second
)

// Settings configure one newsletter ingestion service.
type Settings struct {
	// DocumentURL is the published document to render.
	DocumentURL string `yaml:"document_url"`
	// HTTPAddr is the listen address of the HTTP transport, empty serves stdio only.
	HTTPAddr string `yaml:"http_addr"`
	// Strategies are tried in order until one of them returns the document.
	Strategies []StrategySettings `yaml:"strategies"`
	// AttemptTimeout bounds a single strategy attempt (e.g. "15s").
	AttemptTimeout string `yaml:"attempt_timeout"`
	// MaxContentSize is the largest accepted document in bytes.
	MaxContentSize int64 `yaml:"max_content_size"`
	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
	// Duplicates is the duplicate header policy: "replace" or "append".
	Duplicates segment.DuplicatePolicy `yaml:"duplicates"`
	// ContainerSelectors locate the content container, first match wins.
	ContainerSelectors []string `yaml:"container_selectors"`
	// Sections are the recognition rules in priority order.
	Sections []vo.SectionRule `yaml:"sections"`
}

// StrategySettings describe one link of the fallback chain.
type StrategySettings struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
	Escape bool   `yaml:"escape"`
}

// DefaultSettings returns the settings of the company newsletter.
func DefaultSettings() *Settings {
	return &Settings{
		DocumentURL: DefaultDocumentURL,
		Strategies: []StrategySettings{
			{Name: "direct"},
			{Name: "corsproxy", Prefix: "https://corsproxy.io/?", Escape: true},
			{Name: "allorigins", Prefix: "https://api.allorigins.win/raw?url=", Escape: true},
			{Name: "cors-anywhere", Prefix: "https://cors-anywhere.herokuapp.com/"},
		},
		AttemptTimeout:     defaultAttemptTimeout.String(),
		Duplicates:         segment.DuplicateReplace,
		ContainerSelectors: segment.DefaultContainerSelectors,
		Sections:           DefaultSections(),
	}
}

// DefaultSections is the newsletter's section rule table. Specific rules
// precede general ones.
func DefaultSections() []vo.SectionRule {
	return []vo.SectionRule{
		{ID: "rachel-head", Patterns: []string{"an update from rachel head", "rachel head"}},
		{ID: "great-place-to-work", Patterns: []string{"great place to work"}},
		{ID: "ai", Exact: []string{"ai"}, Patterns: []string{"artificial intelligence"}},
		{ID: "sales", Patterns: []string{"sales"}},
		{ID: "domains-capability", Patterns: []string{"domains capability news", "domains capability"}},
		{ID: "chapter", Patterns: []string{"chapter"}},
		{ID: "domains-networks", Patterns: []string{"domains networks"}},
		{ID: "sustainability", Patterns: []string{"sustainability corner", "sustainability"}},
		{ID: "point-of-view", Patterns: []string{"point of view"}},
		{ID: "aob", Patterns: []string{"aob"}},
		{ID: "contribute", Patterns: []string{"want to contribute", "contribute to the newsletter"}},
	}
}

// LoadSettings reads a YAML settings file on top of the defaults. An empty
// path returns the defaults. Environment overrides are applied last.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}
	settings.applyEnv()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(EnvDocumentURL); v != "" {
		s.DocumentURL = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		s.HTTPAddr = v
	}
}

// Validate checks that the settings can drive an ingestion pass.
func (s *Settings) Validate() error {
	if s.DocumentURL == "" {
		return fmt.Errorf("document_url is required")
	}
	if len(s.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for i, strategy := range s.Strategies {
		if strategy.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
	}
	if s.AttemptTimeout != "" {
		if _, err := time.ParseDuration(s.AttemptTimeout); err != nil {
			return fmt.Errorf("invalid attempt_timeout %q: %w", s.AttemptTimeout, err)
		}
	}
	if s.MaxContentSize < 0 {
		return fmt.Errorf("max_content_size must not be negative")
	}
	switch s.Duplicates {
	case "", segment.DuplicateReplace, segment.DuplicateAppend:
	default:
		return fmt.Errorf("duplicates must be %q or %q, got %q", segment.DuplicateReplace, segment.DuplicateAppend, s.Duplicates)
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("at least one section rule is required")
	}
	seen := make(map[string]bool, len(s.Sections))
	for i, rule := range s.Sections {
		if rule.ID == "" {
			return fmt.Errorf("sections[%d].id is required", i)
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate section id %q", rule.ID)
		}
		seen[rule.ID] = true
		if len(rule.Patterns) == 0 && len(rule.Exact) == 0 {
			return fmt.Errorf("section %q needs at least one pattern or exact title", rule.ID)
		}
	}
	return nil
}

// GetAttemptTimeout parses the attempt timeout duration.
func (s *Settings) GetAttemptTimeout() time.Duration {
	if s.AttemptTimeout == "" {
		return defaultAttemptTimeout
	}
	d, err := time.ParseDuration(s.AttemptTimeout)
	if err != nil || d <= 0 {
		return defaultAttemptTimeout
	}
	return d
}

// BuildStrategies turns the configured chain into fetch strategies.
func (s *Settings) BuildStrategies(httpClient *http.Client) []scrape.Strategy {
	strategies := make([]scrape.Strategy, len(s.Strategies))
	for i, strategy := range s.Strategies {
		strategies[i] = scrape.NewHTTPStrategy(strategy.Name, strategy.Prefix, strategy.Escape,
			scrape.HTTPStrategyWithHTTPClient(httpClient),
			scrape.HTTPStrategyWithUserAgent(s.UserAgent),
			scrape.HTTPStrategyWithMaxContentSize(s.MaxContentSize),
		)
	}
	return strategies
}

// BuildSegmenter returns a segmenter for the configured rules.
func (s *Settings) BuildSegmenter() *segment.Segmenter {
	return segment.New(s.Sections,
		segment.WithDuplicatePolicy(s.Duplicates),
		segment.WithContainerSelectors(s.ContainerSelectors...),
	)
}
