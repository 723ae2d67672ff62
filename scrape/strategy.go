package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	defaultUserAgent      = "newsletter-mcp/1.0"
	defaultMaxContentSize = 10 * 1024 * 1024
)

// Strategy is one way of getting at the published document.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, documentURL string) ([]byte, error)
}

// HTTPStrategy fetches the document through an optional URL prefix.
// An empty prefix fetches the document directly, a prefix such as
// "https://corsproxy.io/?" routes the request through a proxy.
type HTTPStrategy struct {
	name           string
	prefix         string
	escape         bool
	client         *http.Client
	userAgent      string
	maxContentSize int64
}

type HTTPStrategyOption func(s *HTTPStrategy)

// HTTPStrategyWithHTTPClient sets the client used for requests.
func HTTPStrategyWithHTTPClient(client *http.Client) HTTPStrategyOption {
	return func(s *HTTPStrategy) {
		if client != nil {
			s.client = client
		}
	}
}

// HTTPStrategyWithUserAgent sets the User-Agent header.
func HTTPStrategyWithUserAgent(userAgent string) HTTPStrategyOption {
	return func(s *HTTPStrategy) {
		if userAgent != "" {
			s.userAgent = userAgent
		}
	}
}

// HTTPStrategyWithMaxContentSize limits the accepted response size in bytes.
func HTTPStrategyWithMaxContentSize(size int64) HTTPStrategyOption {
	return func(s *HTTPStrategy) {
		if size > 0 {
			s.maxContentSize = size
		}
	}
}

// NewHTTPStrategy creates a strategy. When escape is set the document URL is
// query-escaped before it is appended to the prefix.
func NewHTTPStrategy(name, prefix string, escape bool, opts ...HTTPStrategyOption) *HTTPStrategy {
	s := &HTTPStrategy{
		name:           name,
		prefix:         prefix,
		escape:         escape,
		client:         http.DefaultClient,
		userAgent:      defaultUserAgent,
		maxContentSize: defaultMaxContentSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPStrategy) Name() string {
	return s.name
}

// TargetURL returns the URL actually requested for documentURL.
func (s *HTTPStrategy) TargetURL(documentURL string) string {
	if s.escape {
		return s.prefix + url.QueryEscape(documentURL)
	}
	return s.prefix + documentURL
}

func (s *HTTPStrategy) Fetch(ctx context.Context, documentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.TargetURL(documentURL), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download HTML: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxContentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > s.maxContentSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrContentTooLarge, s.maxContentSize)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyPayload
	}
	return body, nil
}
