package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foomo/newsletter-mcp/scrape"
	"github.com/foomo/newsletter-mcp/service/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const newsletter = `<html><head><title>Newsletter</title></head><body>` +
	`<h1>Great Place To Work</h1><p>We won an award</p>` +
	`<h1>Sales</h1><p>Record quarter</p><p><img src="https://example.com/chart.png"></p>` +
	`</body></html>`

func testSettings(documentURL string) *Settings {
	settings := DefaultSettings()
	settings.DocumentURL = documentURL
	settings.Strategies = []StrategySettings{{Name: "direct"}}
	settings.AttemptTimeout = "1s"
	return settings
}

func documentServer(t *testing.T, body *atomic.Value, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		markup, _ := body.Load().(string)
		if markup == "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(markup))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestServiceStartsLoading(t *testing.T) {
	s := NewService(zap.NewNop(), testSettings("http://127.0.0.1:1"), nil)
	snapshot := s.Snapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, vo.StateLoading, snapshot.State)
	_, ok := s.ContentFor("sales")
	assert.False(t, ok)
}

func TestServiceRetrieve(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(newsletter)
	server := documentServer(t, &body, &hits)

	s := NewService(zap.NewNop(), testSettings(server.URL), server.Client())
	snapshot, err := s.Retrieve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, vo.StateReady, snapshot.State)
	assert.Equal(t, "Newsletter", snapshot.Title)
	assert.False(t, snapshot.Degenerate)
	assert.Empty(t, snapshot.Unavailable)
	assert.Len(t, snapshot.Content, 2)
	assert.Same(t, snapshot, s.Snapshot())

	markup, ok := s.ContentFor("great-place-to-work")
	require.True(t, ok)
	assert.Equal(t, "<p>We won an award</p>", markup)

	markup, ok = s.ContentFor("sales")
	require.True(t, ok)
	assert.Contains(t, markup, "<p>Record quarter</p>")
	assert.Contains(t, markup, `loading="lazy"`)

	_, ok = s.ContentFor("chapter")
	assert.False(t, ok)

	assert.Equal(t, []string{"great-place-to-work", "sales"}, snapshot.SectionIDs(s.Sections()))
}

func TestServiceRetrieveDegenerate(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(`<html><body><p>Hello</p><p>World</p></body></html>`)
	server := documentServer(t, &body, &hits)

	settings := testSettings(server.URL)
	s := NewService(zap.NewNop(), settings, server.Client())
	snapshot, err := s.Retrieve(context.Background())
	require.NoError(t, err)

	assert.True(t, snapshot.Degenerate)
	require.Len(t, snapshot.Content, len(settings.Sections))
	for _, rule := range settings.Sections {
		assert.Equal(t, "<p>Hello</p><p>World</p>", snapshot.Content[rule.ID], rule.ID)
	}
}

func TestServiceRetrieveErrorKeepsPreviousContent(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(newsletter)
	server := documentServer(t, &body, &hits)

	s := NewService(zap.NewNop(), testSettings(server.URL), server.Client())
	_, err := s.Retrieve(context.Background())
	require.NoError(t, err)

	body.Store("")
	snapshot, err := s.Retrieve(context.Background())
	require.Error(t, err)

	var retrievalErr *scrape.RetrievalError
	require.True(t, errors.As(err, &retrievalErr))
	assert.ErrorIs(t, err, scrape.ErrUnexpectedStatus)

	assert.Equal(t, vo.StateError, snapshot.State)
	assert.Contains(t, snapshot.Error, "502")
	assert.Equal(t, "Newsletter", snapshot.Title)
	markup, ok := s.ContentFor("great-place-to-work")
	require.True(t, ok)
	assert.Equal(t, "<p>We won an award</p>", markup)
}

func TestServiceRetrieveReplacesContentWholesale(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(newsletter)
	server := documentServer(t, &body, &hits)

	s := NewService(zap.NewNop(), testSettings(server.URL), server.Client())
	_, err := s.Retrieve(context.Background())
	require.NoError(t, err)

	body.Store(`<body><h1>Chapter</h1><p>Meetup</p></body>`)
	snapshot, err := s.Retrieve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, vo.ContentMap{"chapter": "<p>Meetup</p>"}, snapshot.Content)
	_, ok := s.ContentFor("sales")
	assert.False(t, ok)
}

type blockingRetriever struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *blockingRetriever) Retrieve(ctx context.Context, documentURL string) (string, error) {
	r.calls.Add(1)
	<-r.release
	return newsletter, nil
}

func TestServiceRetrieveCollapsesConcurrentCalls(t *testing.T) {
	retriever := &blockingRetriever{release: make(chan struct{})}
	s := NewService(zap.NewNop(), testSettings("https://docs.example.com/pub"), nil, WithRetriever(retriever))

	var wg sync.WaitGroup
	snapshots := make([]*vo.Snapshot, 5)
	for i := range snapshots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := s.Retrieve(context.Background())
			assert.NoError(t, err)
			snapshots[i] = snapshot
		}()
	}

	require.Eventually(t, func() bool { return retriever.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// let the other callers join the in-flight pass
	time.Sleep(50 * time.Millisecond)
	close(retriever.release)
	wg.Wait()

	assert.Equal(t, int32(1), retriever.calls.Load())
	for _, snapshot := range snapshots {
		assert.Same(t, snapshots[0], snapshot)
	}
}

func TestServiceRetrieveCallerCancellation(t *testing.T) {
	retriever := &blockingRetriever{release: make(chan struct{})}
	s := NewService(zap.NewNop(), testSettings("https://docs.example.com/pub"), nil, WithRetriever(retriever))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Retrieve(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return retriever.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// the shared pass still completes
	close(retriever.release)
	require.Eventually(t, func() bool { return s.Snapshot().State == vo.StateReady }, time.Second, 5*time.Millisecond)
}

func TestServiceSubscribe(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(newsletter)
	server := documentServer(t, &body, &hits)

	s := NewService(zap.NewNop(), testSettings(server.URL), server.Client())

	var mu sync.Mutex
	var states []vo.State
	cancel := s.Subscribe(func(snapshot *vo.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, snapshot.State)
	})

	_, err := s.Retrieve(context.Background())
	require.NoError(t, err)
	cancel()
	_, err = s.Retrieve(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []vo.State{vo.StateLoading, vo.StateReady}, states)
}
