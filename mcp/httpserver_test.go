package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHTTPServer(t *testing.T, retriever stubRetriever) *httptest.Server {
	t.Helper()
	svc := newTestService(retriever)
	handler := NewHTTPServer(zap.NewNop(), NewServer(zap.NewNop(), svc), svc, "", nil)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		handler.Close()
	})
	return server
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestHTTPContent(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})

	var snapshot struct {
		State   string            `json:"state"`
		Content map[string]string `json:"content"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/content", &snapshot))
	assert.Equal(t, "ready", snapshot.State)
	assert.Equal(t, "<p>We won an award</p>", snapshot.Content["great-place-to-work"])
}

func TestHTTPSection(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})

	tests := []struct {
		path     string
		status   int
		expected string
	}{
		{"/content/great-place-to-work", http.StatusOK, "<p>We won an award</p>"},
		{"/content/sales?format=markdown", http.StatusOK, "Record **quarter**"},
		{"/content/chapter", http.StatusNotFound, "no content available for section"},
		{"/content/weather", http.StatusNotFound, "unknown section: weather"},
		{"/content/sales?format=pdf", http.StatusBadRequest, "unknown format: pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var body map[string]string
			assert.Equal(t, tt.status, getJSON(t, server.URL+tt.path, &body))
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.expected, body["content"])
			} else {
				assert.Equal(t, tt.expected, body["error"])
			}
		})
	}
}

func TestHTTPRefresh(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})
	resp, err := http.Post(server.URL+"/content/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	failing := newTestHTTPServer(t, stubRetriever{err: errors.New("offline")})
	resp, err = http.Post(failing.URL+"/content/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var snapshot struct {
		State string `json:"state"`
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Equal(t, "error", snapshot.State)
	assert.Equal(t, "offline", snapshot.Error)
}

func TestHTTPMetrics(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})
	resp, err := http.Post(server.URL+"/content/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "newsletter_ingestion_passes_total")
}

func TestHTTPSSEStats(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})

	var stats map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/sse/stats", &stats))
	assert.EqualValues(t, 0, stats["connectedClients"])
	assert.Equal(t, Version, stats["serverVersion"])
}

// readEvents collects event names from an SSE stream until stop returns true.
func readEvents(t *testing.T, body io.Reader, stop func(event, data string) bool) []string {
	t.Helper()
	var events []string
	var event string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			events = append(events, event)
		case strings.HasPrefix(line, "data: "):
			if stop(event, strings.TrimPrefix(line, "data: ")) {
				return events
			}
		}
	}
	return events
}

func TestHTTPSSEStream(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	refreshed := false
	events := readEvents(t, resp.Body, func(event, data string) bool {
		if event == "state" && !refreshed {
			// the initial state has been delivered, trigger a pass
			refreshed = true
			go func() {
				resp, err := http.Post(server.URL+"/content/refresh", "application/json", nil)
				if err == nil {
					resp.Body.Close()
				}
			}()
			return false
		}
		return event == "state" && strings.Contains(data, `"state":"ready"`)
	})

	require.NotEmpty(t, events)
	assert.Equal(t, "connected", events[0])
	assert.Contains(t, events[1:], "state")
}

func TestHTTPSSERefresh(t *testing.T) {
	server := newTestHTTPServer(t, stubRetriever{markup: newsletter})

	resp, err := http.Post(server.URL+"/sse/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, resp.Body, func(event, data string) bool { return false })
	assert.Equal(t, []string{"refresh_start", "refresh_result", "refresh_complete"}, events)

	failing := newTestHTTPServer(t, stubRetriever{err: errors.New("offline")})
	resp, err = http.Post(failing.URL+"/sse/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	events = readEvents(t, resp.Body, func(event, data string) bool { return false })
	assert.Equal(t, []string{"refresh_start", "refresh_error"}, events)
}
