package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foomo/newsletter-mcp/service"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultEndpoint = "/mcp"

// httpRequestKey is a custom context key for storing the original HTTP request
type httpRequestKey struct{}

// withHTTPRequest adds the original HTTP request to the context
func withHTTPRequest(ctx context.Context, req *http.Request) context.Context {
	return context.WithValue(ctx, httpRequestKey{}, req)
}

// httpRequestFromContext extracts the original HTTP request from the context
func httpRequestFromContext(ctx context.Context) (*http.Request, bool) {
	req, ok := ctx.Value(httpRequestKey{}).(*http.Request)
	return req, ok
}

// httpContextFunc extracts the original HTTP request and adds it to the context
func httpContextFunc(ctx context.Context, r *http.Request) context.Context {
	return withHTTPRequest(ctx, r)
}

// HTTPServer serves the MCP endpoint, the JSON content API, the SSE state
// stream and prometheus metrics from one mux.
type HTTPServer struct {
	logger    *zap.Logger
	mux       *http.ServeMux
	service   service.Service
	sseServer *SSEServer
}

// NewHTTPServer wires all HTTP endpoints. The MCP endpoint lives at endpoint.
func NewHTTPServer(logger *zap.Logger, s *server.MCPServer, serviceInstance service.Service, endpoint string, config *SSEServerConfig) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	h := &HTTPServer{
		logger:    logger,
		mux:       http.NewServeMux(),
		service:   serviceInstance,
		sseServer: NewSSEServer(logger.Named("sse"), serviceInstance, config),
	}

	mcpHandler := server.NewStreamableHTTPServer(
		s,
		server.WithEndpointPath(endpoint),
		server.WithHTTPContextFunc(httpContextFunc),
	)
	h.mux.Handle(endpoint, mcpHandler)

	h.mux.HandleFunc("GET /content", h.handleContent)
	h.mux.HandleFunc("GET /content/{id}", h.handleSection)
	h.mux.HandleFunc("POST /content/refresh", h.handleRefresh)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.mux.HandleFunc("GET /sse", h.sseServer.HandleSSE)
	h.mux.HandleFunc("POST /sse/refresh", h.sseServer.HandleRefreshSSE)
	h.mux.HandleFunc("GET /sse/clients", func(w http.ResponseWriter, r *http.Request) {
		clients := h.sseServer.GetConnectedClients()
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"connectedClients": len(clients),
			"clients":          clients,
		})
	})
	h.mux.HandleFunc("GET /sse/stats", func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, h.sseServer.GetStats())
	})

	return h
}

// ServeHTTP implements http.Handler
func (h *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// SSEServer returns the underlying SSE server for direct access
func (h *HTTPServer) SSEServer() *SSEServer {
	return h.sseServer
}

// Close stops the SSE broadcaster.
func (h *HTTPServer) Close() {
	h.sseServer.Close()
}

func (h *HTTPServer) handleContent(w http.ResponseWriter, r *http.Request) {
	ensureRetrieved(r.Context(), h.service)
	h.writeJSON(w, http.StatusOK, h.service.Snapshot())
}

func (h *HTTPServer) handleSection(w http.ResponseWriter, r *http.Request) {
	ensureRetrieved(r.Context(), h.service)
	response, err := renderSection(h.service, r.PathValue("id"), r.URL.Query().Get("format"))
	switch {
	case errors.Is(err, ErrUnknownSection), errors.Is(err, ErrNoContent):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrUnknownFormat):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		h.writeJSON(w, http.StatusOK, response)
	}
}

func (h *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.Retrieve(r.Context())
	if err != nil {
		h.logger.Warn("refresh failed", zap.Error(err))
		h.writeJSON(w, http.StatusBadGateway, snapshot)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
