package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/foomo/newsletter-mcp/service"
	"github.com/foomo/newsletter-mcp/service/vo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SSEEvent represents an SSE event structure
type SSEEvent struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func newSSEEvent(event string, data interface{}) SSEEvent {
	return SSEEvent{
		ID:        uuid.NewString(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID       string
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan struct{}
	LastSeen time.Time

	// serializes writes from the broadcast loop and the keepalive ticker
	mu sync.Mutex
}

// SSEServer streams snapshot state changes to connected clients
type SSEServer struct {
	logger       *zap.Logger
	service      service.Service
	config       *SSEServerConfig
	clients      map[string]*SSEClient
	clientsMutex sync.RWMutex
	broadcast    chan SSEEvent
	unsubscribe  func()
	done         chan struct{}
	closeOnce    sync.Once
}

// SSEServerConfig holds configuration for the SSE server
type SSEServerConfig struct {
	KeepaliveInterval time.Duration
	BufferSize        int
	ClientTimeout     time.Duration
}

// DefaultSSEServerConfig returns the default configuration for SSE server
func DefaultSSEServerConfig() *SSEServerConfig {
	return &SSEServerConfig{
		KeepaliveInterval: 30 * time.Second,
		BufferSize:        100,
		ClientTimeout:     60 * time.Second,
	}
}

// NewSSEServer creates a new SSE server subscribed to the service snapshots
func NewSSEServer(logger *zap.Logger, serviceInstance service.Service, config *SSEServerConfig) *SSEServer {
	if config == nil {
		config = DefaultSSEServerConfig()
	}

	sseServer := &SSEServer{
		logger:    logger,
		service:   serviceInstance,
		config:    config,
		clients:   make(map[string]*SSEClient),
		broadcast: make(chan SSEEvent, config.BufferSize),
		done:      make(chan struct{}),
	}
	sseServer.unsubscribe = serviceInstance.Subscribe(func(snapshot *vo.Snapshot) {
		sseServer.broadcastEvent(newSSEEvent("state", newStatus(snapshot, serviceInstance.Sections())))
	})

	go sseServer.broadcastLoop()

	return sseServer
}

// Close unsubscribes from the service and stops the broadcast loop
func (s *SSEServer) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
	})
}

// broadcastLoop handles broadcasting events to all connected clients
func (s *SSEServer) broadcastLoop() {
	for {
		var event SSEEvent
		select {
		case <-s.done:
			return
		case event = <-s.broadcast:
		}

		s.clientsMutex.RLock()
		clients := make([]*SSEClient, 0, len(s.clients))
		for _, client := range s.clients {
			clients = append(clients, client)
		}
		s.clientsMutex.RUnlock()

		for _, client := range clients {
			select {
			case <-client.Done:
				continue
			default:
			}
			if err := s.sendEventToClient(client, event); err != nil {
				s.logger.Error("failed to send event to client", zap.String("clientID", client.ID), zap.Error(err))
				s.removeClient(client.ID)
			}
		}
	}
}

// sendEventToClient sends an SSE event to a specific client
func (s *SSEServer) sendEventToClient(client *SSEClient, event SSEEvent) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	select {
	case <-client.Done:
		// the handler has returned, the writer is gone
		return nil
	default:
	}
	if err := writeEvent(client.Writer, event); err != nil {
		return err
	}
	client.Flusher.Flush()
	client.LastSeen = time.Now()
	return nil
}

func writeEvent(w http.ResponseWriter, event SSEEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Event, eventJSON); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")
}

// addClient adds a new SSE client and sends it the current state
func (s *SSEServer) addClient(w http.ResponseWriter) *SSEClient {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil
	}

	client := &SSEClient{
		ID:       uuid.NewString(),
		Writer:   w,
		Flusher:  flusher,
		Done:     make(chan struct{}),
		LastSeen: time.Now(),
	}

	connectEvent := newSSEEvent("connected", map[string]string{"clientID": client.ID, "message": "Connected to newsletter SSE server"})
	stateEvent := newSSEEvent("state", newStatus(s.service.Snapshot(), s.service.Sections()))
	for _, event := range []SSEEvent{connectEvent, stateEvent} {
		if err := s.sendEventToClient(client, event); err != nil {
			s.logger.Error("failed to send connection event", zap.String("clientID", client.ID), zap.Error(err))
			return nil
		}
	}

	s.clientsMutex.Lock()
	s.clients[client.ID] = client
	s.clientsMutex.Unlock()

	s.logger.Info("SSE client connected", zap.String("clientID", client.ID))
	return client
}

// removeClient removes a client from the server
func (s *SSEServer) removeClient(clientID string) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	if client, exists := s.clients[clientID]; exists {
		close(client.Done)
		delete(s.clients, clientID)
		s.logger.Info("SSE client disconnected", zap.String("clientID", clientID))
	}
}

// broadcastEvent sends an event to all connected clients
func (s *SSEServer) broadcastEvent(event SSEEvent) {
	select {
	case s.broadcast <- event:
	case <-s.done:
	default:
		s.logger.Warn("broadcast channel full, dropping event", zap.String("eventID", event.ID))
	}
}

// HandleSSE streams state events until the client disconnects
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	setSSEHeaders(w)

	client := s.addClient(w)
	if client == nil {
		return
	}

	defer func() {
		s.removeClient(client.ID)
		// wait for a write in flight
		client.mu.Lock()
		client.mu.Unlock()
	}()

	ticker := time.NewTicker(s.config.KeepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			keepaliveEvent := newSSEEvent("keepalive", map[string]interface{}{"timestamp": time.Now()})
			if err := s.sendEventToClient(client, keepaliveEvent); err != nil {
				return
			}
		}
	}
}

// HandleRefreshSSE runs an ingestion pass and streams its progress
func (s *SSEServer) HandleRefreshSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	send := func(event SSEEvent) {
		if err := writeEvent(w, event); err != nil {
			s.logger.Error("failed to send refresh event", zap.String("eventID", event.ID), zap.Error(err))
			return
		}
		flusher.Flush()
	}

	send(newSSEEvent("refresh_start", map[string]string{"status": string(vo.StateLoading)}))

	snapshot, err := s.service.Retrieve(r.Context())
	if err != nil {
		send(newSSEEvent("refresh_error", map[string]string{"error": err.Error()}))
		return
	}
	send(newSSEEvent("refresh_result", newStatus(snapshot, s.service.Sections())))
	send(newSSEEvent("refresh_complete", map[string]string{"status": "completed"}))
}

// GetConnectedClients returns information about connected clients
func (s *SSEServer) GetConnectedClients() []map[string]interface{} {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	clients := make([]map[string]interface{}, 0, len(s.clients))
	for _, client := range s.clients {
		client.mu.Lock()
		lastSeen := client.LastSeen
		client.mu.Unlock()
		clients = append(clients, map[string]interface{}{
			"id":        client.ID,
			"lastSeen":  lastSeen,
			"connected": time.Since(lastSeen) < s.config.ClientTimeout,
		})
	}
	return clients
}

// GetStats returns server statistics
func (s *SSEServer) GetStats() map[string]interface{} {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	snapshot := s.service.Snapshot()
	return map[string]interface{}{
		"connectedClients": len(s.clients),
		"bufferSize":       len(s.broadcast),
		"serverVersion":    Version,
		"state":            snapshot.State,
		"updatedAt":        snapshot.UpdatedAt,
	}
}
