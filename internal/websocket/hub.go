package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/amharic-code-craft/orchestrator/internal/model"
)

// Client represents a WebSocket client subscribed to one scope
type Client struct {
	ScopeID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections grouped by scope.
// A scope is a job id for job streams or a conversation id for thinking streams.
type Hub struct {
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to scope subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	ScopeID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ScopeID] == nil {
				h.clients[client.ScopeID] = make(map[*Client]bool)
			}
			h.clients[client.ScopeID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for scope %s", client.ScopeID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ScopeID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.ScopeID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from scope %s", client.ScopeID)

		case msg := <-h.broadcast:
			// Write lock: stalled clients are evicted from the map here
			h.mu.Lock()
			if clients, ok := h.clients[msg.ScopeID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.ScopeID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) send(scopeID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal broadcast message: %v", err)
		return
	}
	h.broadcast <- &BroadcastMessage{
		ScopeID: scopeID,
		Message: data,
	}
}

// BroadcastJobUpdate sends a job state change to all job subscribers
func (h *Hub) BroadcastJobUpdate(jobID string, status model.JobStatus, progress int, step, message string) {
	h.send(jobID, model.WSJobUpdateMessage{
		Type:        model.WSMessageTypeJobUpdate,
		JobID:       jobID,
		Status:      status,
		Progress:    progress,
		CurrentStep: step,
		Message:     message,
	})
}

// BroadcastComplete sends the terminal completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.send(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends a terminal error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.send(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// BroadcastThinkingStep sends a thinking step event to all scope subscribers
func (h *Hub) BroadcastThinkingStep(scopeID string, step model.ThinkingStep, isThinking bool) {
	h.send(scopeID, model.WSThinkingStepMessage{
		Type:       model.WSMessageTypeThinkingStep,
		ScopeID:    scopeID,
		Step:       step,
		IsThinking: isThinking,
	})
}

// BroadcastConfirmation announces a confirmation state change on the job scope
func (h *Hub) BroadcastConfirmation(jobID string, conf *model.PendingConfirmation) {
	if jobID == "" {
		return
	}
	h.send(jobID, model.WSConfirmationMessage{
		Type:           model.WSMessageTypeConfirmation,
		JobID:          jobID,
		ConfirmationID: conf.ID,
		Severity:       conf.Severity,
		Resolution:     conf.Resolution,
		ExpiresAt:      conf.ExpiresAt,
	})
}

// HandleConnection handles a WebSocket connection subscribed to one scope
func (h *Hub) HandleConnection(c *websocket.Conn, scopeID string) {
	client := &Client{
		ScopeID: scopeID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
