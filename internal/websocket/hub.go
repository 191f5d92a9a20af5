package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/utils"
)

// Client represents a WebSocket client
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub maintains active WebSocket connections and fans session events out to them
type Hub struct {
	// Clients grouped by session ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	// expiresIn is the notification lifetime in milliseconds
	expiresIn int

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	SessionID string
	Message   []byte
	// Droppable messages are superseded by later ones and may be skipped
	// for slow clients.
	Droppable bool
}

// publishTimeout bounds how long a result or notification waits for room in
// the broadcast queue.
const publishTimeout = 2 * time.Second

// NewHub creates a new Hub
func NewHub(notificationExpiresIn int) *Hub {
	if notificationExpiresIn <= 0 {
		notificationExpiresIn = 5000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		expiresIn:  notificationExpiresIn,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
			utils.Zlog.Debug("Client registered", zap.String("sessionId", client.SessionID))

		case client := <-h.unregister:
			h.removeClient(client)
			utils.Zlog.Debug("Client unregistered", zap.String("sessionId", client.SessionID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.SessionID] == nil {
		h.clients[client.SessionID] = make(map[*Client]bool)
	}
	h.clients[client.SessionID][client] = true
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) {
	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.SessionID)
	}
}

// deliver hands msg to every client of its session. A client too slow to
// take a message that must not be lost is disconnected.
func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[msg.SessionID] {
		select {
		case client.Send <- msg.Message:
		default:
			if msg.Droppable {
				utils.Zlog.Debug("Client send buffer full, dropping status update",
					zap.String("sessionId", msg.SessionID))
				continue
			}
			utils.Zlog.Warn("Client send buffer full, disconnecting",
				zap.String("sessionId", msg.SessionID))
			h.dropLocked(client)
		}
	}
}

// sendDirect queues a reply for one client if it is still connected.
func (h *Hub) sendDirect(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.SessionID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
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

// ItemStatus sends an item status change to all session subscribers
func (h *Hub) ItemStatus(sessionID string, update intake.StatusUpdate) {
	h.publish(sessionID, true, model.WSStatusMessage{
		Type:      model.WSMessageTypeStatus,
		SessionID: sessionID,
		Handle:    update.Handle,
		Status:    update.Status,
		Progress:  update.Progress,
		Error:     update.Error,
	})
}

// BatchResult sends a render model to all session subscribers
func (h *Hub) BatchResult(sessionID string, result *model.RenderModel, final bool) {
	h.publish(sessionID, false, model.WSCompleteMessage{
		Type:      model.WSMessageTypeComplete,
		SessionID: sessionID,
		Final:     final,
		Result:    result,
	})
}

// Notify sends an auto-expiring notification to all session subscribers
func (h *Hub) Notify(sessionID string, level model.NotificationLevel, message string) {
	h.publish(sessionID, false, model.WSNotificationMessage{
		Type:      model.WSMessageTypeNotification,
		SessionID: sessionID,
		Level:     level,
		Message:   message,
		ExpiresIn: h.expiresIn,
	})
}

func (h *Hub) publish(sessionID string, droppable bool, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		utils.Zlog.Error("Failed to marshal websocket message", zap.Error(err))
		return
	}

	bm := &BroadcastMessage{SessionID: sessionID, Message: data, Droppable: droppable}
	select {
	case h.broadcast <- bm:
		return
	default:
	}

	if droppable {
		utils.Zlog.Debug("Broadcast queue full, dropping status update", zap.String("sessionId", sessionID))
		return
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case h.broadcast <- bm:
	case <-timer.C:
		utils.Zlog.Error("Broadcast queue full, message lost", zap.String("sessionId", sessionID))
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, sessionID string) {
	client := &Client{
		SessionID: sessionID,
		Conn:      c,
		Send:      make(chan []byte, 256),
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
				utils.Zlog.Warn("WebSocket error", zap.Error(err))
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			h.sendDirect(client, data)
		}
	}
}
