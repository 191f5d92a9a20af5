package model

// WebSocket message types
const (
	WSMessageTypeStatus       = "status"
	WSMessageTypeComplete     = "complete"
	WSMessageTypeNotification = "notification"
	WSMessageTypePing         = "ping"
	WSMessageTypePong         = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage represents an item status change
type WSStatusMessage struct {
	Type      string     `json:"type"`
	SessionID string     `json:"sessionId"`
	Handle    Handle     `json:"handle"`
	Status    ItemStatus `json:"status"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
}

// WSCompleteMessage carries a render model, partial in stream mode
type WSCompleteMessage struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId"`
	Final     bool         `json:"final"`
	Result    *RenderModel `json:"result"`
}

// WSNotificationMessage is a dismissible notification that expires on its own
type WSNotificationMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	ExpiresIn int               `json:"expiresIn"` // milliseconds
}
