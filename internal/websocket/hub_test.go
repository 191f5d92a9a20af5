package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
)

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_FansOutPerSession(t *testing.T) {
	hub := NewHub(3000)
	go hub.Run()

	a := &Client{SessionID: "s1", Send: make(chan []byte, 8)}
	b := &Client{SessionID: "s2", Send: make(chan []byte, 8)}
	hub.Register(a)
	hub.Register(b)

	hub.ItemStatus("s1", intake.StatusUpdate{Handle: "h1", Status: model.ItemStatusUploading, Progress: 45})

	msg := receive(t, a)
	if msg["type"] != model.WSMessageTypeStatus || msg["handle"] != "h1" || msg["progress"] != float64(45) {
		t.Errorf("unexpected status message %v", msg)
	}

	select {
	case <-b.Send:
		t.Error("expected no message for another session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_NotificationAndResult(t *testing.T) {
	hub := NewHub(0)
	go hub.Run()

	c := &Client{SessionID: "s1", Send: make(chan []byte, 8)}
	hub.Register(c)

	hub.Notify("s1", model.NotificationError, "Processing failed")
	msg := receive(t, c)
	if msg["type"] != model.WSMessageTypeNotification || msg["level"] != "error" || msg["expiresIn"] != float64(5000) {
		t.Errorf("unexpected notification %v", msg)
	}

	hub.BatchResult("s1", &model.RenderModel{Processed: 1, Total: 1, Message: "1 of 1 files processed"}, true)
	msg = receive(t, c)
	result, _ := msg["result"].(map[string]interface{})
	if msg["type"] != model.WSMessageTypeComplete || msg["final"] != true || result["message"] != "1 of 1 files processed" {
		t.Errorf("unexpected complete message %v", msg)
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := NewHub(0)
	go hub.Run()

	c := &Client{SessionID: "s1", Send: make(chan []byte, 1)}
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

// pump delivers every queued broadcast synchronously.
func pump(hub *Hub) {
	for {
		select {
		case msg := <-hub.broadcast:
			hub.deliver(msg)
		default:
			return
		}
	}
}

func TestHub_SlowClientSkipsStatusUpdates(t *testing.T) {
	hub := NewHub(0)
	c := &Client{SessionID: "s1", Send: make(chan []byte, 1)}
	hub.addClient(c)

	hub.ItemStatus("s1", intake.StatusUpdate{Handle: "h1", Status: model.ItemStatusUploading, Progress: 10})
	hub.ItemStatus("s1", intake.StatusUpdate{Handle: "h1", Status: model.ItemStatusUploading, Progress: 20})
	pump(hub)

	msg := receive(t, c)
	if msg["progress"] != float64(10) {
		t.Errorf("expected the first update, got %v", msg)
	}

	hub.Notify("s1", model.NotificationSuccess, "done")
	pump(hub)
	msg = receive(t, c)
	if msg["type"] != model.WSMessageTypeNotification {
		t.Errorf("expected client to stay connected and get the notification, got %v", msg)
	}
}

func TestHub_SlowClientDisconnectedRatherThanMissingResult(t *testing.T) {
	hub := NewHub(0)
	c := &Client{SessionID: "s1", Send: make(chan []byte, 1)}
	hub.addClient(c)

	hub.ItemStatus("s1", intake.StatusUpdate{Handle: "h1", Status: model.ItemStatusCompleted, Progress: 100})
	hub.BatchResult("s1", &model.RenderModel{Processed: 1, Total: 1}, true)
	pump(hub)

	if msg := receive(t, c); msg["type"] != model.WSMessageTypeStatus {
		t.Errorf("expected the buffered status update, got %v", msg)
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected the slow client to be disconnected")
	}
	if len(hub.clients["s1"]) != 0 {
		t.Errorf("expected client removed from session, got %d", len(hub.clients["s1"]))
	}

	// A later unregister from the connection handler is a no-op.
	hub.removeClient(c)
}
