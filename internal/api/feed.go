package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valetlabs/valet/internal/transport"
)

// DeliveryEvent is one digest or reminder delivery as seen on the
// websocket feed.
type DeliveryEvent struct {
	UserID  string             `json:"user_id"`
	Text    string             `json:"text"`
	Actions []transport.Action `json:"actions,omitempty"`
	SentAt  time.Time          `json:"sent_at"`
}

// Feed broadcasts every delivery to connected websocket clients. It
// satisfies transport.Transport so it can ride along in the fan-out
// next to Signal and MQTT.
type Feed struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewFeed creates an empty delivery feed.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

// Name identifies the feed in transport logs.
func (f *Feed) Name() string { return "websocket" }

// Send broadcasts a delivery to every connected client. A feed with no
// listeners is not an error; a client whose write fails is dropped.
func (f *Feed) Send(ctx context.Context, userID, text string, actions []transport.Action) error {
	event := DeliveryEvent{
		UserID:  userID,
		Text:    text,
		Actions: actions,
		SentAt:  time.Now().UTC(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			f.logger.Debug("feed client dropped", "error", err)
			conn.Close()
			delete(f.conns, conn)
		}
	}
	return nil
}

// handleWS upgrades the connection and parks it in the broadcast set.
// The read loop exists only to notice the client going away.
func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	f.mu.Lock()
	f.conns[conn] = true
	total := len(f.conns)
	f.mu.Unlock()
	f.logger.Info("feed client connected", "clients", total)

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.conns, conn)
			f.mu.Unlock()
			conn.Close()
			f.logger.Info("feed client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Close disconnects all clients.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		conn.Close()
		delete(f.conns, conn)
	}
}
