package client

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

type WebSocketConnection struct {
	URL      string
	Callback WebSocketCallback
	MaxRetry int

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// Connect dials the websocket and starts delivering messages to Callback.
// Failed attempts are retried up to MaxRetry times; a positive timeout caps
// the total time spent.
func (w *WebSocketConnection) Connect(timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for attempt := 0; ; attempt++ {
		conn, _, err := w.Dialer.Dial(w.URL, nil)
		if err == nil {
			done := make(chan struct{})
			w.mu.Lock()
			w.conn = conn
			w.done = done
			w.mu.Unlock()
			go w.handleMessages(conn, done)
			return nil
		}
		slog.Warn("Connection attempt failed", "url", w.URL, "attempt", attempt+1, "error", err)
		if attempt >= w.MaxRetry {
			return fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
		}
		delay := w.reconnectDelay(attempt)
		if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("connection timeout after %v: %w", timeout, err)
		}
		time.Sleep(delay)
	}
}

// Done is closed when the read loop exits.
func (w *WebSocketConnection) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Close sends a close frame and closes the connection.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug("sending close frame", "error", err)
	}
	return conn.Close()
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("websocket read ended", "error", err)
			}
			return
		}
		// binary frames carry preview images
		if kind != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) reconnectDelay(attempt int) time.Duration {
	delay := w.BaseDelay << attempt
	if delay <= 0 || delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	return delay
}
