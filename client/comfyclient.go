package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ComfyClient queues prompts on a ComfyUI server and follows their execution
// over the server's websocket.
type ComfyClient struct {
	baseURL     *url.URL
	clientid    string
	httpclient  *http.Client
	webSocket   *WebSocketConnection
	mu          sync.Mutex
	queueditems map[string]*QueueItem
}

// ServerURL builds the base URL of a ComfyUI server.
func ServerURL(protocol, address string, port int) string {
	if protocol == "" {
		protocol = "http"
	}
	return protocol + "://" + address + ":" + strconv.Itoa(port)
}

// NewComfyClient creates a client for the server at baseURL, for example
// "http://127.0.0.1:8188". Each client gets a fresh client id.
func NewComfyClient(baseURL string) (*ComfyClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	c := &ComfyClient{
		baseURL:     u,
		clientid:    uuid.New().String(),
		httpclient:  &http.Client{},
		queueditems: make(map[string]*QueueItem),
	}

	ws := *u
	ws.Scheme = "ws"
	if u.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path = "/ws"
	ws.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	c.webSocket = &WebSocketConnection{
		URL:       ws.String(),
		Callback:  c,
		MaxRetry:  5,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  10 * time.Second,
	}
	return c, nil
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// Connect opens the websocket, retrying with backoff for at most timeout.
func (c *ComfyClient) Connect(timeout time.Duration) error {
	return c.webSocket.Connect(timeout)
}

// Close shuts the websocket down. Queued items still waiting for messages
// are not notified.
func (c *ComfyClient) Close() error {
	return c.webSocket.Close()
}

func (c *ComfyClient) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

// OnMessage translates a websocket message into a PromptMessage for the
// queued item it belongs to. Messages for prompts queued by other clients
// are dropped.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		slog.Error("Deserializing status message", "error", err)
		return
	}
	if message.Data == nil {
		slog.Debug("Unhandled message type", "type", message.Type)
		return
	}

	c.mu.Lock()
	qi := c.queueditems[message.Data.promptID()]
	c.mu.Unlock()
	if qi == nil {
		return
	}

	var m PromptMessage
	stopped := false
	switch d := message.Data.(type) {
	case *WSMessageDataExecutionStart:
		m = PromptMessage{Type: "started", Message: &PromptMessageStarted{PromptID: d.PromptID}}
	case *WSMessageDataExecuting:
		if d.Node == nil {
			// final node was processed
			m = PromptMessage{Type: "stopped", Message: &PromptMessageStopped{QueueItem: qi}}
			stopped = true
		} else {
			m = PromptMessage{Type: "executing", Message: &PromptMessageExecuting{NodeID: *d.Node, Title: qi.nodeTitle(*d.Node)}}
		}
	case *WSMessageDataExecutionSuccess:
		m = PromptMessage{Type: "stopped", Message: &PromptMessageStopped{QueueItem: qi}}
		stopped = true
	case *WSMessageDataProgress:
		m = PromptMessage{Type: "progress", Message: &PromptMessageProgress{Value: d.Value, Max: d.Max}}
	case *WSMessageDataExecuted:
		m = PromptMessage{Type: "data", Message: &PromptMessageData{NodeID: d.Node, Images: d.Images()}}
	case *WSMessageExecutionInterrupted:
		m = PromptMessage{Type: "stopped", Message: &PromptMessageStopped{QueueItem: qi, Interrupted: true}}
		stopped = true
	case *WSMessageExecutionError:
		m = PromptMessage{Type: "stopped", Message: &PromptMessageStopped{
			QueueItem: qi,
			Exception: &PromptMessageStoppedException{
				NodeID:           d.Node,
				NodeType:         d.NodeType,
				ExceptionMessage: d.ExceptionMessage,
				ExceptionType:    d.ExceptionType,
				Traceback:        d.Traceback,
			},
		}}
		stopped = true
	default:
		return
	}

	if stopped {
		// remove the item before sending so no further messages reach it
		c.mu.Lock()
		delete(c.queueditems, qi.PromptID)
		c.mu.Unlock()
	}
	qi.Messages <- m
}
