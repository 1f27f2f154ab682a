package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/richinsley/sqnodes/graphapi"
)

// QueuePrompt posts prompt to /prompt and registers the returned item so
// websocket messages for it are delivered to its Messages channel.
func (c *ComfyClient) QueuePrompt(prompt *graphapi.Prompt) (*QueueItem, error) {
	prompt.ClientID = c.clientid
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, err
	}

	// prevent a race where the ws may provide messages about a queued item before
	// we add the item to our internal map
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.httpclient.Post(c.endpoint("/prompt", nil), "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	item := &QueueItem{
		Prompt:   prompt,
		Messages: make(chan PromptMessage, 64),
		connDone: c.webSocket.Done(),
	}
	if resp.StatusCode != http.StatusOK {
		// {"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", ...}, "node_errors": {}}
		perror := &PromptErrorMessage{}
		if err := json.Unmarshal(body, perror); err != nil || perror.Error.Message == "" {
			slog.Error("error unmarshalling prompt error", "body", string(body))
			return nil, fmt.Errorf("queueing prompt: %s", resp.Status)
		}
		return nil, errors.New(perror.Error.Message)
	}
	if err := json.Unmarshal(body, item); err != nil {
		return nil, fmt.Errorf("decoding queue response: %w", err)
	}
	if item.PromptID == "" {
		return nil, errors.New("server did not return a prompt id")
	}
	c.queueditems[item.PromptID] = item
	return item, nil
}

// GetImage downloads an output file through /view.
func (c *ComfyClient) GetImage(out DataOutput) ([]byte, error) {
	q := url.Values{
		"filename":  {out.Filename},
		"subfolder": {out.Subfolder},
		"type":      {out.Type},
	}
	resp, err := c.httpclient.Get(c.endpoint("/view", q))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %s", out.Filename, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Interrupt stops the prompt that is currently executing on the server.
func (c *ComfyClient) Interrupt() error {
	resp, err := c.httpclient.Post(c.endpoint("/interrupt", nil), "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}
