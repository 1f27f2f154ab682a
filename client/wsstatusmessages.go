package client

import (
	"encoding/json"
	"log/slog"
)

// wsData is implemented by every websocket payload tied to a prompt.
type wsData interface {
	promptID() string
}

type WSStatusMessage struct {
	Type string
	Data wsData
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	sm.Type = temp.Type
	switch sm.Type {
	case "execution_start":
		sm.Data = &WSMessageDataExecutionStart{}
	case "executing":
		sm.Data = &WSMessageDataExecuting{}
	case "progress":
		sm.Data = &WSMessageDataProgress{}
	case "executed":
		sm.Data = &WSMessageDataExecuted{}
	case "execution_success":
		sm.Data = &WSMessageDataExecutionSuccess{}
	case "execution_interrupted":
		sm.Data = &WSMessageExecutionInterrupted{}
	case "execution_error":
		sm.Data = &WSMessageExecutionError{}
	default:
		// status, execution_cached, monitor extensions and the like
		sm.Data = nil
		return nil
	}
	return json.Unmarshal(temp.Data, sm.Data)
}

/*
{"type": "execution_start", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
type WSMessageDataExecutionStart struct {
	PromptID string `json:"prompt_id"`
}

func (d *WSMessageDataExecutionStart) promptID() string { return d.PromptID }

/*
{"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
type WSMessageDataExecuting struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

func (d *WSMessageDataExecuting) promptID() string { return d.PromptID }

/*
{"type": "progress", "data": {"value": 1, "max": 20, "prompt_id": "...", "node": "3"}}
*/
type WSMessageDataProgress struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}

func (d *WSMessageDataProgress) promptID() string { return d.PromptID }

/*
{"type": "executed", "data": {"node": "19", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
type WSMessageDataExecuted struct {
	Node     string                     `json:"node"`
	Output   map[string]json.RawMessage `json:"output"`
	PromptID string                     `json:"prompt_id"`
}

func (d *WSMessageDataExecuted) promptID() string { return d.PromptID }

// Images returns the file outputs of the node. Text and other outputs are
// skipped.
func (d *WSMessageDataExecuted) Images() []DataOutput {
	var out []DataOutput
	for _, key := range []string{"images", "gifs"} {
		raw, ok := d.Output[key]
		if !ok {
			continue
		}
		var files []DataOutput
		if err := json.Unmarshal(raw, &files); err != nil {
			slog.Warn("WSMessageDataExecuted output entry of unknown type", "node", d.Node, "key", key)
			continue
		}
		for _, f := range files {
			if f.Filename != "" {
				out = append(out, f)
			}
		}
	}
	return out
}

type WSMessageDataExecutionSuccess struct {
	PromptID string `json:"prompt_id"`
}

func (d *WSMessageDataExecutionSuccess) promptID() string { return d.PromptID }

/*
{"type": "execution_interrupted", "data": {"prompt_id": "dc7093d7-980a-4fe6-bf0c-f6fef932c74b", "node_id": "19", "node_type": "SaveImage", "executed": ["5", "17", "10", "11"]}}
*/
type WSMessageExecutionInterrupted struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}

func (d *WSMessageExecutionInterrupted) promptID() string { return d.PromptID }

type WSMessageExecutionError struct {
	PromptID         string   `json:"prompt_id"`
	Node             string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	Executed         []string `json:"executed"`
	ExceptionMessage string   `json:"exception_message"`
	ExceptionType    string   `json:"exception_type"`
	Traceback        []string `json:"traceback"`
}

func (d *WSMessageExecutionError) promptID() string { return d.PromptID }
