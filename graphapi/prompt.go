package graphapi

import (
	"encoding/json"
	"sort"
)

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string                `json:"client_id"`
	Nodes     map[string]PromptNode `json:"prompt"`
	ExtraData PromptExtraData       `json:"extra_data"`
}

type PromptNode struct {
	// Inputs can be one of:
	//	float64
	//	string
	//	bool
	//	[]interface{} where: [0] is string of target node
	//					     [1] is float64 (int) of slot index
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
}

// PromptExtraData carries the extra PNG info (normally the UI workflow) that
// ComfyUI writes next to the prompt in saved images.
type PromptExtraData struct {
	PngInfo map[string]json.RawMessage `json:"extra_pnginfo,omitempty"`
}

// IsLink reports whether an input value is a [node id, slot] connection
// rather than a literal widget value.
func IsLink(v interface{}) bool {
	l, ok := v.([]interface{})
	if !ok || len(l) != 2 {
		return false
	}
	_, isNode := l[0].(string)
	_, isSlot := l[1].(float64)
	return isNode && isSlot
}

// NodeIDs returns the prompt's node ids in a stable order.
func (p *Prompt) NodeIDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
