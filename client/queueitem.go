package client

import "github.com/richinsley/sqnodes/graphapi"

type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Messages   chan PromptMessage     `json:"-"`
	Prompt     *graphapi.Prompt       `json:"-"`

	// connDone is closed when the websocket delivering Messages goes away.
	connDone <-chan struct{}
}

// nodeTitle returns the class type of a node, falling back to its id. Ids
// like "57:8" belong to subgraph instances and are looked up as given.
func (qi *QueueItem) nodeTitle(id string) string {
	if qi.Prompt != nil {
		if n, ok := qi.Prompt.Nodes[id]; ok && n.ClassType != "" {
			return n.ClassType
		}
	}
	return id
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError            `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}
