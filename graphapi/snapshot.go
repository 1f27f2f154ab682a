package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/richinsley/sqnodes/provenance"
)

var ErrNoPrompt = errors.New("snapshot has no prompt graph")

// Snapshot is the host workflow state stored next to a generated image: the
// API format prompt graph and the extra PNG info entries. Values are kept as
// raw JSON and passed through untouched.
type Snapshot struct {
	Prompt       json.RawMessage
	ExtraPngInfo map[string]json.RawMessage
}

// IsEmpty reports whether there is nothing to embed.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (len(s.Prompt) == 0 && len(s.ExtraPngInfo) == 0)
}

// ExtraKeys returns the extra PNG info keys sorted, which fixes their
// position when packed into numbered slots.
func (s *Snapshot) ExtraKeys() []string {
	keys := make([]string, 0, len(s.ExtraPngInfo))
	for k := range s.ExtraPngInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Nodes decodes the prompt graph.
func (s *Snapshot) Nodes() (map[string]PromptNode, error) {
	if s == nil || len(s.Prompt) == 0 {
		return nil, ErrNoPrompt
	}
	var nodes map[string]PromptNode
	if err := json.Unmarshal(s.Prompt, &nodes); err != nil {
		return nil, fmt.Errorf("decoding prompt graph: %w", err)
	}
	return nodes, nil
}

// ToPrompt builds a queueable prompt from the snapshot with the sampler
// overrides applied.
func (s *Snapshot) ToPrompt(clientID string, ov provenance.Overrides) (*Prompt, error) {
	nodes, err := s.Nodes()
	if err != nil {
		return nil, err
	}
	n := PatchSettings(nodes, ov)
	slog.Debug("patched prompt settings", "inputs", n)
	return &Prompt{
		ClientID:  clientID,
		Nodes:     nodes,
		ExtraData: PromptExtraData{PngInfo: s.ExtraPngInfo},
	}, nil
}

// PatchSettings overwrites literal seed, steps and cfg inputs on every node
// and returns how many inputs were changed. Linked inputs are left alone since
// their value comes from another node.
func PatchSettings(nodes map[string]PromptNode, ov provenance.Overrides) int {
	patched := 0
	set := func(node PromptNode, input string, v interface{}) {
		cur, ok := node.Inputs[input]
		if !ok || IsLink(cur) {
			return
		}
		node.Inputs[input] = v
		patched++
	}
	for _, node := range nodes {
		if node.Inputs == nil {
			continue
		}
		if ov.Seed != nil {
			set(node, "seed", *ov.Seed)
			set(node, "noise_seed", *ov.Seed)
		}
		if ov.Steps != nil {
			set(node, "steps", *ov.Steps)
		}
		if ov.CFG != nil {
			set(node, "cfg", *ov.CFG)
		}
	}
	return patched
}
