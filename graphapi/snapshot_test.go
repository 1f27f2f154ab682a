package graphapi

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/richinsley/sqnodes/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiPrompt = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 156680208700286, "steps": 20, "cfg": 8, "sampler_name": "euler", "model": ["4", 0]}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "v1-5-pruned.safetensors"}},
  "9": {"class_type": "KSamplerAdvanced", "inputs": {"noise_seed": ["12", 0], "steps": 30, "cfg": 6.5}},
  "12": {"class_type": "PrimitiveNode", "inputs": {}}
}`

func TestSnapshotNodes(t *testing.T) {
	s := &Snapshot{Prompt: json.RawMessage(apiPrompt)}
	nodes, err := s.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.Equal(t, "KSampler", nodes["3"].ClassType)
	assert.True(t, IsLink(nodes["3"].Inputs["model"]))
	assert.False(t, IsLink(nodes["3"].Inputs["seed"]))
}

func TestPatchSettings(t *testing.T) {
	s := &Snapshot{Prompt: json.RawMessage(apiPrompt)}
	nodes, err := s.Nodes()
	require.NoError(t, err)

	n := PatchSettings(nodes, provenance.Overrides{Seed: provenance.Ptr[int64](42), Steps: provenance.Ptr(12)})
	// seed on 3, steps on 3 and 9; the linked noise_seed on 9 is untouched
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(42), nodes["3"].Inputs["seed"])
	assert.Equal(t, 12, nodes["3"].Inputs["steps"])
	assert.Equal(t, 12, nodes["9"].Inputs["steps"])
	assert.True(t, IsLink(nodes["9"].Inputs["noise_seed"]))
	assert.Equal(t, float64(8), nodes["3"].Inputs["cfg"])
	assert.Equal(t, 6.5, nodes["9"].Inputs["cfg"])
}

func TestToPrompt(t *testing.T) {
	s := &Snapshot{
		Prompt:       json.RawMessage(apiPrompt),
		ExtraPngInfo: map[string]json.RawMessage{"workflow": json.RawMessage(`{"nodes":[]}`)},
	}
	p, err := s.ToPrompt("client-1", provenance.Overrides{CFG: provenance.Ptr(4.5)})
	require.NoError(t, err)
	assert.Equal(t, "client-1", p.ClientID)
	assert.Equal(t, 4.5, p.Nodes["9"].Inputs["cfg"])
	assert.Equal(t, []string{"12", "3", "4", "9"}, p.NodeIDs())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	extra := decoded["extra_data"].(map[string]interface{})["extra_pnginfo"].(map[string]interface{})
	assert.Contains(t, extra, "workflow")
}

func TestSnapshotWithoutPrompt(t *testing.T) {
	var s *Snapshot
	assert.True(t, s.IsEmpty())
	_, err := s.Nodes()
	assert.True(t, errors.Is(err, ErrNoPrompt))

	s = &Snapshot{ExtraPngInfo: map[string]json.RawMessage{"b": nil, "a": nil}}
	assert.False(t, s.IsEmpty())
	assert.Equal(t, []string{"a", "b"}, s.ExtraKeys())

	_, err = (&Snapshot{Prompt: json.RawMessage(`[1,2]`)}).Nodes()
	assert.Error(t, err)
}
