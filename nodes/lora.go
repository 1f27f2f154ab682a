package nodes

import (
	"log/slog"
	"slices"

	"github.com/richinsley/sqnodes/provenance"
)

// LoraChain records that a LoRA was applied after the ones in chain. A LoRA
// with both strengths zero is not applied, so chain is returned as is. The
// result is never nil: a chain that ran counts as connected even when it
// applied nothing. The input slice is never modified.
func LoraChain(chain []provenance.LoraSpec, name string, modelStrength, clipStrength float64) []provenance.LoraSpec {
	if modelStrength == 0 && clipStrength == 0 {
		slog.Debug("skipping lora with zero strength", "name", name)
		if chain == nil {
			return []provenance.LoraSpec{}
		}
		return chain
	}
	out := slices.Clone(chain)
	if out == nil {
		out = []provenance.LoraSpec{}
	}
	return append(out, provenance.LoraSpec{Name: name, ModelStrength: modelStrength, ClipStrength: clipStrength})
}

// LoraApplyOrder lists the LoRAs of a stored record in the order they must be
// loaded to reproduce it, leaving out entries that have no effect.
func LoraApplyOrder(loras []provenance.LoraEntry) []provenance.LoraSpec {
	out := make([]provenance.LoraSpec, 0, len(loras))
	for _, l := range loras {
		if l.ModelStrength == 0 && l.ClipStrength == 0 {
			continue
		}
		out = append(out, l.Spec())
	}
	return out
}
