package metacodec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/richinsley/sqnodes/provenance"
)

// ToolVersion identifies the writer in the settings line.
const ToolVersion = "SQNodes"

// Denylist holds terms removed from positive prompts before they are written
// to the compatibility text. Longer terms come first so that a shorter term
// never leaves the tail of a longer one behind.
var Denylist = []string{
	"children",
	"underage",
	"teenager",
	"child",
	"shota",
	"loli",
	"teen",
	"kids",
	"kid",
}

// StripDenylist removes every denylisted term from s. Matching is case
// sensitive and the surrounding whitespace is left as is.
func StripDenylist(s string) string {
	for _, term := range Denylist {
		s = strings.ReplaceAll(s, term, "")
	}
	return s
}

// CompatText renders the three line parameters block understood by
// A1111-style catalog tools. The machine blob is the lossless copy; this text
// is filtered and only meant for display.
func CompatText(r *provenance.Record) string {
	positive := make([]string, len(r.Positive))
	for i, p := range r.Positive {
		positive[i] = StripDenylist(p)
	}

	settings := []string{
		fmt.Sprintf("Steps: %d", r.Steps),
		fmt.Sprintf("Sampler: %s_%s", r.Sampler, r.Scheduler),
		"CFG scale: " + formatFloat(r.CFG),
		fmt.Sprintf("Seed: %d", r.Seed),
		fmt.Sprintf("Size: %dx%d", r.Width, r.Height),
		"Model hash: " + r.Model.Hash,
		"Model: " + r.Model.Name,
		`Lora hashes: "` + loraHashes(r.Loras) + `"`,
		`TI hashes: ""`,
		"Version: " + ToolVersion,
		"Hashes: " + hashesJSON(r),
	}

	return strings.Join([]string{
		strings.Join(positive, ", "),
		"Negative prompt: " + strings.Join(r.Negative, ", "),
		strings.Join(settings, ", "),
	}, "\n")
}

func loraHashes(loras []provenance.LoraEntry) string {
	parts := make([]string, len(loras))
	for i, l := range loras {
		parts[i] = l.Name + ": " + l.Hash
	}
	return strings.Join(parts, ", ")
}

// hashesJSON writes the hash map with its keys in a fixed order: the model,
// each LoRA in application order, then the VAE when it was hashed.
func hashesJSON(r *provenance.Record) string {
	type kv struct{ k, v string }
	entries := []kv{{"model", r.Model.Hash}}
	for _, l := range r.Loras {
		entries = append(entries, kv{"lora:" + l.Name, l.Hash})
	}
	if r.VAE.Name != "" && r.VAE.Hash != "" {
		entries = append(entries, kv{r.VAE.Name, r.VAE.Hash})
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(e.k))
		b.WriteString(": ")
		b.WriteString(quote(e.v))
	}
	b.WriteByte('}')
	return b.String()
}

func quote(s string) string {
	q, _ := json.Marshal(s)
	return string(q)
}

// formatFloat prints whole numbers with a trailing ".0" (7 -> "7.0").
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}
