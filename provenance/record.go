// Package provenance defines the generation record stored alongside an image
// and assembles it either from fresh generation parameters or from a record
// read back from an earlier image.
package provenance

import "slices"

// ArtifactRef identifies a model file and its short content hash. Hash is
// empty only for the built-in VAE.
type ArtifactRef struct {
	Name string `json:"name" yaml:"name"`
	Hash string `json:"sha" yaml:"sha"`
}

// LoraSpec is a LoRA as applied by a loader node, before hashing.
type LoraSpec struct {
	Name          string  `json:"name" yaml:"name"`
	ModelStrength float64 `json:"model_strength" yaml:"model_strength"`
	ClipStrength  float64 `json:"clip_strength" yaml:"clip_strength"`
}

// LoraEntry is a hashed LoRA in application order.
type LoraEntry struct {
	Name          string  `json:"name" yaml:"name"`
	ModelStrength float64 `json:"model_strength" yaml:"model_strength"`
	ClipStrength  float64 `json:"clip_strength" yaml:"clip_strength"`
	Hash          string  `json:"sha" yaml:"sha"`
}

// Spec drops the hash.
func (l LoraEntry) Spec() LoraSpec {
	return LoraSpec{Name: l.Name, ModelStrength: l.ModelStrength, ClipStrength: l.ClipStrength}
}

// Record is everything needed to reproduce a generated image. Positive and
// Negative are independent prompt chains and need not have equal length.
type Record struct {
	Model     ArtifactRef `json:"model" yaml:"model"`
	VAE       ArtifactRef `json:"vae" yaml:"vae"`
	Loras     []LoraEntry `json:"loras" yaml:"loras"`
	Seed      int64       `json:"seed" yaml:"seed"`
	Steps     int         `json:"steps" yaml:"steps"`
	CFG       float64     `json:"cfg" yaml:"cfg"`
	Sampler   string      `json:"sampler" yaml:"sampler"`
	Scheduler string      `json:"scheduler" yaml:"scheduler"`
	Width     int         `json:"width" yaml:"width"`
	Height    int         `json:"height" yaml:"height"`
	Positive  []string    `json:"positive" yaml:"positive"`
	Negative  []string    `json:"negative" yaml:"negative"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Loras = slices.Clone(r.Loras)
	c.Positive = slices.Clone(r.Positive)
	c.Negative = slices.Clone(r.Negative)
	return &c
}

// GeneratorParams is the forward output of the parameter generator node.
type GeneratorParams struct {
	ModelName string `json:"model_name" yaml:"model_name"`
	VAEName   string `json:"vae_name" yaml:"vae_name"`
	Sampler   string `json:"sampler" yaml:"sampler"`
	Scheduler string `json:"scheduler" yaml:"scheduler"`
}
