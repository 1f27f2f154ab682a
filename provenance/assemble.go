package provenance

import (
	"fmt"
	"slices"

	"github.com/richinsley/sqnodes/artifacts"
)

// Hasher returns the short content hash of an artifact.
// *hashcache.Cache satisfies it.
type Hasher interface {
	Hash(name string, kind artifacts.Kind) (string, error)
}

// FreshParams carries the outputs of the upstream nodes. A nil field means
// the stage was not connected. Pass an empty, non-nil Loras for "no LoRAs".
type FreshParams struct {
	Generator *GeneratorParams
	Loras     []LoraSpec
	Seed      *int64
	Steps     *int
	CFG       *float64
	Width     *int
	Height    *int
	Positive  []string
	Negative  []string
}

// Overrides replace settings of a prior record. Nil fields keep the prior value.
type Overrides struct {
	Seed  *int64
	Steps *int
	CFG   *float64
}

// Assemble builds the record for one write: from prior with overrides when a
// prior record is given, otherwise from fresh.
func Assemble(h Hasher, prior *Record, fresh FreshParams, ov Overrides) (*Record, error) {
	if prior != nil {
		return WithOverrides(prior, ov), nil
	}
	return FromParams(h, fresh)
}

// FromParams requires every field of p and hashes the referenced artifacts.
// Nothing is hashed unless all fields are present.
func FromParams(h Hasher, p FreshParams) (*Record, error) {
	if err := p.check(); err != nil {
		return nil, err
	}

	g := p.Generator
	r := &Record{
		Model:     ArtifactRef{Name: g.ModelName},
		VAE:       ArtifactRef{Name: g.VAEName},
		Loras:     make([]LoraEntry, 0, len(p.Loras)),
		Seed:      *p.Seed,
		Steps:     *p.Steps,
		CFG:       *p.CFG,
		Sampler:   g.Sampler,
		Scheduler: g.Scheduler,
		Width:     *p.Width,
		Height:    *p.Height,
		Positive:  slices.Clone(p.Positive),
		Negative:  slices.Clone(p.Negative),
	}

	var err error
	if r.Model.Hash, err = h.Hash(g.ModelName, artifacts.KindModel); err != nil {
		return nil, err
	}
	// the built-in VAE and the TAESD approximations have no file of kind vae
	if g.VAEName != artifacts.BuiltinVAE && !artifacts.IsTAESD(g.VAEName) {
		if r.VAE.Hash, err = h.Hash(g.VAEName, artifacts.KindVAE); err != nil {
			return nil, err
		}
	}
	for _, l := range p.Loras {
		sha, err := h.Hash(l.Name, artifacts.KindLora)
		if err != nil {
			return nil, err
		}
		r.Loras = append(r.Loras, LoraEntry{
			Name:          l.Name,
			ModelStrength: l.ModelStrength,
			ClipStrength:  l.ClipStrength,
			Hash:          sha,
		})
	}
	return r, nil
}

func (p *FreshParams) check() error {
	missing := func(stage, field string) error {
		return &MissingFieldError{Stage: stage, Field: field}
	}
	switch {
	case p.Generator == nil:
		return missing(StageGenerator, "generator")
	case p.Loras == nil:
		return missing(StageLoras, "loras")
	case p.Seed == nil:
		return missing(StageSampler, "seed")
	case p.Steps == nil:
		return missing(StageSampler, "steps")
	case p.CFG == nil:
		return missing(StageSampler, "cfg")
	case p.Width == nil:
		return missing(StageLatent, "width")
	case p.Height == nil:
		return missing(StageLatent, "height")
	case p.Positive == nil:
		return missing(StagePrompts, "positive")
	case p.Negative == nil:
		return missing(StagePrompts, "negative")
	}
	return nil
}

// WithOverrides copies prior and applies the non-nil overrides. No other
// field changes.
func WithOverrides(prior *Record, ov Overrides) *Record {
	r := prior.Clone()
	if ov.Seed != nil {
		r.Seed = *ov.Seed
	}
	if ov.Steps != nil {
		r.Steps = *ov.Steps
	}
	if ov.CFG != nil {
		r.CFG = *ov.CFG
	}
	return r
}

// Ptr returns a pointer to v, for filling FreshParams and Overrides.
func Ptr[T any](v T) *T {
	return &v
}

// String renders the record for logs.
func (r *Record) String() string {
	return fmt.Sprintf("%s seed=%d steps=%d cfg=%g %s/%s %dx%d loras=%d",
		r.Model.Name, r.Seed, r.Steps, r.CFG, r.Sampler, r.Scheduler, r.Width, r.Height, len(r.Loras))
}
