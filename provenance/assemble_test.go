package provenance

import (
	"errors"
	"testing"

	"github.com/richinsley/sqnodes/artifacts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshParams() FreshParams {
	return FreshParams{
		Generator: &GeneratorParams{
			ModelName: "sdxl.safetensors",
			VAEName:   "vae.safetensors",
			Sampler:   "euler",
			Scheduler: "karras",
		},
		Loras: []LoraSpec{
			{Name: "b.safetensors", ModelStrength: 0.8, ClipStrength: 1},
			{Name: "a.safetensors", ModelStrength: 1, ClipStrength: 0.5},
		},
		Seed:     Ptr(int64(42)),
		Steps:    Ptr(30),
		CFG:      Ptr(6.5),
		Width:    Ptr(832),
		Height:   Ptr(1216),
		Positive: []string{"a cat", "studio light"},
		Negative: []string{"blurry"},
	}
}

func newHasher() *fakeHasher {
	return &fakeHasher{hashes: map[string]string{
		"sdxl.safetensors": "1111111111",
		"vae.safetensors":  "2222222222",
		"a.safetensors":    "aaaaaaaaaa",
		"b.safetensors":    "bbbbbbbbbb",
	}}
}

func TestFromParams(t *testing.T) {
	h := newHasher()
	r, err := FromParams(h, freshParams())
	require.NoError(t, err)

	assert.Equal(t, ArtifactRef{Name: "sdxl.safetensors", Hash: "1111111111"}, r.Model)
	assert.Equal(t, ArtifactRef{Name: "vae.safetensors", Hash: "2222222222"}, r.VAE)
	assert.Equal(t, []LoraEntry{
		{Name: "b.safetensors", ModelStrength: 0.8, ClipStrength: 1, Hash: "bbbbbbbbbb"},
		{Name: "a.safetensors", ModelStrength: 1, ClipStrength: 0.5, Hash: "aaaaaaaaaa"},
	}, r.Loras)
	assert.EqualValues(t, 42, r.Seed)
	assert.Equal(t, 30, r.Steps)
	assert.Equal(t, 6.5, r.CFG)
	assert.Equal(t, "euler", r.Sampler)
	assert.Equal(t, "karras", r.Scheduler)
	assert.Equal(t, 832, r.Width)
	assert.Equal(t, 1216, r.Height)
	assert.Equal(t, []string{"a cat", "studio light"}, r.Positive)
	assert.Equal(t, []string{"blurry"}, r.Negative)
	assert.Equal(t, []string{
		"model:sdxl.safetensors", "vae:vae.safetensors", "lora:b.safetensors", "lora:a.safetensors",
	}, h.calls)
}

func TestFromParamsBuiltinVAEHasNoHash(t *testing.T) {
	p := freshParams()
	p.Generator.VAEName = artifacts.BuiltinVAE
	h := newHasher()

	r, err := FromParams(h, p)
	require.NoError(t, err)
	assert.Equal(t, ArtifactRef{Name: artifacts.BuiltinVAE}, r.VAE)
	assert.NotContains(t, h.calls, "vae:"+artifacts.BuiltinVAE)
}

func TestFromParamsTAESDHasNoHash(t *testing.T) {
	p := freshParams()
	p.Generator.VAEName = "taesdxl"
	h := newHasher()

	r, err := FromParams(h, p)
	require.NoError(t, err)
	assert.Equal(t, ArtifactRef{Name: "taesdxl"}, r.VAE)
	assert.NotContains(t, h.calls, "vae:taesdxl")
}

func TestFromParamsMissingField(t *testing.T) {
	tests := []struct {
		field string
		stage string
		drop  func(*FreshParams)
	}{
		{"generator", StageGenerator, func(p *FreshParams) { p.Generator = nil }},
		{"loras", StageLoras, func(p *FreshParams) { p.Loras = nil }},
		{"seed", StageSampler, func(p *FreshParams) { p.Seed = nil }},
		{"steps", StageSampler, func(p *FreshParams) { p.Steps = nil }},
		{"cfg", StageSampler, func(p *FreshParams) { p.CFG = nil }},
		{"width", StageLatent, func(p *FreshParams) { p.Width = nil }},
		{"height", StageLatent, func(p *FreshParams) { p.Height = nil }},
		{"positive", StagePrompts, func(p *FreshParams) { p.Positive = nil }},
		{"negative", StagePrompts, func(p *FreshParams) { p.Negative = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			p := freshParams()
			tt.drop(&p)
			h := newHasher()

			r, err := FromParams(h, p)
			assert.Nil(t, r)
			assert.True(t, errors.Is(err, ErrMissingField))
			var mf *MissingFieldError
			require.True(t, errors.As(err, &mf))
			assert.Equal(t, tt.field, mf.Field)
			assert.Equal(t, tt.stage, mf.Stage)
			assert.Contains(t, err.Error(), tt.stage)
			assert.Empty(t, h.calls, "nothing is hashed for incomplete inputs")
		})
	}
}

func TestFromParamsEmptyListsArePresent(t *testing.T) {
	p := freshParams()
	p.Loras = []LoraSpec{}
	p.Negative = []string{}
	r, err := FromParams(newHasher(), p)
	require.NoError(t, err)
	assert.NotNil(t, r.Loras)
	assert.Empty(t, r.Loras)
	assert.NotNil(t, r.Negative)
}

func TestFromParamsNotFound(t *testing.T) {
	p := freshParams()
	p.Loras = append(p.Loras, LoraSpec{Name: "gone.safetensors"})
	_, err := FromParams(newHasher(), p)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestWithOverridesOnlyTouchesSettings(t *testing.T) {
	prior, err := FromParams(newHasher(), freshParams())
	require.NoError(t, err)
	snapshot := prior.Clone()

	r := WithOverrides(prior, Overrides{Seed: Ptr(int64(7))})
	assert.EqualValues(t, 7, r.Seed)
	assert.Equal(t, prior.Loras, r.Loras)
	assert.Equal(t, prior.Steps, r.Steps)
	assert.Equal(t, prior.CFG, r.CFG)

	expected := snapshot.Clone()
	expected.Seed = 7
	assert.Equal(t, expected, r)
	assert.Equal(t, snapshot, prior, "prior record is not modified")

	r.Loras[0].Name = "changed"
	assert.Equal(t, "b.safetensors", prior.Loras[0].Name)

	all := WithOverrides(prior, Overrides{Seed: Ptr(int64(1)), Steps: Ptr(8), CFG: Ptr(1.5)})
	assert.EqualValues(t, 1, all.Seed)
	assert.Equal(t, 8, all.Steps)
	assert.Equal(t, 1.5, all.CFG)
}

func TestAssembleDispatch(t *testing.T) {
	h := newHasher()
	prior, err := Assemble(h, nil, freshParams(), Overrides{})
	require.NoError(t, err)
	calls := len(h.calls)

	// with a prior record fresh params are not needed and nothing is hashed
	r, err := Assemble(h, prior, FreshParams{}, Overrides{Steps: Ptr(12)})
	require.NoError(t, err)
	assert.Equal(t, 12, r.Steps)
	assert.Equal(t, prior.Positive, r.Positive)
	assert.Len(t, h.calls, calls)
}

func TestLoraEntrySpec(t *testing.T) {
	e := LoraEntry{Name: "x", ModelStrength: 0.3, ClipStrength: 0.4, Hash: "h"}
	assert.Equal(t, LoraSpec{Name: "x", ModelStrength: 0.3, ClipStrength: 0.4}, e.Spec())
}
