package nodes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinsley/sqnodes/artifacts"
	"github.com/richinsley/sqnodes/exif"
	"github.com/richinsley/sqnodes/graphapi"
	"github.com/richinsley/sqnodes/hashcache"
	"github.com/richinsley/sqnodes/metacodec"
	"github.com/richinsley/sqnodes/provenance"
	"github.com/richinsley/sqnodes/webpmeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *artifacts.FolderStore
	writer *ImageWriter
	cache  *hashcache.Cache
	out    string
	hashes map[string]string
}

func shortHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:hashcache.HashLength]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"checkpoints/sdxl.safetensors": "checkpoint weights",
		"vae/sdxl_vae.safetensors":     "vae weights",
		"loras/detail.safetensors":     "detail lora",
		"loras/style/ink.safetensors":  "ink lora",
		"vae_approx/taesd_encoder.pth": "taesd encoder",
		"vae_approx/taesd_decoder.pth": "taesd decoder",
	}
	hashes := map[string]string{}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		hashes[rel] = shortHash(content)
	}

	store := artifacts.NewFolderStore()
	store.AddDir(artifacts.KindModel, filepath.Join(root, "checkpoints"))
	store.AddDir(artifacts.KindVAE, filepath.Join(root, "vae"))
	store.AddDir(artifacts.KindLora, filepath.Join(root, "loras"))
	store.AddDir(artifacts.KindVAEApprox, filepath.Join(root, "vae_approx"))
	cache := hashcache.New(store)

	out := filepath.Join(root, "output")
	return &fixture{
		store: store,
		writer: &ImageWriter{
			Hasher:    cache,
			OutputDir: out,
			Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) },
		},
		cache:  cache,
		out:    out,
		hashes: hashes,
	}
}

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{uint8(x * 40), uint8(y * 40), 7, 255})
		}
	}
	return img
}

func fresh() provenance.FreshParams {
	gen := ParameterGenerator("sdxl.safetensors", "sdxl_vae.safetensors", "euler_ancestral", "normal")
	var loras []provenance.LoraSpec
	loras = LoraChain(loras, "detail.safetensors", 0.7, 1)
	loras = LoraChain(loras, "unused.safetensors", 0, 0)
	loras = LoraChain(loras, "style/ink.safetensors", 1, 0.4)
	return provenance.FreshParams{
		Generator: &gen,
		Loras:     loras,
		Seed:      provenance.Ptr[int64](987654321),
		Steps:     provenance.Ptr(25),
		CFG:       provenance.Ptr(5.5),
		Width:     provenance.Ptr(64),
		Height:    provenance.Ptr(48),
		Positive:  []string{"a lighthouse", "stormy sea"},
		Negative:  []string{"text, watermark"},
	}
}

func snapshot() *graphapi.Snapshot {
	return &graphapi.Snapshot{
		Prompt:       json.RawMessage(`{"1":{"class_type":"SQImageWriter","inputs":{}}}`),
		ExtraPngInfo: map[string]json.RawMessage{"workflow": json.RawMessage(`{"nodes":[]}`)},
	}
}

func TestWriteFreshAndRead(t *testing.T) {
	for _, ext := range []string{"png", "webp"} {
		t.Run(ext, func(t *testing.T) {
			f := newFixture(t)
			name, err := f.writer.Write(WriteRequest{
				Image:     testImage(4, 3),
				Directory: "batch/a",
				Filename:  "img_${3}_$timestamp." + ext,
				Fresh:     fresh(),
				Snapshot:  snapshot(),
			})
			require.NoError(t, err)
			assert.Equal(t, "img_000_20240501-123000."+ext, name)

			res, err := ImageReader{}.Read(filepath.Join(f.out, "batch", "a", name))
			require.NoError(t, err)

			assert.Equal(t, "sdxl.safetensors", res.ModelName)
			assert.Equal(t, "sdxl_vae.safetensors", res.VAEName)
			assert.Equal(t, []provenance.LoraEntry{
				{Name: "detail.safetensors", ModelStrength: 0.7, ClipStrength: 1, Hash: f.hashes["loras/detail.safetensors"]},
				{Name: "style/ink.safetensors", ModelStrength: 1, ClipStrength: 0.4, Hash: f.hashes["loras/style/ink.safetensors"]},
			}, res.Loras)
			assert.Equal(t, f.hashes["checkpoints/sdxl.safetensors"], res.Record.Model.Hash)
			assert.Equal(t, f.hashes["vae/sdxl_vae.safetensors"], res.Record.VAE.Hash)
			assert.EqualValues(t, 987654321, res.Seed)
			assert.Equal(t, 25, res.Steps)
			assert.Equal(t, 5.5, res.CFG)
			assert.Equal(t, "euler_ancestral", res.Sampler)
			assert.Equal(t, "normal", res.Scheduler)
			assert.Equal(t, 64, res.Width)
			assert.Equal(t, 48, res.Height)
			assert.Equal(t, []string{"a lighthouse", "stormy sea"}, res.Positive)
			assert.Equal(t, []string{"text, watermark"}, res.Negative)
			assert.Equal(t, name, res.Filename)
			assert.Equal(t, image.Rect(0, 0, 4, 3), res.Image.Bounds())
			assert.Contains(t, res.Parameters, "Sampler: euler_ancestral_normal")
			require.NotNil(t, res.Snapshot)
			assert.Contains(t, res.Snapshot.ExtraPngInfo, "workflow")
			assert.Equal(t, 4, f.cache.Len())
		})
	}
}

func TestWriteWithListedVAEs(t *testing.T) {
	f := newFixture(t)
	vaes, err := f.store.ListVAEs()
	require.NoError(t, err)
	assert.Equal(t, []string{artifacts.BuiltinVAE, "sdxl_vae.safetensors", "taesd"}, vaes)

	for i, vae := range vaes {
		p := fresh()
		p.Generator.VAEName = vae
		name, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "vae_${1}.png", Fresh: p})
		require.NoError(t, err, vae)

		res, err := ImageReader{}.Read(filepath.Join(f.out, name))
		require.NoError(t, err)
		assert.Equal(t, vae, res.VAEName)
		if vae == "sdxl_vae.safetensors" {
			assert.Equal(t, f.hashes["vae/sdxl_vae.safetensors"], res.Record.VAE.Hash)
		} else {
			assert.Empty(t, res.Record.VAE.Hash, i)
			assert.NotContains(t, res.Parameters, `"`+vae+`":`)
		}
	}
}

func TestWriteCountsExistingFiles(t *testing.T) {
	f := newFixture(t)
	for i, want := range []string{"img_00.png", "img_01.png", "img_02.png"} {
		name, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "img_${2}.png", Fresh: fresh()})
		require.NoError(t, err, i)
		assert.Equal(t, want, name)
	}
}

func TestWriteMissingFieldWritesNothing(t *testing.T) {
	f := newFixture(t)
	p := fresh()
	p.Steps = nil

	_, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "x.png", Fresh: p})
	require.Error(t, err)
	assert.True(t, errors.Is(err, provenance.ErrMissingField))
	var mf *provenance.MissingFieldError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, "steps", mf.Field)

	_, statErr := os.Stat(f.out)
	assert.True(t, os.IsNotExist(statErr))
	assert.Zero(t, f.cache.Len())
}

func TestWriteUnknownArtifact(t *testing.T) {
	f := newFixture(t)
	p := fresh()
	p.Loras = LoraChain(p.Loras, "gone.safetensors", 1, 1)

	_, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "x.png", Fresh: p})
	assert.True(t, errors.Is(err, provenance.ErrNotFound))
}

func TestWriteFromPriorWithOverrides(t *testing.T) {
	f := newFixture(t)
	first, err := f.writer.Write(WriteRequest{Image: testImage(3, 3), Filename: "first.png", Fresh: fresh()})
	require.NoError(t, err)
	prior, err := ImageReader{}.Read(filepath.Join(f.out, first))
	require.NoError(t, err)

	second, err := f.writer.Write(WriteRequest{
		Image:     testImage(3, 3),
		Filename:  "second.webp",
		Prior:     prior.Record,
		Overrides: provenance.Overrides{Seed: provenance.Ptr[int64](1)},
	})
	require.NoError(t, err)
	res, err := ImageReader{}.Read(filepath.Join(f.out, second))
	require.NoError(t, err)

	assert.EqualValues(t, 1, res.Seed)
	assert.Equal(t, prior.Loras, res.Loras)
	assert.Equal(t, prior.Steps, res.Steps)
	assert.Equal(t, prior.CFG, res.CFG)
	assert.Equal(t, prior.Positive, res.Positive)
	assert.Equal(t, prior.Record.Model, res.Record.Model)
	assert.EqualValues(t, 987654321, prior.Seed)
}

func TestWriteFinalOmitsSnapshot(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"final.png", "final.webp"} {
		_, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: name, Final: true, Fresh: fresh(), Snapshot: snapshot()})
		require.NoError(t, err)
		res, err := ImageReader{}.Read(filepath.Join(f.out, name))
		require.NoError(t, err)
		assert.Nil(t, res.Snapshot, name)
		assert.NotEmpty(t, res.Parameters, name)
	}

	f.writer.DisableSnapshot = true
	_, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "disabled.png", Fresh: fresh(), Snapshot: snapshot()})
	require.NoError(t, err)
	res, err := ImageReader{}.Read(filepath.Join(f.out, "disabled.png"))
	require.NoError(t, err)
	assert.Nil(t, res.Snapshot)
}

func TestWriteFormatOverride(t *testing.T) {
	f := newFixture(t)
	webp := metacodec.FormatWEBP
	name, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "odd.img", Format: &webp, Fresh: fresh()})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.out, name))
	require.NoError(t, err)
	assert.True(t, webpmeta.IsWEBP(data))
}

func TestWriteRejectsEscapingPaths(t *testing.T) {
	f := newFixture(t)
	_, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Directory: "../up", Filename: "x.png", Fresh: fresh()})
	assert.True(t, errors.Is(err, ErrBadPath))
	_, err = f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "sub/x.png", Fresh: fresh()})
	assert.True(t, errors.Is(err, ErrBadPath))
}

func TestReadWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.webp")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, webpmeta.Encode(out, testImage(2, 2), nil))
	require.NoError(t, out.Close())

	_, err = ImageReader{}.Read(path)
	assert.True(t, errors.Is(err, provenance.ErrNoMetadata))
}

func TestReadAppliesOrientation(t *testing.T) {
	rec := &provenance.Record{Model: provenance.ArtifactRef{Name: "m", Hash: "0123456789"}, Positive: []string{}, Negative: []string{}}
	blob, err := metacodec.MarshalRecord(rec)
	require.NoError(t, err)
	x := exif.New()
	x.Main[exif.TagSoftware] = exif.ASCII(string(blob))
	x.Main[exif.TagOrientation] = exif.Short(6)

	path := filepath.Join(t.TempDir(), "rotated.webp")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, webpmeta.Encode(out, testImage(3, 2), x.Encode()))
	require.NoError(t, out.Close())

	res, err := ImageReader{}.Read(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 3), res.Image.Bounds())
	assert.Equal(t, rec, res.Record)
}

func TestOrient(t *testing.T) {
	img := testImage(3, 2)
	for o := 1; o <= 8; o++ {
		b := Orient(img, o).Bounds()
		if o >= 5 {
			assert.Equal(t, image.Rect(0, 0, 2, 3), b, "orientation %d", o)
		} else {
			assert.Equal(t, image.Rect(0, 0, 3, 2), b, "orientation %d", o)
		}
	}
	// top-left pixel ends up top-right after a quarter turn clockwise
	r, g, _, _ := Orient(img, 6).At(1, 0).RGBA()
	assert.Equal(t, uint32(0), r>>8)
	assert.Equal(t, uint32(0), g>>8)
}

func TestLoraChain(t *testing.T) {
	base := LoraChain(nil, "a", 1, 1)
	branch1 := LoraChain(base, "b", 0.5, 0)
	branch2 := LoraChain(base, "c", 0, 0.5)

	assert.Equal(t, []provenance.LoraSpec{{Name: "a", ModelStrength: 1, ClipStrength: 1}}, base)
	assert.Equal(t, "b", branch1[1].Name)
	assert.Equal(t, "c", branch2[1].Name)

	same := LoraChain(base, "zero", 0, 0)
	assert.Equal(t, base, same)
}

func TestWriteWithOnlyZeroStrengthLora(t *testing.T) {
	f := newFixture(t)
	p := fresh()
	p.Loras = LoraChain(nil, "detail.safetensors", 0, 0)
	require.NotNil(t, p.Loras)

	name, err := f.writer.Write(WriteRequest{Image: testImage(2, 2), Filename: "plain.png", Fresh: p})
	require.NoError(t, err)
	res, err := ImageReader{}.Read(filepath.Join(f.out, name))
	require.NoError(t, err)
	assert.NotNil(t, res.Loras)
	assert.Empty(t, res.Loras)
}

func TestLoraApplyOrder(t *testing.T) {
	entries := []provenance.LoraEntry{
		{Name: "first", ModelStrength: 1, ClipStrength: 1, Hash: "1"},
		{Name: "off", Hash: "2"},
		{Name: "second", ModelStrength: -0.5, Hash: "3"},
	}
	assert.Equal(t, []provenance.LoraSpec{
		{Name: "first", ModelStrength: 1, ClipStrength: 1},
		{Name: "second", ModelStrength: -0.5},
	}, LoraApplyOrder(entries))
	assert.Empty(t, LoraApplyOrder(nil))
}
