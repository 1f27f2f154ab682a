package main

import (
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/spf13/cobra"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"

	"github.com/richinsley/sqnodes/artifacts"
	"github.com/richinsley/sqnodes/dynprompt"
	"github.com/richinsley/sqnodes/hashcache"
	"github.com/richinsley/sqnodes/metacodec"
	"github.com/richinsley/sqnodes/nodes"
	"github.com/richinsley/sqnodes/promptchain"
	"github.com/richinsley/sqnodes/provenance"
)

// paramsFile is the YAML form of the fresh generation parameters. Prompts
// may use {a|b} templates; they are expanded before being recorded.
type paramsFile struct {
	Model     string                `yaml:"model"`
	VAE       string                `yaml:"vae"`
	Sampler   string                `yaml:"sampler"`
	Scheduler string                `yaml:"scheduler"`
	Loras     []provenance.LoraSpec `yaml:"loras"`
	Seed      *int64                `yaml:"seed"`
	Steps     *int                  `yaml:"steps"`
	CFG       *float64              `yaml:"cfg"`
	Width     *int                  `yaml:"width"`
	Height    *int                  `yaml:"height"`
	Positive  []string              `yaml:"positive"`
	Negative  []string              `yaml:"negative"`
}

var writeOpts struct {
	params          string
	from            string
	directory       string
	filename        string
	timestampFormat string
	final           bool
	format          string
	expandSeed      int64
	seed            int64
	steps           int
	cfg             float64
}

var writeCmd = &cobra.Command{
	Use:   "write <image>",
	Short: "Save an image with a provenance record",
	Long: `Save an image under the configured output directory with a provenance
record built either from a parameters file (--params) or from the record of an
earlier image (--from) with optional --seed, --steps and --cfg overrides.`,
	Args: cobra.ExactArgs(1),
	RunE: runWrite,
}

func init() {
	f := writeCmd.Flags()
	f.StringVar(&writeOpts.params, "params", "", "YAML file with fresh generation parameters")
	f.StringVar(&writeOpts.from, "from", "", "image whose record is reused")
	f.StringVar(&writeOpts.directory, "dir", "", "directory below the output directory")
	f.StringVar(&writeOpts.filename, "filename", nodes.DefaultFilename, "file name template with ${n} and $timestamp")
	f.StringVar(&writeOpts.timestampFormat, "timestamp-format", "", "strftime layout for $timestamp (default from config)")
	f.BoolVar(&writeOpts.final, "final", false, "leave the host workflow out of the file")
	f.StringVar(&writeOpts.format, "format", "", "png or webp (default from the file extension)")
	f.Int64Var(&writeOpts.expandSeed, "expand-seed", 0, "seed for prompt template expansion (default random)")
	f.Int64Var(&writeOpts.seed, "seed", 0, "override the seed of --from")
	f.IntVar(&writeOpts.steps, "steps", 0, "override the steps of --from")
	f.Float64Var(&writeOpts.cfg, "cfg", 0, "override the CFG scale of --from")
	writeCmd.MarkFlagsMutuallyExclusive("params", "from")
	writeCmd.MarkFlagsOneRequired("params", "from")
}

func runWrite(cmd *cobra.Command, args []string) error {
	cfg := cfgMgr.Get()
	img, err := decodeImage(args[0])
	if err != nil {
		return err
	}
	level, err := cfg.Compression()
	if err != nil {
		return err
	}

	req := nodes.WriteRequest{
		Image:           img,
		Directory:       writeOpts.directory,
		Filename:        writeOpts.filename,
		TimestampFormat: writeOpts.timestampFormat,
		Final:           writeOpts.final,
	}
	if req.TimestampFormat == "" {
		req.TimestampFormat = cfg.TimestampFormat
	}
	switch writeOpts.format {
	case "":
	case "png":
		f := metacodec.FormatPNG
		req.Format = &f
	case "webp":
		f := metacodec.FormatWEBP
		req.Format = &f
	default:
		return fmt.Errorf("unknown format %q", writeOpts.format)
	}

	if writeOpts.from != "" {
		prior, err := nodes.ImageReader{}.Read(writeOpts.from)
		if err != nil {
			return err
		}
		req.Prior = prior.Record
		req.Snapshot = prior.Snapshot
		flags := cmd.Flags()
		if flags.Changed("seed") {
			req.Overrides.Seed = &writeOpts.seed
		}
		if flags.Changed("steps") {
			req.Overrides.Steps = &writeOpts.steps
		}
		if flags.Changed("cfg") {
			req.Overrides.CFG = &writeOpts.cfg
		}
	} else {
		var expander *dynprompt.Expander
		if cmd.Flags().Changed("expand-seed") {
			s := uint64(writeOpts.expandSeed)
			expander = dynprompt.New(rand.New(rand.NewPCG(s, s)))
		}
		fresh, err := loadParams(writeOpts.params, expander, img.Bounds())
		if err != nil {
			return err
		}
		req.Fresh = fresh
	}

	w := &nodes.ImageWriter{
		Hasher:          hashcache.New(cfg.Store()),
		OutputDir:       cfg.OutputDirectory,
		DisableSnapshot: cfg.DisableMetadata,
		PNGCompression:  level,
	}
	name, err := w.Write(req)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), map[string]string{"saved": name})
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// loadParams reads a parameters file. Width and height default to the image
// size since the image is the decoded latent.
func loadParams(path string, expander *dynprompt.Expander, bounds image.Rectangle) (provenance.FreshParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return provenance.FreshParams{}, err
	}
	var p paramsFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return provenance.FreshParams{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if p.Model == "" {
		return provenance.FreshParams{}, &provenance.MissingFieldError{Stage: provenance.StageGenerator, Field: "model"}
	}
	chainer := promptchain.New(expander, promptchain.DenseConcat{})

	gen := nodes.ParameterGenerator(p.Model, p.VAE, p.Sampler, p.Scheduler)
	if gen.VAEName == "" {
		gen.VAEName = artifacts.BuiltinVAE
	}
	var loras []provenance.LoraSpec
	if p.Loras != nil {
		loras = []provenance.LoraSpec{}
		for _, l := range p.Loras {
			loras = nodes.LoraChain(loras, l.Name, l.ModelStrength, l.ClipStrength)
		}
	}
	if p.Width == nil {
		p.Width = provenance.Ptr(bounds.Dx())
	}
	if p.Height == nil {
		p.Height = provenance.Ptr(bounds.Dy())
	}

	positive, err := chainPrompts(chainer, p.Positive)
	if err != nil {
		return provenance.FreshParams{}, err
	}
	negative, err := chainPrompts(chainer, p.Negative)
	if err != nil {
		return provenance.FreshParams{}, err
	}

	return provenance.FreshParams{
		Generator: &gen,
		Loras:     loras,
		Seed:      p.Seed,
		Steps:     p.Steps,
		CFG:       p.CFG,
		Width:     p.Width,
		Height:    p.Height,
		Positive:  positive,
		Negative:  negative,
	}, nil
}

// wordEncoder stands in for a text encoder outside a host: one sequence
// position per word, so the chained conditioning length can be logged.
type wordEncoder struct{}

func (wordEncoder) Encode(text string) (promptchain.Unit, error) {
	return promptchain.Unit{Cond: promptchain.NewDense(1, len(strings.Fields(text)), 1)}, nil
}

// chainPrompts runs prompts through a prompt chain and returns the expanded
// texts it recorded. A nil list stays nil so the stage reads as unconnected.
func chainPrompts(c *promptchain.Chainer, prompts []string) ([]string, error) {
	if prompts == nil {
		return nil, nil
	}
	if len(prompts) == 0 {
		return []string{}, nil
	}
	var state *promptchain.State
	for _, p := range prompts {
		var err error
		if state, err = c.Chain(state, p, wordEncoder{}); err != nil {
			return nil, err
		}
	}
	if d, ok := state.Conditioning[0].Cond.(*promptchain.Dense); ok {
		slog.Debug("prompt chain built", "prompts", len(state.Prompts), "positions", d.Seq)
	}
	return state.Prompts, nil
}
