package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/sqnodes/artifacts"
	"github.com/richinsley/sqnodes/hashcache"
)

var hashOpts struct {
	kind     string
	all      bool
	progress bool
}

var hashCmd = &cobra.Command{
	Use:   "hash [name...]",
	Short: "Print the short content hashes of model artifacts",
	Long: `Print the short content hashes recorded for model artifacts. Names are
looked up in the model folders of --kind; --all hashes every file of that kind.`,
	RunE: runHash,
}

func init() {
	f := hashCmd.Flags()
	f.StringVar(&hashOpts.kind, "kind", string(artifacts.KindModel), "artifact kind: model, vae, vae_approx or lora")
	f.BoolVar(&hashOpts.all, "all", false, "hash every artifact of the kind")
	f.BoolVar(&hashOpts.progress, "progress", false, "show a progress bar on stderr")
}

func runHash(cmd *cobra.Command, args []string) error {
	cfg := cfgMgr.Get()
	store := cfg.Store()
	kind := artifacts.Kind(hashOpts.kind)
	switch kind {
	case artifacts.KindModel, artifacts.KindVAE, artifacts.KindVAEApprox, artifacts.KindLora:
	default:
		return fmt.Errorf("unknown kind %q", hashOpts.kind)
	}

	names := args
	if hashOpts.all {
		listed, err := store.List(kind)
		if err != nil {
			return err
		}
		names = append(slices.Clone(args), listed...)
	}
	if len(names) == 0 {
		return fmt.Errorf("no artifacts to hash, name some or pass --all")
	}

	refs := make([]hashcache.Ref, 0, len(names))
	var total int64
	for _, name := range names {
		refs = append(refs, hashcache.Ref{Name: name, Kind: kind})
		if path, err := store.Resolve(kind, name); err == nil {
			if fi, err := os.Stat(path); err == nil {
				total += fi.Size()
			}
		}
	}

	var opts []hashcache.Option
	if hashOpts.progress {
		bar := progressbar.DefaultBytes(total, "hashing")
		defer bar.Finish()
		opts = append(opts, hashcache.WithOpener(func(path string) (io.ReadCloser, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			return struct {
				io.Reader
				io.Closer
			}{io.TeeReader(f, bar), f}, nil
		}))
	}

	hashes, err := hashcache.New(store, opts...).HashAll(refs, cfg.HashWorkers)
	if err != nil {
		return err
	}
	slog.Debug("hashed artifacts", "kind", kind, "count", len(hashes))
	return printResult(cmd.OutOrStdout(), hashes)
}
