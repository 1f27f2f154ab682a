package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/sqnodes/client"
	"github.com/richinsley/sqnodes/metacodec"
	"github.com/richinsley/sqnodes/provenance"
)

var replayOpts struct {
	seed    int64
	steps   int
	cfg     float64
	out     string
	timeout time.Duration
}

var replayCmd = &cobra.Command{
	Use:   "replay <image>",
	Short: "Queue the workflow stored in an image on a ComfyUI server",
	Long: `Queue the host workflow snapshot stored in an image, optionally with a new
seed, step count or CFG scale, wait for it to run and download the produced
images into --out.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.Int64Var(&replayOpts.seed, "seed", 0, "replace the seed")
	f.IntVar(&replayOpts.steps, "steps", 0, "replace the step count")
	f.Float64Var(&replayOpts.cfg, "cfg", 0, "replace the CFG scale")
	f.StringVar(&replayOpts.out, "out", "", "directory for downloaded images (default: output directory)")
	f.DurationVar(&replayOpts.timeout, "connect-timeout", 10*time.Second, "time allowed for the websocket connection")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := cfgMgr.Get()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	contents, err := metacodec.Read(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	if contents.Snapshot.IsEmpty() {
		return fmt.Errorf("%s has no workflow to replay", args[0])
	}

	var ov provenance.Overrides
	flags := cmd.Flags()
	if flags.Changed("seed") {
		ov.Seed = &replayOpts.seed
	}
	if flags.Changed("steps") {
		ov.Steps = &replayOpts.steps
	}
	if flags.Changed("cfg") {
		ov.CFG = &replayOpts.cfg
	}

	c, err := client.NewComfyClient(cfg.ServerURL())
	if err != nil {
		return err
	}
	prompt, err := contents.Snapshot.ToPrompt(c.ClientID(), ov)
	if err != nil {
		return err
	}
	if err := c.Connect(replayOpts.timeout); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.ServerURL(), err)
	}
	defer c.Close()

	item, err := c.QueuePrompt(prompt)
	if err != nil {
		return fmt.Errorf("failed to queue prompt: %w", err)
	}
	slog.Info("prompt queued", "prompt_id", item.PromptID, "number", item.Number)

	var (
		bar     *progressbar.ProgressBar
		outputs []client.DataOutput
	)
	handlers := client.DefaultMessageHandlers()
	handlers.OnProgress = func(msg *client.PromptMessageProgress) {
		if bar == nil || bar.GetMax() != msg.Max {
			bar = progressbar.Default(int64(msg.Max), "sampling")
		}
		_ = bar.Set(msg.Value)
	}
	handlers.OnData = func(msg *client.PromptMessageData) {
		outputs = append(outputs, msg.Images...)
	}

	err = item.ProcessMessages(cmd.Context(), handlers)
	if bar != nil {
		_ = bar.Finish()
	}
	if errors.Is(err, context.Canceled) {
		if ierr := c.Interrupt(); ierr != nil {
			slog.Warn("failed to interrupt execution", "error", ierr)
		}
		return err
	}
	if err != nil {
		return err
	}

	dir := replayOpts.out
	if dir == "" {
		dir = cfg.OutputDirectory
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	saved := make([]string, 0, len(outputs))
	for _, o := range outputs {
		img, err := c.GetImage(o)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, filepath.Base(o.Filename))
		if err := atomic.WriteFile(path, bytes.NewReader(img)); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		saved = append(saved, path)
	}
	return printResult(cmd.OutOrStdout(), map[string]any{
		"prompt_id": item.PromptID,
		"saved":     saved,
	})
}
