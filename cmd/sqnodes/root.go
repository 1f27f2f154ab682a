package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/richinsley/sqnodes/config"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string

	cfgMgr *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "sqnodes",
	Short: "Embed and recover reproducible generation metadata in PNG and WEBP images",
	Long: `sqnodes writes images together with a provenance record: the checkpoint,
VAE and LoRAs with their content hashes, the sampler settings, the latent size
and the chained prompts. The record can be read back to re-render an image with
a different seed, step count or CFG scale.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			if err := mgr.Set("log_level", logLevel); err != nil {
				return err
			}
		}
		cfgMgr = mgr

		level, _ := mgr.Get().Level()
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		if f := mgr.ConfigFileUsed(); f != "" {
			slog.Debug("loaded config", "file", f)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./sqnodes.yaml or ~/.sqnodes/sqnodes.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error",
	)

	rootCmd.AddCommand(readCmd, writeCmd, expandCmd, hashCmd, vaesCmd, replayCmd, initCmd)
}
