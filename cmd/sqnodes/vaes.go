package main

import (
	"github.com/spf13/cobra"
)

var vaesCmd = &cobra.Command{
	Use:   "vaes",
	Short: "List the VAE names a writer accepts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := cfgMgr.Get().Store().ListVAEs()
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), names)
	},
}
