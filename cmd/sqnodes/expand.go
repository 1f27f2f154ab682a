package main

import (
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/richinsley/sqnodes/dynprompt"
)

var expandOpts struct {
	seed  uint64
	count int
}

var expandCmd = &cobra.Command{
	Use:   "expand <template>",
	Short: "Expand a {a|b} prompt template",
	Example: `  sqnodes expand "a {red|blue} {car|{old|new} boat}, , studio light"
  sqnodes expand --seed 7 --count 4 "{cat|dog}"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := &dynprompt.Expander{}
		if cmd.Flags().Changed("seed") {
			e = dynprompt.New(rand.New(rand.NewPCG(expandOpts.seed, expandOpts.seed)))
		}
		out := make([]string, 0, expandOpts.count)
		for range expandOpts.count {
			out = append(out, e.Expand(args[0]))
		}
		return printResult(cmd.OutOrStdout(), out)
	},
}

func init() {
	expandCmd.Flags().Uint64Var(&expandOpts.seed, "seed", 0, "seed for repeatable choices (default random)")
	expandCmd.Flags().IntVarP(&expandOpts.count, "count", "n", 1, "number of expansions")
}
