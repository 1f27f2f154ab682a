package main

import (
	"github.com/spf13/cobra"

	"github.com/richinsley/sqnodes/nodes"
	"github.com/richinsley/sqnodes/provenance"
)

type readView struct {
	File        string                `json:"file" yaml:"file"`
	Width       int                   `json:"image_width" yaml:"image_width"`
	Height      int                   `json:"image_height" yaml:"image_height"`
	Record      *provenance.Record    `json:"record" yaml:"record"`
	Parameters  string                `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	HasWorkflow bool                  `json:"has_workflow" yaml:"has_workflow"`
	ApplyLoras  []provenance.LoraSpec `json:"apply_loras" yaml:"apply_loras"`
}

var readCmd = &cobra.Command{
	Use:   "read <image>",
	Short: "Print the provenance record stored in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := nodes.ImageReader{}.Read(args[0])
		if err != nil {
			return err
		}
		b := res.Image.Bounds()
		return printResult(cmd.OutOrStdout(), readView{
			File:        res.Filename,
			Width:       b.Dx(),
			Height:      b.Dy(),
			Record:      res.Record,
			Parameters:  res.Parameters,
			HasWorkflow: res.Snapshot != nil,
			ApplyLoras:  nodes.LoraApplyOrder(res.Loras),
		})
	},
}
