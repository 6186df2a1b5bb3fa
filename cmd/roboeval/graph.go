package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robolab/roboeval/internal/pipeline"
)

func newGraphCmd() *cobra.Command {
	var (
		mode string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "dump the evaluation pipeline as a DOT graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			dot, err := pipeline.Dot(pipeline.Mode(mode))
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), dot)
				return nil
			}
			return os.WriteFile(out, []byte(dot), 0o644)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "sim", "pipeline to describe: sim or real")
	cmd.Flags().StringVar(&out, "out", "", "write the DOT to a file instead of stdout")
	return cmd
}
