package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cispa/ampfuzz/internal/cfg"
)

func newTargetsCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "targets -c TARGETS.json",
		Short: "Print the node/edge/target counts of a CFG sidecar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			graph := cfg.New()
			if err := graph.AppendFile(cfgPath); err != nil {
				return fmt.Errorf("ampfuzz: loading %s: %w", cfgPath, err)
			}

			s := graph.Summary()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nodes:   %d\n", s.Nodes)
			fmt.Fprintf(out, "edges:   %d\n", s.Edges)
			fmt.Fprintf(out, "targets: %d\n", len(s.Targets))
			for _, t := range s.Targets {
				fmt.Fprintf(out, "  %d\n", t)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "cfg", "c", "", "CFG/targets JSON sidecar")
	cobra.MarkFlagRequired(cmd.Flags(), "cfg")

	return cmd
}
