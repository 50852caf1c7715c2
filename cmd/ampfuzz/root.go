// Package main is the ampfuzz cobra CLI: a fuzz command that drives the
// worker fleet end to end, plus resume/targets utility subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cispa/ampfuzz/internal/ampfuzzlog"
	"github.com/cispa/ampfuzz/internal/config"
)

// ConfigDir overrides where config.toml is read from, set via
// --config-dir on the root command.
var ConfigDir string

var verboseCount int

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ampfuzz",
		Short: "Coverage-guided, taint-directed fuzzer for UDP amplification vectors",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.SetConfigDir(ConfigDir)
			ampfuzzlog.Setup(verboseCount, cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&ConfigDir, "config-dir", "", "override the directory config.toml lives in")
	root.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")

	root.AddCommand(newFuzzCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newTargetsCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
