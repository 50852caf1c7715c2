package main

import (
	"github.com/spf13/cobra"

	"github.com/cispa/ampfuzz/internal/config"
)

// newResumeCmd is `fuzz` with -i forced to "-": restart a stopped or
// crashed run against its own previous output directory instead of a
// fresh seed corpus.
func newResumeCmd() *cobra.Command {
	f := &fuzzFlags{opts: config.NewOptions()}
	f.opts.InputDir = "-"

	cmd := &cobra.Command{
		Use:   "resume -o OUT -t TRACK_BIN -c TARGETS.json --target_addr HOST:PORT -- TARGET [ARGS...]",
		Short: "Resume a stopped run from its own output directory",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.opts.TargetArgv = args
			return runFuzz(cmd, f)
		},
	}

	addFuzzFlags(cmd, f, false)
	return cmd
}
