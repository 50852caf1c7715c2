package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/cispa/ampfuzz/internal/bitmap"
	"github.com/cispa/ampfuzz/internal/cfg"
	"github.com/cispa/ampfuzz/internal/config"
	"github.com/cispa/ampfuzz/internal/dashboard"
	"github.com/cispa/ampfuzz/internal/depot"
	"github.com/cispa/ampfuzz/internal/executor"
	"github.com/cispa/ampfuzz/internal/fuzzloop"
	"github.com/cispa/ampfuzz/internal/search"
	"github.com/cispa/ampfuzz/internal/stats"
)

// syncInterval is how often the orchestrator's main loop syncs, logs and
// persists.
const syncInterval = 2 * time.Second

type fuzzFlags struct {
	opts        config.Options
	metricsAddr string
	tui         bool
}

func newFuzzCmd() *cobra.Command {
	f := &fuzzFlags{opts: config.NewOptions()}

	cmd := &cobra.Command{
		Use:   "fuzz -i SEEDS -o OUT -t TRACK_BIN -c TARGETS.json --target_addr HOST:PORT -- TARGET [ARGS...]",
		Short: "Run the fuzzer against a UDP target",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.opts.TargetArgv = args
			return runFuzz(cmd, f)
		},
	}

	addFuzzFlags(cmd, f, true)
	return cmd
}

// addFuzzFlags registers the shared fuzz/resume flag set on cmd. When
// withInput is false (the resume command), -i is omitted entirely since
// resume always seeds from its own previous output directory.
func addFuzzFlags(cmd *cobra.Command, f *fuzzFlags, withInput bool) {
	fl := cmd.Flags()
	if withInput {
		fl.StringVarP(&f.opts.InputDir, "input", "i", "", `seed corpus directory (use "-" to resume from -o)`)
	}
	fl.StringVarP(&f.opts.OutputDir, "output", "o", "", "output directory")
	fl.StringVarP(&f.opts.TrackBin, "track", "t", "", "track-instrumented sibling binary")
	fl.StringVarP(&f.opts.CfgPath, "cfg", "c", "", "CFG/targets JSON sidecar")
	fl.StringVar(&f.opts.TargetAddr, "target_addr", "", "target host:port")
	fl.StringVarP(&f.opts.Mode, "mode", "m", "llvm", "instrumentation mode")
	fl.IntVarP(&f.opts.Jobs, "jobs", "j", config.DefaultJobs, "number of parallel worker threads")
	fl.IntVarP(&f.opts.MemLimitMB, "mem_limit", "M", config.DefaultMemLimitMB, "child memory limit in MB (0 = unlimited)")
	fl.IntVarP(&f.opts.StartupUs, "startup_us", "U", 0, "startup grace period in microseconds")
	fl.IntVarP(&f.opts.ResponseUs, "response_us", "R", 0, "response timeout in microseconds")
	fl.StringVarP((*string)(&f.opts.SearchMethod), "search", "r", config.DefaultSearchMethod, "search method: gd|random|mb")
	fl.StringVarP(&f.opts.SyncPeer, "sync_peer", "S", "", "sync with a peer fuzzer's output directory")
	fl.BoolVarP(&f.opts.DisableAFL, "no_afl", "A", false, "disable afl-style mutation")
	fl.BoolVarP(&f.opts.DisableExploit, "no_exploit", "E", false, "disable exploitation strategy")
	fl.BoolVarP(&f.opts.DisableAmp, "no_amp", "P", false, "disable amp-mutation strategy")
	fl.BoolVarP(&f.opts.DirectedOnly, "directed", "D", false, "directed-only mode")
	fl.BoolVarP(&f.opts.DisableListen, "no_listen", "L", false, "disable listen-ready synchronization")
	fl.StringVar((*string)(&f.opts.EarlyTerm), "early_termination", config.DefaultEarlyTermination, "none|dynamic|static|full")
	fl.StringVar(&f.metricsAddr, "metrics_addr", "", "serve Prometheus /metrics on this address (disabled if empty)")
	fl.BoolVar(&f.tui, "tui", false, "show a live bubbletea stats dashboard instead of log lines")

	cobra.MarkFlagRequired(fl, "output")
	cobra.MarkFlagRequired(fl, "track")
	cobra.MarkFlagRequired(fl, "cfg")
	cobra.MarkFlagRequired(fl, "target_addr")
}

func runFuzz(cmd *cobra.Command, f *fuzzFlags) error {
	defaults, err := config.LoadDefaults()
	if err != nil {
		return err
	}
	fl := cmd.Flags()
	config.ApplyDefault(&f.opts.Jobs, fl.Changed("jobs"), defaults.Jobs, 0)
	config.ApplyDefault(&f.opts.MemLimitMB, fl.Changed("mem_limit"), defaults.MemLimitMB, 0)
	config.ApplyDefault((*string)(&f.opts.SearchMethod), fl.Changed("search"), defaults.SearchMethod, "")
	config.ApplyDefault((*string)(&f.opts.EarlyTerm), fl.Changed("early_termination"), defaults.EarlyTermination, "")

	if err := f.opts.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("ampfuzz: signal received, shutting down")
		cancel()
	}()

	return fuzzMain(ctx, f.opts, f.metricsAddr, f.tui)
}

func fuzzMain(ctx context.Context, o config.Options, metricsAddr string, tui bool) error {
	fs := afero.NewOsFs()

	graph := cfg.New()
	if err := graph.AppendFile(o.CfgPath); err != nil {
		return fmt.Errorf("ampfuzz: loading %s: %w", o.CfgPath, err)
	}

	global := bitmap.NewGlobalBranches(graph)

	seedsDir, err := depot.ResumeOrInit(fs, o.InputDir, o.OutputDir)
	if err != nil {
		return fmt.Errorf("ampfuzz: preparing output directory: %w", err)
	}

	dep, err := depot.New(fs, o.OutputDir, graph)
	if err != nil {
		return fmt.Errorf("ampfuzz: opening depot: %w", err)
	}

	statsPath, err := depot.WriteFuzzerStats(fs, o.OutputDir)
	if err != nil {
		return fmt.Errorf("ampfuzz: writing fuzzer_stats: %w", err)
	}
	defer fs.Remove(statsPath)

	execCfg := buildExecutorConfig(o)
	newExecutor := func(workerID int, rec fuzzloop.Recorder) (search.Executor, error) {
		return executor.New(execCfg, global, dep, graph, rec)
	}

	bootstrap, err := executor.New(execCfg, global, dep, graph, nil)
	if err != nil {
		return fmt.Errorf("ampfuzz: starting bootstrap executor: %w", err)
	}
	if err := depot.SyncDepot(fs, seedsDir, bootstrap); err != nil {
		logrus.WithError(err).Warn("ampfuzz: dry-running seed corpus")
	}
	bootstrap.Close()

	if qc := dep.QueueCounts(); totalQueued(qc) == 0 {
		return fmt.Errorf("ampfuzz: dry-run empty, no seed in %s exercised any branch", seedsDir)
	}

	chart := stats.NewChart()

	csv, err := stats.NewCSVWriter(fs, filepath.Join(o.OutputDir, "angora.csv"))
	if err != nil {
		return fmt.Errorf("ampfuzz: opening angora.csv: %w", err)
	}

	var registry *stats.Registry
	if metricsAddr != "" {
		registry = stats.NewRegistry()
		go serveMetrics(metricsAddr, registry)
	}

	var aflSync *fuzzloop.SyncPeer
	if o.SyncPeer != "" {
		peerExecutor, err := executor.New(execCfg, global, dep, graph, nil)
		if err != nil {
			return fmt.Errorf("ampfuzz: starting afl-sync executor: %w", err)
		}
		defer peerExecutor.Close()
		aflSync = &fuzzloop.SyncPeer{Fs: fs, QueueDir: filepath.Join(o.SyncPeer, "queue"), Runner: peerExecutor}
	}

	orch := &fuzzloop.Orchestrator{
		Depot: dep,
		Chart: chart,
		SyncSource: func(c *stats.Chart) {
			c.SyncFromGlobal(dep, global)
		},
		NumWorkers:  o.Jobs,
		NewExecutor: newExecutor,
		Options:     search.Options{EnableAmp: !o.DisableAmp},

		SyncInterval: syncInterval,
		CSVWriter:    csv,
		Fs:           fs,
		JSONPath:     filepath.Join(o.OutputDir, "chart.json"),
		Registry:     registry,
		AFLSync:      aflSync,
	}

	if tui {
		return runWithDashboard(ctx, orch, chart)
	}
	return orch.Run(ctx)
}

// runWithDashboard runs the orchestrator and the bubbletea program side
// by side. The dashboard normally ends the run when the user presses q;
// if the orchestrator stops on its own first (termination reached, or a
// worker panicked), the program is sent a quit message instead of
// leaving it waiting on a keypress that will never come.
func runWithDashboard(ctx context.Context, orch *fuzzloop.Orchestrator, chart *stats.Chart) error {
	p := tea.NewProgram(dashboard.New(chart))

	runErr := make(chan error, 1)
	go func() {
		err := orch.Run(ctx)
		runErr <- err
		p.Quit()
	}()

	_, teaErr := p.Run()

	if err := <-runErr; err != nil {
		return err
	}
	return teaErr
}

func serveMetrics(addr string, r *stats.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Warn("ampfuzz: metrics server stopped")
	}
}

func totalQueued(qc depot.QueueCounts) int {
	var total int
	for _, n := range qc.ByFuzzType {
		total += n
	}
	return total
}

func buildExecutorConfig(o config.Options) executor.Config {
	track := append([]string{o.TrackBin}, o.TargetArgv[1:]...)
	return executor.Config{
		Target:             o.TargetArgv,
		Track:              track,
		TargetAddr:         o.TargetAddr,
		MemLimitMB:         o.MemLimitMB,
		StartupLimit:       time.Duration(o.StartupUs) * time.Microsecond,
		ResponseLimit:      time.Duration(o.ResponseUs) * time.Microsecond,
		EnableListenReady:  !o.DisableListen,
		EnableAFL:          !o.DisableAFL,
		EnableExploitation: !o.DisableExploit,
		EnableAmp:          !o.DisableAmp,
		Directed:           o.DirectedOnly,
		EarlyTermination:   string(o.EarlyTerm),
		LdLibraryPath:      os.Getenv("LD_LIBRARY_PATH"),
		UsesASan:           os.Getenv("ASAN_OPTIONS") != "",
		AsanOptions:        os.Getenv("ASAN_OPTIONS"),
		MsanOptions:        os.Getenv("MSAN_OPTIONS"),
	}
}
