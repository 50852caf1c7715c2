// Package config resolves one fuzzing run's settings: the CLI flags of
// spec §6, merged with a persisted TOML defaults file the same way the
// teacher's own config.toml supplied fallback values the CLI didn't
// override, then validated before anything downstream trusts them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/asaskevich/govalidator"
	"github.com/pelletier/go-toml/v2"
)

// Built-in CLI defaults (spec §6).
const (
	DefaultJobs             = 1
	DefaultMemLimitMB       = 200
	DefaultSearchMethod     = "gd"
	DefaultEarlyTermination = "full"
)

// SearchMethod is the `-r` flag's enum.
type SearchMethod string

const (
	SearchGradientDescent SearchMethod = "gd"
	SearchRandom          SearchMethod = "random"
	SearchMinibatch       SearchMethod = "mb"
)

// EarlyTermination is the `--early_termination` flag's enum.
type EarlyTermination string

const (
	EarlyTerminationNone    EarlyTermination = "none"
	EarlyTerminationDynamic EarlyTermination = "dynamic"
	EarlyTerminationStatic  EarlyTermination = "static"
	EarlyTerminationFull    EarlyTermination = "full"
)

// Options is one run's fully-resolved settings: CLI flags, spec §6.
type Options struct {
	InputDir   string
	OutputDir  string
	TrackBin   string
	CfgPath    string
	TargetAddr string
	TargetArgv []string

	Mode string // only "llvm" is meaningful in this build

	Jobs         int
	MemLimitMB   int
	StartupUs    int
	ResponseUs   int
	SearchMethod SearchMethod
	SyncPeer     string
	EarlyTerm    EarlyTermination

	DisableAFL     bool
	DisableExploit bool
	DisableAmp     bool
	DirectedOnly   bool
	DisableListen  bool
}

// NewOptions returns an Options pre-populated with the CLI's built-in
// defaults, ready for a flag parser to overwrite.
func NewOptions() Options {
	return Options{
		Jobs:         DefaultJobs,
		MemLimitMB:   DefaultMemLimitMB,
		SearchMethod: DefaultSearchMethod,
		EarlyTerm:    DefaultEarlyTermination,
	}
}

// Validate checks the invariants the executor and depot assume hold:
// required paths are non-empty, TargetAddr parses as host:port, and the
// enum-shaped flags hold one of their named values. It never touches the
// filesystem — missing directories are a setup-fatal error reported by
// whoever actually opens them (spec §7's "setup-fatal" class).
func (o Options) Validate() error {
	if o.InputDir == "" {
		return fmt.Errorf("config: input dir (-i) is required")
	}
	if o.OutputDir == "" {
		return fmt.Errorf("config: output dir (-o) is required")
	}
	if o.TrackBin == "" {
		return fmt.Errorf("config: track binary (-t) is required")
	}
	if o.CfgPath == "" {
		return fmt.Errorf("config: CFG/targets JSON (-c) is required")
	}
	if len(o.TargetArgv) == 0 {
		return fmt.Errorf("config: target program (after --) is required")
	}
	if o.TargetAddr == "" {
		return fmt.Errorf("config: --target_addr is required")
	}
	if !govalidator.IsDialString(o.TargetAddr) {
		return fmt.Errorf("config: --target_addr %q is not a valid host:port", o.TargetAddr)
	}
	if !govalidator.IsIn(string(o.SearchMethod), "gd", "random", "mb") {
		return fmt.Errorf("config: -r must be one of gd|random|mb, got %q", o.SearchMethod)
	}
	if !govalidator.IsIn(string(o.EarlyTerm), "none", "dynamic", "static", "full") {
		return fmt.Errorf("config: --early_termination must be one of none|dynamic|static|full, got %q", o.EarlyTerm)
	}
	if o.Jobs < 1 {
		return fmt.Errorf("config: -j must be at least 1, got %d", o.Jobs)
	}
	if o.MemLimitMB < 0 {
		return fmt.Errorf("config: -M must be >= 0 (0 = unlimited), got %d", o.MemLimitMB)
	}
	return nil
}

// Defaults is the persisted subset of Options a user can set once in
// config.toml instead of repeating on every invocation — the same role
// the teacher's own config.toml played for default_version, scoped here
// to the handful of flags that make sense as a standing preference
// rather than a per-run requirement.
type Defaults struct {
	Jobs             int    `toml:"jobs,omitempty"`
	MemLimitMB       int    `toml:"mem_limit_mb,omitempty"`
	SearchMethod     string `toml:"search_method,omitempty"`
	EarlyTermination string `toml:"early_termination,omitempty"`
}

// configDirOverride is set by the --config-dir flag through SetConfigDir.
var configDirOverride string

// SetConfigDir overrides the directory Load/Save resolve config.toml
// under.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the directory config.toml lives in. Precedence:
// --config-dir flag / SetConfigDir > AMPFUZZ_HOME env > ~/.ampfuzz.
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("AMPFUZZ_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ampfuzz")
	}
	return filepath.Join(home, ".ampfuzz")
}

// Path returns the full path to config.toml.
func Path() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadDefaults reads config.toml, returning a zero-value Defaults (no
// error) if the file doesn't exist yet.
func LoadDefaults() (Defaults, error) {
	var d Defaults
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return d, fmt.Errorf("config: reading %s: %w", Path(), err)
	}
	if err := toml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("config: parsing %s: %w", Path(), err)
	}
	return d, nil
}

// SaveDefaults persists d to config.toml, creating the home directory if
// needed.
func SaveDefaults(d Defaults) error {
	if err := os.MkdirAll(Home(), 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", Home(), err)
	}
	data, err := toml.Marshal(d)
	if err != nil {
		return fmt.Errorf("config: marshaling defaults: %w", err)
	}
	return os.WriteFile(Path(), data, 0o644)
}

// ApplyDefault sets dst to fromFile for one flag, but only if changed
// reports the CLI flag was left untouched — callers pass
// cmd.Flags().Changed(name) so an explicit flag always outranks a
// persisted default, and a persisted default always outranks the
// built-in constant NewOptions seeded dst with.
func ApplyDefault[T comparable](dst *T, changed bool, fromFile T, zero T) {
	if changed {
		return
	}
	if fromFile != zero {
		*dst = fromFile
	}
}
