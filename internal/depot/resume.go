package depot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

// ResumeOrInit lays out the output directory for one run and decides
// where the seeds for this run come from. When inDir is "-", the
// existing outDir is renamed aside with a timestamp suffix and becomes
// the seeds source via its own queue/ — a crashed or stopped fuzzer can
// be restarted without losing its corpus. Otherwise outDir must not
// already exist, and inDir is used as the seeds directory verbatim.
func ResumeOrInit(fs afero.Fs, inDir, outDir string) (seedsDir string, err error) {
	if inDir != "-" {
		if exists, _ := afero.DirExists(fs, outDir); exists {
			return "", fmt.Errorf("depot: output directory %s already exists", outDir)
		}
		if err := fs.MkdirAll(outDir, 0o755); err != nil {
			return "", err
		}
		return inDir, nil
	}

	archived := outDir + "." + time.Now().Format(time.RFC3339)
	if err := fs.Rename(outDir, archived); err != nil {
		return "", fmt.Errorf("depot: archiving previous output: %w", err)
	}
	if err := fs.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(archived, "queue"), nil
}

// WriteFuzzerStats writes the one-line AFL-compatible liveness file
// recording this process's pid, returning the path so the caller can
// remove it on clean shutdown.
func WriteFuzzerStats(fs afero.Fs, outDir string) (string, error) {
	path := filepath.Join(outDir, "fuzzer_stats")
	content := "fuzzer_pid : " + strconv.Itoa(os.Getpid())
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("depot: writing fuzzer stats: %w", err)
	}
	return path, nil
}
