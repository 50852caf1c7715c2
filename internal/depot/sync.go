package depot

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DryRunner executes one seed file through the target without it being
// part of the normal fuzzing loop, returning an error only on an I/O
// failure driving the executor itself — a crashing or hanging seed is not
// an error, it's exactly what sync is looking for.
type DryRunner interface {
	DryRun(path string) error
}

// SyncDepot dry-runs every file in seedsDir through the executor before
// normal fuzzing begins. Individual seed failures are collected and
// logged but never abort the sync.
func SyncDepot(fs afero.Fs, seedsDir string, runner DryRunner) error {
	entries, err := afero.ReadDir(fs, seedsDir)
	if err != nil {
		return err
	}

	var (
		eg   errgroup.Group
		errs *multierror.Error
		mu   sync.Mutex
	)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := seedsDir + "/" + e.Name()
		eg.Go(func() error {
			if err := runner.DryRun(path); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				logrus.WithField("seed", path).WithError(err).Warn("depot: seed dry run failed")
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errs.ErrorOrNil()
}
