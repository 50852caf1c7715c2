package fuzzloop

import (
	"os"

	"github.com/spf13/afero"

	"github.com/cispa/ampfuzz/internal/depot"
)

// SyncPeer periodically dry-runs the unseen contents of another AFL-style
// fuzzer's queue directory through this fleet's executor, so two
// independently-seeded runs cross-pollinate without sharing a depot.
// Grounded on the original fuzz loop's own sync-to-angora-format peers,
// narrowed here to files this peer hasn't already been scanned for.
type SyncPeer struct {
	Fs       afero.Fs
	QueueDir string
	Runner   depot.DryRunner

	seen map[string]struct{}
}

// Sync dry-runs every queue file not yet seen from this peer. A missing
// queue directory (peer not started yet, or already torn down) is not an
// error.
func (s *SyncPeer) Sync() error {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}

	entries, err := afero.ReadDir(s.Fs, s.QueueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := s.seen[e.Name()]; ok {
			continue
		}
		s.seen[e.Name()] = struct{}{}

		path := s.QueueDir + "/" + e.Name()
		if err := s.Runner.DryRun(path); err != nil {
			return err
		}
	}
	return nil
}
