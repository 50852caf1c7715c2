package fuzzloop

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDryRunner struct{ ran []string }

func (f *fakeDryRunner) DryRun(path string) error {
	f.ran = append(f.ran, path)
	return nil
}

func TestSyncPeerDryRunsOnlyUnseenFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/peer/queue/id_000000", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/peer/queue/id_000001", []byte("b"), 0o644))

	runner := &fakeDryRunner{}
	sp := &SyncPeer{Fs: fs, QueueDir: "/peer/queue", Runner: runner}

	require.NoError(t, sp.Sync())
	assert.Len(t, runner.ran, 2)

	require.NoError(t, afero.WriteFile(fs, "/peer/queue/id_000002", []byte("c"), 0o644))
	require.NoError(t, sp.Sync())
	assert.Len(t, runner.ran, 3)
}

func TestSyncPeerMissingQueueDirIsNotAnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	sp := &SyncPeer{Fs: fs, QueueDir: "/nope", Runner: &fakeDryRunner{}}
	assert.NoError(t, sp.Sync())
}
