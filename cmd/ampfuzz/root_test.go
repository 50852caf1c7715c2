package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execRoot(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()
	c := newRootCmd()
	buf := new(bytes.Buffer)
	c.SetOut(buf)
	c.SetErr(buf)
	c.SetArgs(args)
	err = c.Execute()
	return buf.String(), err
}

func TestHelpListsSubcommands(t *testing.T) {
	out, err := execRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "fuzz")
	assert.Contains(t, out, "resume")
	assert.Contains(t, out, "targets")
}

func TestFuzzRequiresOutputTrackCfgAndTargetAddr(t *testing.T) {
	_, err := execRoot(t, "fuzz", "-i", "/seeds")
	require.Error(t, err)
}

func TestFuzzRejectsMalformedTargetAddr(t *testing.T) {
	dir := t.TempDir()
	_, err := execRoot(t, "fuzz",
		"-i", dir+"/seeds",
		"-o", dir+"/out",
		"-t", "/bin/track",
		"-c", dir+"/targets.json",
		"--target_addr", "not-a-host-port",
		"--", "/bin/target", "@@",
	)
	require.Error(t, err)
}

func TestResumeForcesDashInputAndHidesFlag(t *testing.T) {
	cmd := newResumeCmd()
	assert.Nil(t, cmd.Flags().Lookup("input"))
}

func TestTargetsRequiresCfgFlag(t *testing.T) {
	_, err := execRoot(t, "targets")
	require.Error(t, err)
}
