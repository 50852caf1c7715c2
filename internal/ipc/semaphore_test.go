//go:build linux

package ipc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainConsumesAllPosts(t *testing.T) {
	sem, err := New()
	require.NoError(t, err)
	defer sem.Close()

	require.NoError(t, sem.Post())
	require.NoError(t, sem.Post())
	require.NoError(t, sem.Post())

	sem.Drain()
	assert.False(t, sem.TryWait(), "drain should have consumed every pending post")
}

func TestWaitTimeoutSucceedsWhenPosted(t *testing.T) {
	sem, err := New()
	require.NoError(t, err)
	defer sem.Close()

	require.NoError(t, sem.Post())
	assert.True(t, sem.WaitTimeout(10*time.Millisecond))
}

func TestWaitTimeoutFailsWhenNeverPosted(t *testing.T) {
	sem, err := New()
	require.NoError(t, err)
	defer sem.Close()

	assert.False(t, sem.WaitTimeout(5*time.Millisecond))
}
