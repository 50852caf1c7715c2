//go:build linux

package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cispa/ampfuzz/internal/cond"
)

func TestCondChannelResetsOutputToUnreachable(t *testing.T) {
	ch, err := NewCondChannel()
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Set(cond.CondBase{Cmpid: 7}))
	assert.Equal(t, Unreachable, ch.Output())
}
