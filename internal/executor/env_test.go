package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetPortParsesHostPort(t *testing.T) {
	port, ok := targetPort("127.0.0.1:9999")
	assert.True(t, ok)
	assert.Equal(t, 9999, port)
}

func TestTargetPortRejectsMalformedAddr(t *testing.T) {
	_, ok := targetPort("not-an-address")
	assert.False(t, ok)
}
