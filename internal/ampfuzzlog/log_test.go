package ampfuzzlog

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetupMapsVerbosityToLevel(t *testing.T) {
	var buf bytes.Buffer

	Setup(0, &buf)
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())

	Setup(1, &buf)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	Setup(2, &buf)
	assert.Equal(t, logrus.TraceLevel, logrus.GetLevel())

	logrus.Info("hello")
	assert.Contains(t, buf.String(), "hello")
}
