package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgvSubstitutesPlaceholder(t *testing.T) {
	prog, args := buildArgv([]string{"./target", "-x", "@@", "-v"}, "/tmp/in")
	assert.Equal(t, "./target", prog)
	assert.Equal(t, []string{"-x", "/tmp/in", "-v"}, args)
}

func TestBuildArgvAppendsInputWhenNoPlaceholder(t *testing.T) {
	prog, args := buildArgv([]string{"./target", "-v"}, "/tmp/in")
	assert.Equal(t, "./target", prog)
	assert.Equal(t, []string{"-v", "/tmp/in"}, args)
}

func TestTrackLimitsScaleByFactor(t *testing.T) {
	c := Config{StartupLimit: 10 * time.Millisecond, ResponseLimit: 20 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond*timeLimitTrackFactor, c.trackStartupLimit())
	assert.Equal(t, 20*time.Millisecond*timeLimitTrackFactor, c.trackResponseLimit())
}
