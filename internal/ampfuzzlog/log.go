// Package ampfuzzlog configures the process-wide logrus logger every
// other package calls into directly (internal/depot, internal/executor,
// internal/fuzzloop, ...). There is no injected *logrus.Logger anywhere
// in this tree — one global logger, configured once at startup.
package ampfuzzlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logger's level and formatter. verbosity
// follows the CLI's repeated -v convention: 0 is Info, 1 is Debug, 2+ is
// Trace. out defaults to os.Stderr when nil, keeping stdout free for
// anything the target or a piped consumer expects to read cleanly.
func Setup(verbosity int, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	switch {
	case verbosity >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case verbosity == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
