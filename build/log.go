// Package build holds the logging plumbing shared by the daemon and its
// subsystems: a writer that tees log output to stdout and the log file
// rotator, and the sublogger constructor the root logger config uses.
package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
)

// LogWriter writes all log output to stdout and, once the rotator pipe
// has been set, to the rotating log file as well.
type LogWriter struct {
	// RotatorPipe is the write-end pipe for writing to the log rotator.
	// It is written to by the Write method once set.
	RotatorPipe *io.PipeWriter
}

// Write writes the byte slice to stdout and the log rotator, if present.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)
	if w.RotatorPipe != nil {
		w.RotatorPipe.Write(b)
	}

	return len(b), nil
}

// NewSubLogger constructs a new subsystem logger from the given backend
// logger constructor. A nil constructor disables the subsystem's output.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger != nil {
		return genSubLogger(subsystem)
	}

	return btclog.Disabled
}
