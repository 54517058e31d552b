package mwcwallet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/mwcproject/mwcwallet/build"
	"github.com/mwcproject/mwcwallet/session"
	"github.com/mwcproject/mwcwallet/slatebuilder"
	"github.com/mwcproject/mwcwallet/wallet"
	"github.com/mwcproject/mwcwallet/walletstore"
)

// Loggers per subsystem. A single backend logger is created and all
// subsystem loggers created from it will write to the backend. When adding
// new subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
var (
	logWriter = &build.LogWriter{}

	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = btclog.NewBackend(logWriter)

	// logRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	mwcwLog = build.NewSubLogger("MWCW", backendLog.Logger)
	wlltLog = build.NewSubLogger("WLLT", backendLog.Logger)
	sessLog = build.NewSubLogger("SESS", backendLog.Logger)
	slatLog = build.NewSubLogger("SLAT", backendLog.Logger)
	wstrLog = build.NewSubLogger("WSTR", backendLog.Logger)
)

// Initialize package-global logger variables.
func init() {
	wallet.UseLogger(wlltLog)
	session.UseLogger(sessLog)
	slatebuilder.UseLogger(slatLog)
	walletstore.UseLogger(wstrLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"MWCW": mwcwLog,
	"WLLT": wlltLog,
	"SESS": sessLog,
	"SLAT": slatLog,
	"WSTR": wstrLog,
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before
// the package-global log rotator variables are used.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.RotatorPipe = pw
	logRotator = r

	return nil
}

// InitLogging wires the log rotator to the configured data directory and
// applies the configured level to every subsystem.
func InitLogging(cfg *Config) error {
	logFile := filepath.Join(cfg.DataDir, "logs", defaultLogFilename)
	if err := initLogRotator(logFile); err != nil {
		return err
	}
	setLogLevels(cfg.LogLevel)

	return nil
}

// CloseLogging flushes and closes the log rotator, if one was started.
func CloseLogging() {
	if logRotator != nil {
		logRotator.Close()
	}
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)

	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
