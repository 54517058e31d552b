package mwcwallet

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "mwcwallet.conf"
	defaultDBFilename     = "wallet.db"
	defaultLogFilename    = "mwcwallet.log"
	defaultLogLevel       = "info"

	// defaultMinConf is the confirmation depth a coin needs before it can
	// fund a send.
	defaultMinConf = 10

	// defaultFeeBase is the per-weight-unit fee used when the caller does
	// not specify one.
	defaultFeeBase = 1000000

	// defaultSlateTTL is how long an unanswered negotiation may keep
	// coins locked before the sweeper cancels it.
	defaultSlateTTL = 24 * time.Hour

	// defaultSweepInterval is how often the expiry sweeper scans for
	// stale negotiations.
	defaultSweepInterval = 10 * time.Minute
)

var (
	defaultDataDir = btcutil.AppDataDir("mwcwallet", false)
)

// Config holds the daemon-wide settings, populated from defaults, the
// config file and command line flags in that order.
type Config struct {
	DataDir    string `long:"datadir" description:"The directory to store the wallet database and logs"`
	ConfigFile string `long:"config" description:"Path to configuration file"`
	LogLevel   string `long:"loglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	MinConf uint64 `long:"minconf" description:"Minimum confirmations before a coin can fund a send"`
	FeeBase uint64 `long:"feebase" description:"Fee per transaction weight unit"`

	SlateTTL      time.Duration `long:"slatettl" description:"How long an unanswered negotiation may keep coins locked"`
	SweepInterval time.Duration `long:"sweepinterval" description:"How often to scan for expired negotiations"`

	// DBPath is derived from DataDir after parsing.
	DBPath string
}

// DefaultConfig returns the config all unset options fall back to.
func DefaultConfig() Config {
	return Config{
		DataDir:       defaultDataDir,
		ConfigFile:    filepath.Join(defaultDataDir, defaultConfigFilename),
		LogLevel:      defaultLogLevel,
		MinConf:       defaultMinConf,
		FeeBase:       defaultFeeBase,
		SlateTTL:      defaultSlateTTL,
		SweepInterval: defaultSweepInterval,
	}
}

// LoadConfig reads the config file if one exists, applies command line
// flags on top, and validates the result.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()

	// A first pass picks up --datadir and --config so we know which file
	// to read.
	preCfg := cfg
	if _, err := flags.NewParser(
		&preCfg, flags.IgnoreUnknown,
	).ParseArgs(args); err != nil {
		return nil, err
	}

	configFile := preCfg.ConfigFile
	if preCfg.DataDir != defaultDataDir &&
		preCfg.ConfigFile == cfg.ConfigFile {

		configFile = filepath.Join(
			preCfg.DataDir, defaultConfigFilename,
		)
	}

	parser := flags.NewParser(&cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		// A missing config file is fine, a malformed one is not.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return finalizeConfig(&cfg)
}

// ValidateConfig validates a caller-assembled config and derives its
// computed fields.
func ValidateConfig(cfg Config) (*Config, error) {
	return finalizeConfig(&cfg)
}

// finalizeConfig validates a config and derives its computed fields.
func finalizeConfig(cfg *Config) (*Config, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	if cfg.SlateTTL <= 0 {
		return nil, fmt.Errorf("slatettl must be positive, got %v",
			cfg.SlateTTL)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweepinterval must be positive, "+
			"got %v", cfg.SweepInterval)
	}

	cfg.DBPath = filepath.Join(cfg.DataDir, defaultDBFilename)

	return cfg, nil
}
