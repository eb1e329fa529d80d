// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads extd configuration from defaults, a YAML file,
// EXTD_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/extd/internal/journal"
	"github.com/holomush/extd/internal/logging"
	"github.com/holomush/extd/internal/xdg"
)

// Error codes.
const (
	CodeLoad    = "CONFIG_LOAD_FAILED"
	CodeInvalid = "CONFIG_INVALID"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXTD_"

// Default values.
const (
	DefaultExtensionsDir = "extensions"
	DefaultLogFormat     = logging.FormatJSON
	DefaultLogLevel      = "info"
	DefaultMetricsAddr   = "127.0.0.1:9100"
	DefaultControlAddr   = "127.0.0.1:9101"
	DefaultJournalDriver = journal.DriverSQLite
)

// Config is the complete extd configuration.
type Config struct {
	Extensions ExtensionsConfig `koanf:"extensions"`
	Log        LogConfig        `koanf:"log"`
	Metrics    ListenConfig     `koanf:"metrics"`
	Control    ListenConfig     `koanf:"control"`
	Journal    JournalConfig    `koanf:"journal"`
}

// ExtensionsConfig locates extension containers.
type ExtensionsConfig struct {
	Dir string `koanf:"dir"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// ListenConfig is a listen address. Empty disables the server.
type ListenConfig struct {
	Addr string `koanf:"addr"`
}

// JournalConfig selects the lifecycle journal backend.
type JournalConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// envOverrides mirrors Config with pointer fields so unset variables stay nil.
type envOverrides struct {
	ExtensionsDir *string `env:"EXTENSIONS_DIR"`
	LogFormat     *string `env:"LOG_FORMAT"`
	LogLevel      *string `env:"LOG_LEVEL"`
	MetricsAddr   *string `env:"METRICS_ADDR"`
	ControlAddr   *string `env:"CONTROL_ADDR"`
	JournalDriver *string `env:"JOURNAL_DRIVER"`
	JournalDSN    *string `env:"JOURNAL_DSN"`
}

func (o envOverrides) apply(k *koanf.Koanf) error {
	for key, val := range map[string]*string{
		"extensions.dir": o.ExtensionsDir,
		"log.format":     o.LogFormat,
		"log.level":      o.LogLevel,
		"metrics.addr":   o.MetricsAddr,
		"control.addr":   o.ControlAddr,
		"journal.driver": o.JournalDriver,
		"journal.dsn":    o.JournalDSN,
	} {
		if val == nil {
			continue
		}
		if err := k.Set(key, *val); err != nil {
			return err
		}
	}
	return nil
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"extensions-dir": "extensions.dir",
	"log-format":     "log.format",
	"log-level":      "log.level",
	"metrics-addr":   "metrics.addr",
	"control-addr":   "control.addr",
	"journal-driver": "journal.driver",
	"journal-dsn":    "journal.dsn",
}

func defaults() map[string]string {
	return map[string]string{
		"extensions.dir": DefaultExtensionsDir,
		"log.format":     DefaultLogFormat,
		"log.level":      DefaultLogLevel,
		"metrics.addr":   DefaultMetricsAddr,
		"control.addr":   DefaultControlAddr,
		"journal.driver": DefaultJournalDriver,
		"journal.dsn":    "",
	}
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("extensions-dir", DefaultExtensionsDir, "directory scanned for *.bec extension containers")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("control-addr", DefaultControlAddr, "control gRPC health address (empty = disabled)")
	fs.String("journal-driver", DefaultJournalDriver, "journal backend (memory, sqlite or postgres)")
	fs.String("journal-dsn", "", "journal data source (default: XDG_DATA_HOME/extd/journal.db for sqlite)")
}

// Load builds the configuration. An empty path reads the default XDG
// config file when it exists; an explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code(CodeLoad).Wrap(err)
		}
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	var ov envOverrides
	if err := env.ParseWithOptions(&ov, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, oops.Code(CodeLoad).Wrapf(err, "parse environment")
	}
	if err := ov.apply(k); err != nil {
		return nil, oops.Code(CodeLoad).Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeLoad).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeLoad).Wrapf(err, "decode configuration")
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Journal.Driver = strings.ToLower(cfg.Journal.Driver)

	if cfg.Journal.Driver == journal.DriverSQLite && cfg.Journal.DSN == "" {
		dsn, err := xdg.JournalFile()
		if err != nil {
			return nil, oops.Code(CodeLoad).Wrapf(err, "default journal path")
		}
		cfg.Journal.DSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		def, err := xdg.ConfigFile()
		if err != nil {
			return nil
		}
		path = def
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code(CodeLoad).With("path", path).Wrapf(err, "stat config file")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeLoad).With("path", path).Wrapf(err, "load config file")
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Extensions.Dir == "" {
		return oops.Code(CodeInvalid).Errorf("extensions.dir is required")
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatText {
		return oops.Code(CodeInvalid).With("format", c.Log.Format).Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).With("level", c.Log.Level).Errorf("log.level %q is not a level", c.Log.Level)
	}
	switch c.Journal.Driver {
	case journal.DriverMemory:
	case journal.DriverSQLite, journal.DriverPostgres:
		if c.Journal.DSN == "" {
			return oops.Code(CodeInvalid).With("driver", c.Journal.Driver).Errorf("journal.dsn is required for %s", c.Journal.Driver)
		}
	default:
		return oops.Code(CodeInvalid).With("driver", c.Journal.Driver).Errorf("unknown journal.driver %q", c.Journal.Driver)
	}
	return nil
}
