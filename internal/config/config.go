package config

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	appName              = "pulsecore"
	DefaultEnvPrefix     = "PULSECORE"
	DefaultLogLevel      = "info"
	DefaultListen        = "127.0.0.1:7420"
	DefaultPruneEvery    = 180
	DefaultRecentCap     = 300
	DefaultProbeTimeout  = 30 * time.Second
	defaultDotenvPath    = ".env"
	defaultConfigType    = "toml"
	defaultDatabaseName  = "pulsecore.db"
	defaultExportDirName = "exports"
)

type Config struct {
	DBPath         string        `mapstructure:"db_path"`
	ExportDir      string        `mapstructure:"export_dir"`
	Listen         string        `mapstructure:"listen"`
	LogLevel       string        `mapstructure:"log_level"`
	PruneEvery     int           `mapstructure:"prune_every"`
	RecentCapacity int           `mapstructure:"recent_capacity"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	LowPower       bool          `mapstructure:"low_power"`
	PIDDir         string        `mapstructure:"pid_dir"`

	v *viper.Viper
}

// Load reads configuration from defaults, the config file, the environment
// (after loading .env) and command line flags, in increasing precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		args:       os.Args[1:],
		envPrefix:  DefaultEnvPrefix,
		dotenvPath: defaultDotenvPath,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := godotenv.Load(o.dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	flags := newFlagSet()
	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Flag names use dashes, config keys use underscores
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	configPath := o.configPath
	if configPath == "" {
		configPath, _ = flags.GetString("config")
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType(defaultConfigType)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType(defaultConfigType)
		v.AddConfigPath(filepath.Join(baseDir(), appName))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.DBPath == "" {
		return errFactory.New(errors.ErrInvalidDBPath)
	}
	if c.ExportDir == "" {
		return errFactory.New(errors.ErrInvalidExportDir)
	}
	if c.PruneEvery <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "prune_every must be positive")
	}
	if c.RecentCapacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "recent_capacity must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "probe_timeout must be positive")
	}

	return nil
}

// ConfigFile returns the path of the config file in use, or "" if none was found.
func (c *Config) ConfigFile() string {
	if c.v == nil {
		return ""
	}

	return c.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes. Invalid reloads are passed to onError and otherwise ignored.
// Without a config file there is nothing to watch and Watch returns at once.
func (c *Config) Watch(ctx context.Context, fn func(*Config), onError func(error)) {
	if c.ConfigFile() == "" {
		return
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		next, err := decode(c.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		fn(next)
	})
	c.v.WatchConfig()
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	flags.String("config", "", "Path to the TOML config file")
	flags.String("db-path", defaultDBPath(), "Path to the history database")
	flags.String("export-dir", defaultExportDir(), "Directory for CSV exports")
	flags.String("listen", DefaultListen, "Address of the local HTTP/WebSocket API")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	flags.Int("prune-every", DefaultPruneEvery, "Prune history every N telemetry ticks")
	flags.Int("recent-capacity", DefaultRecentCap, "Number of recent snapshots kept in memory")
	flags.Duration("probe-timeout", DefaultProbeTimeout, "Upper bound for a single ping probe")
	flags.Bool("low-power", false, "Start in low power mode")
	flags.String("pid-dir", os.TempDir(), "Directory for the PID file")

	return flags
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("export_dir", defaultExportDir())
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("prune_every", DefaultPruneEvery)
	v.SetDefault("recent_capacity", DefaultRecentCap)
	v.SetDefault("probe_timeout", DefaultProbeTimeout)
	v.SetDefault("low_power", false)
	v.SetDefault("pid_dir", os.TempDir())
}

func baseDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}

	return dir
}

func defaultDBPath() string {
	return filepath.Join(baseDir(), appName, defaultDatabaseName)
}

func defaultExportDir() string {
	return filepath.Join(baseDir(), appName, defaultExportDirName)
}
