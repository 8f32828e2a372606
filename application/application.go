package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/perceptlink-go/internal/network/acceptor"
	"github.com/lk2023060901/perceptlink-go/pkg/log"
	"github.com/lk2023060901/perceptlink-go/pkg/util/merr"
	"github.com/lk2023060901/perceptlink-go/pkg/util/viper"
)

const (
	// DefaultConfigPath is used when neither the env var nor --config is given.
	DefaultConfigPath = "./config.yaml"
	// ConfigPathEnv overrides DefaultConfigPath.
	ConfigPathEnv = "PERCEPTLINK_CONFIG_FILE_PATH"
)

// Application is the runtime container shared by the perceptlink binaries.
// It owns configuration and the loggers built from it.
type Application struct {
	cfg        *Config
	configPath string
	loggers    map[string]*log.MLogger
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run parses os.Args and initializes the application, see RunWithArgs.
func (a *Application) Run() error {
	return a.RunWithArgs(os.Args[1:])
}

// RunWithArgs loads configuration and initializes logging.
// The config file path is resolved with the following priority:
//  1. Default: ./config.yaml (silently skipped when missing)
//  2. Env: PERCEPTLINK_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
//
// Any key may additionally be overridden by PERCEPTLINK_<SECTION>_<KEY> env vars.
func (a *Application) RunWithArgs(args []string) error {
	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	a.cfg = cfg

	return a.initLogging()
}

// Config returns the loaded configuration, or the defaults before Run.
func (a *Application) Config() *Config {
	if a.cfg == nil {
		return DefaultConfig()
	}
	return a.cfg
}

// ConfigPath returns the config file actually loaded, empty if none.
func (a *Application) ConfigPath() string {
	return a.configPath
}

// Logger returns a named logger created from the "logging" section.
// If the name is unknown, it falls back to the global logger tagged with the name.
func (a *Application) Logger(name string) *log.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return log.With(log.FieldModule(name))
}

// resolveConfigPath returns the path and whether it was chosen explicitly.
func resolveConfigPath(args []string) (string, bool, error) {
	configPath, explicit := DefaultConfigPath, false

	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		configPath, explicit = envPath, true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", false, merr.WrapErrParameterMissing("--config", "missing value after --config")
			}
			configPath, explicit = args[i+1], true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath, explicit = val, true
			}
		}
	}
	return configPath, explicit, nil
}

// loadConfig resolves the config file path and loads it on top of the defaults.
func (a *Application) loadConfig(args []string) (*Config, error) {
	configPath, explicit, err := resolveConfigPath(args)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if _, statErr := os.Stat(configPath); statErr == nil || explicit {
		if err := v.LoadFile(configPath); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
		}
		a.configPath = configPath
	}

	cfg := DefaultConfig()
	// Slices decode by index into existing ones, so ports default only when unset.
	cfg.Listener.Ports = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if len(cfg.Listener.Ports) == 0 {
		cfg.Listener.Ports = acceptor.DefaultConfig().Ports
	}
	return cfg, nil
}

// initLogging replaces the global logger and builds the named module loggers.
func (a *Application) initLogging() error {
	logger, props, err := log.InitLogger(&a.cfg.Log)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	log.ReplaceGlobals(logger, props)

	if len(a.cfg.Logging) == 0 {
		return nil
	}
	a.loggers = make(map[string]*log.MLogger, len(a.cfg.Logging))
	for name, lc := range a.cfg.Logging {
		cfgCopy := lc
		logger, _, err := log.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &log.MLogger{Logger: logger.With(log.FieldModule(name))}
	}
	return nil
}
