// Package config loads seqorch's application configuration: logging and the
// process-level fallbacks that run manifests may leave unset.
//
// Values are layered, lowest precedence first: built-in defaults, an
// optional config file, SEQORCH_* environment variables, then runtime
// overrides passed to Load (typically from CLI flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable seqorch reads.
const EnvPrefix = "SEQORCH"

// Config is the application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	AWS       AWSConfig       `mapstructure:"aws"`
}

// LoggingConfig selects the log level and encoder profile.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// SchedulerConfig holds fallbacks for manifest scheduler settings.
type SchedulerConfig struct {
	// Shell runs local-scheduler scripts when the manifest names none.
	Shell string `mapstructure:"shell"`

	// PollInterval, when positive, replaces the manifest poll interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AWSConfig holds fallbacks for S3 report publishing.
type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// EnvSpec maps one environment variable onto a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the configuration and stores it for GetConfig. Each override
// map is applied on top of everything else; nested maps address nested keys.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. An empty path falls back to
// $SEQORCH_CONFIG, then the user config directory. Only the fallback
// location may be missing.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	explicit := path != "" || os.Getenv(EnvPrefix+"_CONFIG") != ""
	if path == "" {
		path = configFilePath()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		trimStringHook,
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Scheduler.PollInterval < 0 {
		return nil, fmt.Errorf("scheduler.poll_interval must not be negative")
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")
	v.SetDefault("scheduler.shell", "bash")
	v.SetDefault("scheduler.poll_interval", "0s")
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
}

// getEnvSpecs lists the supported environment variables.
func getEnvSpecs() []EnvSpec {
	specs := []EnvSpec{
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_PROFILE", Path: "logging.profile"},
		{Name: EnvPrefix + "_SHELL", Path: "scheduler.shell"},
		{Name: EnvPrefix + "_POLL_INTERVAL", Path: "scheduler.poll_interval"},
		{Name: EnvPrefix + "_AWS_REGION", Path: "aws.region"},
		{Name: EnvPrefix + "_AWS_PROFILE", Path: "aws.profile"},
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// configFilePath returns $SEQORCH_CONFIG, else <user config dir>/seqorch/config.yaml.
func configFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "seqorch", "config.yaml")
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func trimStringHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.String {
		return data, nil
	}
	return strings.TrimSpace(data.(string)), nil
}
