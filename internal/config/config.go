// Package config resolves client settings from defaults, an optional YAML
// profile, the environment and command-line flags. Later sources take
// precedence over earlier ones.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadEnv.
const (
	EnvEndpoint = "COUCHDB_ENDPOINT"
	EnvUser     = "COUCHDB_USER"
	EnvPassword = "COUCHDB_PASSWORD"
	EnvMode     = "COUCH_RUNTIME_MODE"
	EnvConfig   = "COUCH_CONFIG"
	EnvSeed     = "COUCH_MOCK_SEED"
	EnvLogLevel = "COUCH_LOG_LEVEL"
	EnvTimeout  = "COUCH_TIMEOUT"
)

// Runtime modes.
const (
	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"
)

// DefaultEndpoint is the address of a local server with default settings.
const DefaultEndpoint = "http://127.0.0.1:5984"

// Config holds the settings shared by the library bootstrap and the tools.
type Config struct {
	Endpoint    string        `yaml:"endpoint"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Mode        string        `yaml:"mode"`
	Timeout     time.Duration `yaml:"timeout"`
	LogLevel    string        `yaml:"log_level"`
	Compression bool          `yaml:"compression"`
	// Seed is a seed file loaded into the in-memory store in mock mode.
	Seed string `yaml:"seed"`
}

// LoadDefaults populates c with the defaults.
func (c *Config) LoadDefaults() {
	*c = Config{
		Endpoint: DefaultEndpoint,
		Mode:     ModeAuto,
		Timeout:  30 * time.Second,
		LogLevel: "info",
	}
}

// LoadFile overlays c with the non-empty values of a YAML profile.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc Config
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	c.merge(fc)
	return nil
}

// LoadEnv overlays c with the environment variables that are set.
func (c *Config) LoadEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	ec := Config{
		Endpoint: strings.TrimSpace(getenv(EnvEndpoint)),
		Username: getenv(EnvUser),
		Password: getenv(EnvPassword),
		Mode:     strings.ToLower(strings.TrimSpace(getenv(EnvMode))),
		LogLevel: strings.TrimSpace(getenv(EnvLogLevel)),
		Seed:     strings.TrimSpace(getenv(EnvSeed)),
	}
	if raw := strings.TrimSpace(getenv(EnvTimeout)); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTimeout, err)
		}
		ec.Timeout = d
	}
	c.merge(ec)
	return nil
}

// Validate checks the resolved settings.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeHTTP, ModeMock:
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	return nil
}

func (c *Config) merge(o Config) {
	if o.Endpoint != "" {
		c.Endpoint = o.Endpoint
	}
	if o.Username != "" {
		c.Username = o.Username
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.Compression {
		c.Compression = true
	}
	if o.Seed != "" {
		c.Seed = o.Seed
	}
}

// FromEnv resolves defaults, the profile named by COUCH_CONFIG and the
// environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := strings.TrimSpace(getenv(EnvConfig)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Flags binds the settings to a flag set.
type Flags struct {
	fs     *pflag.FlagSet
	values Config
	path   string
}

// AddFlags registers the configuration flags on fs.
func AddFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.path, "config", "", "YAML profile to load (env "+EnvConfig+")")
	fs.StringVar(&f.values.Endpoint, "endpoint", "", "server URL (env "+EnvEndpoint+", default "+DefaultEndpoint+")")
	fs.StringVarP(&f.values.Username, "user", "u", "", "basic auth user (env "+EnvUser+")")
	fs.StringVar(&f.values.Password, "password", "", "basic auth password (env "+EnvPassword+")")
	fs.StringVar(&f.values.Mode, "mode", "", "runtime mode: auto, http or mock (env "+EnvMode+")")
	fs.DurationVar(&f.values.Timeout, "timeout", 0, "per-request timeout (default 30s)")
	fs.StringVar(&f.values.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.BoolVar(&f.values.Compression, "compress", false, "request gzip compressed responses")
	fs.StringVar(&f.values.Seed, "seed", "", "seed file for mock mode (env "+EnvSeed+")")
	return f
}

// Load resolves defaults, profile, environment and then the flags that were
// set on the command line.
func (f *Flags) Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := &Config{}
	cfg.LoadDefaults()

	path := strings.TrimSpace(getenv(EnvConfig))
	if f.fs.Changed("config") {
		path = f.path
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadEnv(getenv); err != nil {
		return nil, err
	}

	var changed Config
	f.fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "endpoint":
			changed.Endpoint = f.values.Endpoint
		case "user":
			changed.Username = f.values.Username
		case "password":
			changed.Password = f.values.Password
		case "mode":
			changed.Mode = strings.ToLower(f.values.Mode)
		case "timeout":
			changed.Timeout = f.values.Timeout
		case "log-level":
			changed.LogLevel = f.values.LogLevel
		case "compress":
			changed.Compression = f.values.Compression
		case "seed":
			changed.Seed = f.values.Seed
		}
	})
	cfg.merge(changed)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("5s") and plain seconds ("5").
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
