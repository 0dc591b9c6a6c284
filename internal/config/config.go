// Package config loads powerctl settings from defaults, a TOML file,
// POWERCTL_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TheAlpha16/powerctl-go"
)

const (
	DefaultEndpoint       = "ws://192.168.1.73:8080/"
	DefaultConnectTimeout = 10 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
	DefaultLinger         = 0

	envPrefix  = "POWERCTL"
	configName = "powerctl"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Endpoint       string        `mapstructure:"endpoint"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout"`
	Linger         time.Duration `mapstructure:"linger"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReplyChannel   string        `mapstructure:"reply_channel"`
	Debug          bool          `mapstructure:"debug"`
	Verbose        bool          `mapstructure:"verbose"`

	// Commands are the positional arguments, sent in order
	Commands []powerctl.Command `mapstructure:"-"`
}

// ConfigError represents an invalid configuration value
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: %s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	return msg + ": " + e.Message
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// flagKeys maps flag names to configuration keys
var flagKeys = map[string]string{
	"endpoint":        "endpoint",
	"connect-timeout": "connect_timeout",
	"close-timeout":   "close_timeout",
	"linger":          "linger",
	"ping-interval":   "ping_interval",
	"reply-channel":   "reply_channel",
	"debug":           "debug",
	"verbose":         "verbose",
}

// NewFlagSet returns the command-line flags understood by Load
func NewFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("powerctl", flag.ContinueOnError)

	fs.StringP("endpoint", "e", DefaultEndpoint, "Remote endpoint URI (ws://, wss://, redis://, valkey://)")
	fs.StringP("config", "c", "", "Path to a TOML config file")
	fs.Duration("connect-timeout", DefaultConnectTimeout, "Time allowed for the connection to be established")
	fs.Duration("close-timeout", DefaultCloseTimeout, "Time allowed for a graceful close")
	fs.Duration("linger", DefaultLinger, "Keep the connection open this long to print replies")
	fs.Duration("ping-interval", 0, "WebSocket keepalive ping interval (0 disables)")
	fs.String("reply-channel", "", "Valkey channel carrying replies (default <channel>:replies)")
	fs.Bool("debug", false, "Enable debug logging")
	fs.BoolP("verbose", "v", false, "Enable verbose logging")

	return fs
}

// Load parses args and merges every configuration source
func Load(args []string) (*Config, error) {
	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("connect_timeout", DefaultConnectTimeout)
	v.SetDefault("close_timeout", DefaultCloseTimeout)
	v.SetDefault("linger", time.Duration(DefaultLinger))
	v.SetDefault("ping_interval", time.Duration(0))
	v.SetDefault("reply_channel", "")
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, arg := range fs.Args() {
		cfg.Commands = append(cfg.Commands, powerctl.Command(arg))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *flag.FlagSet) error {
	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", configName))
	}
	v.AddConfigPath(filepath.Join("/etc", configName))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// Validate checks the endpoint, timeouts and commands
func (c *Config) Validate() error {
	if _, err := powerctl.LookupDialer(c.Endpoint); err != nil {
		return &ConfigError{Field: "endpoint", Value: c.Endpoint, Message: err.Error()}
	}
	if c.ConnectTimeout <= 0 {
		return &ConfigError{Field: "connect_timeout", Value: c.ConnectTimeout, Message: "must be positive"}
	}
	if c.CloseTimeout <= 0 {
		return &ConfigError{Field: "close_timeout", Value: c.CloseTimeout, Message: "must be positive"}
	}
	if c.Linger < 0 {
		return &ConfigError{Field: "linger", Value: c.Linger, Message: "must not be negative"}
	}
	if c.PingInterval < 0 {
		return &ConfigError{Field: "ping_interval", Value: c.PingInterval, Message: "must not be negative"}
	}
	if len(c.Commands) == 0 {
		return &ConfigError{Field: "command", Message: "at least one command is required"}
	}
	for _, cmd := range c.Commands {
		if err := cmd.Validate(); err != nil {
			return &ConfigError{Field: "command", Value: cmd, Message: err.Error()}
		}
	}
	return nil
}
