// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Configuration loading from file, environment and defaults.

package control

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HIOLOAD_NAT_UDP_LISTEN.
const EnvPrefix = "HIOLOAD_NAT"

// Config is the complete service configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	UDP     ProxyConfig   `mapstructure:"udp" yaml:"udp"`
	TCP     ProxyConfig   `mapstructure:"tcp" yaml:"tcp"`
	NAT     NATConfig     `mapstructure:"nat" yaml:"nat"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig selects level, format and destination of logs.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ProxyConfig configures one protocol proxy.
type ProxyConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen         string        `mapstructure:"listen" yaml:"listen" validate:"required,listen_addr"`
	MaxSessions    int           `mapstructure:"max_sessions" yaml:"max_sessions" validate:"min=1"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout" validate:"gt=0s"`
}

// NATConfig configures the NAT table.
type NATConfig struct {
	Capacity      int           `mapstructure:"capacity" yaml:"capacity" validate:"min=1"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0s"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gte=0s"`
}

// MetricsConfig configures the metrics and debug HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"omitempty,listen_addr"`
}

// ListenAddr parses Listen.
func (c ProxyConfig) ListenAddr() (netip.AddrPort, error) {
	return netip.ParseAddrPort(c.Listen)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("udp.enabled", true)
	v.SetDefault("udp.listen", "0.0.0.0:7200")
	v.SetDefault("udp.max_sessions", 60)
	v.SetDefault("udp.session_timeout", 60*time.Second)

	v.SetDefault("tcp.enabled", true)
	v.SetDefault("tcp.listen", "0.0.0.0:7201")
	v.SetDefault("tcp.max_sessions", 60)
	v.SetDefault("tcp.session_timeout", 60*time.Second)

	v.SetDefault("nat.capacity", 60)
	v.SetDefault("nat.ttl", 60*time.Second)
	v.SetDefault("nat.sweep_interval", 0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9200")
}

// Load loads configuration from file, environment, and defaults.
//
// Precedence, highest first: HIOLOAD_NAT_* environment variables, the
// config file, defaults. An empty path or a missing file yields defaults.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// readConfigFile reports whether a config file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if v.ConfigFileUsed() == "" {
		return false, nil
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		_, err := netip.ParseAddrPort(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
