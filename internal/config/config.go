package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of the service configuration file.
const MaxConfigFileBytes = 64 * 1024

// GPIOConfig selects the GPIO backend.
type GPIOConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // mock, rpio or cdev
	Chip   string `mapstructure:"chip" yaml:"chip"`     // cdev only, e.g. gpiochip0
}

// DetectionConfig selects how the headlight state is sensed.
type DetectionConfig struct {
	Mode           string        `mapstructure:"mode" yaml:"mode"`                   // pin or bus
	BusInterface   string        `mapstructure:"bus_interface" yaml:"bus_interface"` // SocketCAN interface
	SilenceTimeout time.Duration `mapstructure:"silence_timeout" yaml:"silence_timeout"`
}

// LoopConfig holds the control loop timings.
type LoopConfig struct {
	Period                time.Duration `mapstructure:"period" yaml:"period"`
	StatusInterval        time.Duration `mapstructure:"status_interval" yaml:"status_interval"`
	PositionFlushInterval time.Duration `mapstructure:"position_flush_interval" yaml:"position_flush_interval"`
	SettleDelay           time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	AnimationStartDelay   time.Duration `mapstructure:"animation_start_delay" yaml:"animation_start_delay"`
}

// StoreConfig selects where the configuration and position records live.
type StoreConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // file, redis or memory
	Path     string `mapstructure:"path" yaml:"path"`
	RedisKey string `mapstructure:"redis_key" yaml:"redis_key"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // empty disables Redis
	DB   int    `mapstructure:"db" yaml:"db"`
}

// TransportConfig enables the command carriers. A zero port or empty
// name disables the carrier.
type TransportConfig struct {
	WebPort              int    `mapstructure:"web_port" yaml:"web_port"`
	SerialPort           string `mapstructure:"serial_port" yaml:"serial_port"`
	SerialBaud           int    `mapstructure:"serial_baud" yaml:"serial_baud"`
	RedisCommandKey      string `mapstructure:"redis_command_key" yaml:"redis_command_key"`
	RedisResponseChannel string `mapstructure:"redis_response_channel" yaml:"redis_response_channel"`
	RedisStatusKey       string `mapstructure:"redis_status_key" yaml:"redis_status_key"`
}

// Config aggregates the service configuration. The motion configuration
// (pins, travel, timings) is not here: it is persisted by the controller
// and changed at runtime with config_set.
type Config struct {
	DebugLevel int             `mapstructure:"debug_level" yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	GPIO       GPIOConfig      `mapstructure:"gpio" yaml:"gpio"`
	Detection  DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Loop       LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Store      StoreConfig     `mapstructure:"store" yaml:"store"`
	Redis      RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Transport  TransportConfig `mapstructure:"transport" yaml:"transport"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug_level", 1)
	v.SetDefault("gpio.driver", "mock")
	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("detection.mode", "pin")
	v.SetDefault("detection.bus_interface", "can0")
	v.SetDefault("detection.silence_timeout", "5s")
	v.SetDefault("loop.period", "1ms")
	v.SetDefault("loop.status_interval", "500ms")
	v.SetDefault("loop.position_flush_interval", "2s")
	v.SetDefault("loop.settle_delay", "5ms")
	v.SetDefault("loop.animation_start_delay", "100ms")
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "/var/lib/winkgo/state.bin")
	v.SetDefault("store.redis_key", "winkgo:state")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("transport.web_port", 8080)
	v.SetDefault("transport.serial_port", "")
	v.SetDefault("transport.serial_baud", 115200)
	v.SetDefault("transport.redis_command_key", "winkgo:commands")
	v.SetDefault("transport.redis_response_channel", "winkgo:responses")
	v.SetDefault("transport.redis_status_key", "winkgo:status")
}

// ValidateConfigPath rejects paths that are empty, climb out of their
// directory with "..", or do not name a YAML file.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
	default:
		return fmt.Errorf("config path %q: expected a .yaml file", path)
	}
	return nil
}

// Load reads the YAML file at path (optional: "" means defaults only)
// and applies WINKGO_* environment overrides, e.g.
// WINKGO_TRANSPORT_WEB_PORT=9090.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WINKGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := ValidateConfigPath(path); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if info.Size() > MaxConfigFileBytes {
			return nil, fmt.Errorf("config file %s is %d bytes, limit %d", path, info.Size(), MaxConfigFileBytes)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.DebugLevel < 0 || c.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.DebugLevel)
	}
	switch c.GPIO.Driver {
	case "mock", "rpio", "cdev":
	default:
		return fmt.Errorf("gpio.driver %q: expected mock, rpio or cdev", c.GPIO.Driver)
	}
	switch c.Detection.Mode {
	case "pin", "bus":
	default:
		return fmt.Errorf("detection.mode %q: expected pin or bus", c.Detection.Mode)
	}
	if c.Detection.Mode == "bus" && c.Detection.BusInterface == "" {
		return errors.New("detection.bus_interface is required in bus mode")
	}
	for name, d := range map[string]time.Duration{
		"detection.silence_timeout":    c.Detection.SilenceTimeout,
		"loop.period":                  c.Loop.Period,
		"loop.status_interval":         c.Loop.StatusInterval,
		"loop.position_flush_interval": c.Loop.PositionFlushInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, d)
		}
	}
	if c.Loop.SettleDelay < 0 || c.Loop.AnimationStartDelay < 0 {
		return errors.New("loop delays must not be negative")
	}
	switch c.Store.Driver {
	case "file":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the file store")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis store")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q: expected file, redis or memory", c.Store.Driver)
	}
	if c.Transport.WebPort < 0 || c.Transport.WebPort > 65535 {
		return fmt.Errorf("transport.web_port out of range: %d", c.Transport.WebPort)
	}
	if c.Transport.SerialPort != "" && c.Transport.SerialBaud <= 0 {
		return errors.New("transport.serial_baud must be > 0")
	}
	return nil
}

// WebAddr returns the listen address, or "" when the web carrier is off.
func (c *Config) WebAddr() string {
	if c.Transport.WebPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Transport.WebPort)
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	return string(out), nil
}
