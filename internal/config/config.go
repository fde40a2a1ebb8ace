package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"attentrack/internal/experiment"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	SocketPath     string   `mapstructure:"socket_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	Driver         string        `mapstructure:"driver"` // "sqlite", "mongo" or "redis"
	SQLitePath     string        `mapstructure:"sqlite_path"`
	MongoURI       string        `mapstructure:"mongo_uri"`
	MongoDatabase  string        `mapstructure:"mongo_database"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

type SerialConfig struct {
	Port       string `mapstructure:"port"` // empty disables the indicator device
	BaudRate   int    `mapstructure:"baud_rate"`
	OnCommand  string `mapstructure:"on_command"`
	OffCommand string `mapstructure:"off_command"`
}

type ExperimentConfig struct {
	SuccessDuration       time.Duration `mapstructure:"success_duration"`
	OmissionWindow        time.Duration `mapstructure:"omission_window"`
	DividedOmissionWindow time.Duration `mapstructure:"divided_omission_window"`
	SelectiveRounds       [][]int       `mapstructure:"selective_rounds"`
}

type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// Warnings collects the corrections applied while loading. They are
	// logged once the logger exists.
	Warnings []string `mapstructure:"-"`

	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	d := experiment.DefaultSettings()

	v.SetDefault("server.address", "localhost:4000")
	v.SetDefault("server.socket_path", "/tmp/attentrack.sock")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "attentrack.db")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "attentrack")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.persist_timeout", 5*time.Second)

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.on_command", "LED_ON")
	v.SetDefault("serial.off_command", "LED_OFF")

	v.SetDefault("experiment.success_duration", d.SuccessDuration)
	v.SetDefault("experiment.omission_window", d.OmissionWindow)
	v.SetDefault("experiment.divided_omission_window", d.DividedOmissionWindow)
	v.SetDefault("experiment.selective_rounds", d.DefaultRounds)

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)
}

// LoadConfig reads configPath, or config.yaml from the usual search paths
// when configPath is empty. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/attentrack")
		v.AddConfigPath("/etc/attentrack/")
	}

	v.SetEnvPrefix("ATTENTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var warnings []string
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			warnings = append(warnings, "Config file not found, using defaults.")
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Warnings = append(warnings, cfg.Warnings...)
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.v = v
	cfg.normalize()
	return &cfg, nil
}

// normalize clamps invalid values back to defaults and records a warning for
// each correction.
func (c *Config) normalize() {
	d := experiment.DefaultSettings()
	warn := func(format string, args ...interface{}) {
		c.Warnings = append(c.Warnings, fmt.Sprintf("Warning: "+format, args...))
	}

	switch c.Storage.Driver {
	case "sqlite", "mongo", "redis":
	default:
		warn("invalid storage.driver '%s', defaulting to 'sqlite'", c.Storage.Driver)
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.PersistTimeout <= 0 {
		warn("storage.persist_timeout must be positive, setting to 5s")
		c.Storage.PersistTimeout = 5 * time.Second
	}
	if c.Serial.BaudRate <= 0 {
		warn("serial.baud_rate %d invalid, setting to 9600", c.Serial.BaudRate)
		c.Serial.BaudRate = 9600
	}

	e := &c.Experiment
	if e.SuccessDuration <= 0 {
		warn("experiment.success_duration too low, setting to %s", d.SuccessDuration)
		e.SuccessDuration = d.SuccessDuration
	}
	if e.OmissionWindow < e.SuccessDuration {
		warn("experiment.omission_window shorter than success_duration, setting to %s", d.OmissionWindow)
		e.OmissionWindow = d.OmissionWindow
	}
	if e.DividedOmissionWindow < 2*e.SuccessDuration {
		warn("experiment.divided_omission_window cannot fit two sustained runs, setting to %s", 2*e.OmissionWindow)
		e.DividedOmissionWindow = 2 * e.OmissionWindow
	}
	if err := (experiment.Config{Targets: []experiment.Region{{}}, Rounds: e.SelectiveRounds}).Validate(); err != nil {
		warn("experiment.selective_rounds invalid (%v), using defaults", err)
		e.SelectiveRounds = d.DefaultRounds
	}
}

// Settings converts the experiment section into controller settings.
func (c *Config) Settings() experiment.Settings {
	return experiment.Settings{
		SuccessDuration:       c.Experiment.SuccessDuration,
		OmissionWindow:        c.Experiment.OmissionWindow,
		DividedOmissionWindow: c.Experiment.DividedOmissionWindow,
		DefaultRounds:         c.Experiment.SelectiveRounds,
	}
}

// Watch reloads the file on every change and passes the new configuration to
// onChange. Reloads that fail to decode are reported through onError.
func (c *Config) Watch(onChange func(*Config), onError func(error)) {
	if c.v == nil {
		return
	}
	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		next, err := decode(c.v)
		if err != nil {
			onError(err)
			return
		}
		onChange(next)
	})
	c.v.WatchConfig()
}
