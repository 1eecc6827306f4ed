package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SCHEDULER"

const (
	PublisherRedis = "redis"
	PublisherKafka = "kafka"
)

type Config struct {
	Database  Database
	Redis     Redis
	Kafka     Kafka
	Publisher Publisher
	Daemon    Daemon
	Settings  Settings
}

type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	DSN      string
}

type Redis struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Publisher struct {
	Driver string
}

type Daemon struct {
	MaxTimeout           time.Duration
	RetryBackoff         time.Duration
	ListenerMinReconnect time.Duration
	ListenerMaxReconnect time.Duration
}

type Settings struct {
	Debug       bool
	Timezone    string
	LogToFile   bool
	LogsDir     string
	MetricsAddr string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.database.host", "localhost")
	v.SetDefault("service.database.port", 5432)
	v.SetDefault("service.database.user", "postgres")
	v.SetDefault("service.database.name", "game_scheduler")
	v.SetDefault("service.database.sslmode", "disable")

	v.SetDefault("service.redis.host", "localhost")
	v.SetDefault("service.redis.port", 6379)
	v.SetDefault("service.redis.db", 0)
	v.SetDefault("service.redis.channel", "game.notification_due")

	v.SetDefault("service.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("service.kafka.topic", "game.notification_due")

	v.SetDefault("publisher.driver", PublisherRedis)

	v.SetDefault("daemon.max-timeout", 900*time.Second)
	v.SetDefault("daemon.retry-backoff", 5*time.Second)
	v.SetDefault("daemon.listener.min-reconnect", 10*time.Second)
	v.SetDefault("daemon.listener.max-reconnect", time.Minute)

	v.SetDefault("settings.debug", false)
	v.SetDefault("settings.timezone", "UTC")
	v.SetDefault("settings.log-to-file", false)
	v.SetDefault("settings.logs-dir", "logs")
	v.SetDefault("settings.metrics-addr", ":9090")
}

// Load reads config.yaml from the given directories (current directory when none),
// a .env file when present and SCHEDULER_* environment overrides, e.g.
// SCHEDULER_SERVICE_DATABASE_HOST or SCHEDULER_DAEMON_MAX_TIMEOUT.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Database: Database{
			Host:     v.GetString("service.database.host"),
			Port:     v.GetInt("service.database.port"),
			User:     v.GetString("service.database.user"),
			Password: v.GetString("service.database.password"),
			Name:     v.GetString("service.database.name"),
			SSLMode:  v.GetString("service.database.sslmode"),
			DSN:      v.GetString("service.database.dsn"),
		},
		Redis: Redis{
			Host:     v.GetString("service.redis.host"),
			Port:     v.GetInt("service.redis.port"),
			Password: v.GetString("service.redis.password"),
			DB:       v.GetInt("service.redis.db"),
			Channel:  v.GetString("service.redis.channel"),
		},
		Kafka: Kafka{
			Brokers: splitList(v.GetStringSlice("service.kafka.brokers")),
			Topic:   v.GetString("service.kafka.topic"),
		},
		Publisher: Publisher{
			Driver: strings.ToLower(v.GetString("publisher.driver")),
		},
		Daemon: Daemon{
			MaxTimeout:           v.GetDuration("daemon.max-timeout"),
			RetryBackoff:         v.GetDuration("daemon.retry-backoff"),
			ListenerMinReconnect: v.GetDuration("daemon.listener.min-reconnect"),
			ListenerMaxReconnect: v.GetDuration("daemon.listener.max-reconnect"),
		},
		Settings: Settings{
			Debug:       v.GetBool("settings.debug"),
			Timezone:    v.GetString("settings.timezone"),
			LogToFile:   v.GetBool("settings.log-to-file"),
			LogsDir:     v.GetString("settings.logs-dir"),
			MetricsAddr: v.GetString("settings.metrics-addr"),
		},
	}
}

// splitList also accepts comma separated values, which is how lists arrive
// from environment variables
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Daemon.MaxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("daemon.max-timeout must be positive, got %s", c.Daemon.MaxTimeout))
	}
	if c.Daemon.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("daemon.retry-backoff must be positive, got %s", c.Daemon.RetryBackoff))
	}
	if c.Daemon.ListenerMinReconnect > c.Daemon.ListenerMaxReconnect {
		errs = append(errs, errors.New("daemon.listener.min-reconnect is greater than max-reconnect"))
	}
	switch c.Publisher.Driver {
	case PublisherRedis:
	case PublisherKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("service.kafka.brokers is required for the kafka publisher"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("service.kafka.topic is required for the kafka publisher"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown publisher.driver %q", c.Publisher.Driver))
	}
	if _, err := time.LoadLocation(c.Settings.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("settings.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the configured timezone used for log timestamps
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Settings.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
