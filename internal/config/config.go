package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TransportNATS  = "nats"
	TransportKafka = "kafka"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Log      LogConfig      `yaml:"log"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Events   EventsConfig   `yaml:"events"`
}

type AppConfig struct {
	Name            string        `yaml:"name"`
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

type NATSConfig struct {
	Servers        []string      `yaml:"servers"`
	QueueGroup     string        `yaml:"queue_group"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	GroupID         string        `yaml:"group_id"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
}

// EventsConfig selects where payment.succeeded events are consumed from.
type EventsConfig struct {
	Transport string `yaml:"transport"`
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:            "order-service",
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
		},
		NATS: NATSConfig{
			Servers:        []string{"nats://localhost:4222"},
			QueueGroup:     "orders-ms",
			RequestTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:           "payment.succeeded",
			GroupID:         "order-service",
			RetryBackoff:    500 * time.Millisecond,
			MaxRetryBackoff: 30 * time.Second,
		},
		Events: EventsConfig{
			Transport: TransportNATS,
		},
	}
}

// NewConfig loads the file named by CONFIG_PATH, if any.
func NewConfig() (*Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then a .env file, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.Log.Level, "LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")

	setList(&cfg.NATS.Servers, "NATS_SERVERS")
	setList(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&cfg.Events.Transport, "EVENTS_TRANSPORT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (c *Config) Validate() error {
	var missing []string
	if c.Postgres.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Postgres.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Postgres.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: %s required", strings.Join(missing, ", "))
	}

	if len(c.NATS.Servers) == 0 {
		return errors.New("config: at least one NATS server is required")
	}

	switch c.Events.Transport {
	case TransportNATS:
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("config: kafka events transport requires KAFKA_BROKERS and a topic")
		}
		if c.Kafka.RetryBackoff <= 0 || c.Kafka.MaxRetryBackoff < c.Kafka.RetryBackoff {
			return fmt.Errorf("config: kafka retry backoff %s must be positive and at most %s", c.Kafka.RetryBackoff, c.Kafka.MaxRetryBackoff)
		}
	default:
		return fmt.Errorf("config: unknown events transport %q", c.Events.Transport)
	}

	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("config: postgres min_conns %d exceeds max_conns %d", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
}

// DSN is the keyword/value connection string for the order_service schema.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=order_service,public",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}
