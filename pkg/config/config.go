package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/electrowave/pkg/utils"
)

type Config struct {
	Env      string       `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTP         `yaml:"http"`
	Postgres PG           `yaml:"postgres"`
	Redis    Redis        `yaml:"redis"`
	Kafka    Kafka        `yaml:"kafka"`
	Limiter  Limiter      `yaml:"limiter"`
	Auth     Auth         `yaml:"auth"`
	Tracing  Tracing      `yaml:"tracing"`
	Logger   LoggerConfig `yaml:"logger"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type PG struct {
	URL           string `yaml:"url" env:"DB_URL"`
	MigrateOnBoot bool   `yaml:"migrate_on_boot" env:"DB_MIGRATE" env-default:"true"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"10m"`
}

type Kafka struct {
	Brokers        []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	OrderTopic     string        `yaml:"order_topic" env-default:"order_events"`
	ShippingTopic  string        `yaml:"shipping_topic" env-default:"shipping_events"`
	ConsumerGroup  string        `yaml:"consumer_group" env-default:"order-service-group"`
	OutboxInterval time.Duration `yaml:"outbox_interval" env-default:"500ms"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Tracing struct {
	Endpoint       string  `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
	SampleRatio    float64 `yaml:"sample_ratio" env:"TRACE_SAMPLE_RATIO" env-default:"1"`
	Insecure       bool    `yaml:"insecure" env:"TRACE_INSECURE" env-default:"true"`
	ServiceVersion string  `yaml:"service_version" env:"SERVICE_VERSION" env-default:"dev"`
}

type Auth struct {
	AccessSecret string `yaml:"access_secret" env:"ACCESS_SECRET"`
}

// Load reads the YAML file at path when it exists and always applies
// environment overrides on top.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("error reading env: %w", err)
		}
	} else {
		return nil, err
	}

	cfg.Logger.Env = cfg.Env
	if cfg.Postgres.URL == "" {
		return nil, errors.New("postgres url is required")
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	return cfg
}
