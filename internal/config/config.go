package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the resolved runtime configuration: defaults, then the YAML file, then env.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	StoreDriver    string
	MySQLDSN       string
	PostgresURL    string
	DBMaxOpenConns int

	RedisAddr     string
	OrderCacheTTL time.Duration

	KafkaBrokers       []string
	KafkaLowStockTopic string

	MaxOrderQuantity int

	LogLevel     string
	LogFormat    string
	OTELEndpoint string
	ServiceName  string
}

type configFile struct {
	Server struct {
		HTTPAddr         string `yaml:"http_addr"`
		GRPCAddr         string `yaml:"grpc_addr"`
		MaxOrderQuantity int    `yaml:"max_order_quantity"`
	} `yaml:"server"`
	Store struct {
		Driver       string `yaml:"driver"`
		MySQLDSN     string `yaml:"mysql_dsn"`
		PostgresURL  string `yaml:"postgres_url"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"store"`
	Cache struct {
		RedisAddr  string `yaml:"redis_addr"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"cache"`
	Kafka struct {
		Brokers       []string `yaml:"brokers"`
		LowStockTopic string   `yaml:"low_stock_topic"`
	} `yaml:"kafka"`
	Observability struct {
		LogLevel     string `yaml:"log_level"`
		LogFormat    string `yaml:"log_format"`
		OTELEndpoint string `yaml:"otel_endpoint"`
		ServiceName  string `yaml:"service_name"`
	} `yaml:"observability"`
}

func Default() Config {
	return Config{
		HTTPAddr:           ":8080",
		GRPCAddr:           ":50051",
		StoreDriver:        DriverMySQL,
		MySQLDSN:           "root:root@tcp(localhost:3306)/keyshop?parseTime=true&loc=UTC",
		DBMaxOpenConns:     50,
		OrderCacheTTL:      time.Hour,
		KafkaLowStockTopic: "keyshop.low-stock",
		MaxOrderQuantity:   100,
		LogLevel:           "info",
		LogFormat:          "json",
		ServiceName:        "keyshop",
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	c.HTTPAddr = orString(f.Server.HTTPAddr, c.HTTPAddr)
	c.GRPCAddr = orString(f.Server.GRPCAddr, c.GRPCAddr)
	if f.Server.MaxOrderQuantity > 0 {
		c.MaxOrderQuantity = f.Server.MaxOrderQuantity
	}
	c.StoreDriver = orString(f.Store.Driver, c.StoreDriver)
	c.MySQLDSN = orString(f.Store.MySQLDSN, c.MySQLDSN)
	c.PostgresURL = orString(f.Store.PostgresURL, c.PostgresURL)
	if f.Store.MaxOpenConns > 0 {
		c.DBMaxOpenConns = f.Store.MaxOpenConns
	}
	c.RedisAddr = orString(f.Cache.RedisAddr, c.RedisAddr)
	if f.Cache.TTLSeconds > 0 {
		c.OrderCacheTTL = time.Duration(f.Cache.TTLSeconds) * time.Second
	}
	if len(f.Kafka.Brokers) > 0 {
		c.KafkaBrokers = f.Kafka.Brokers
	}
	c.KafkaLowStockTopic = orString(f.Kafka.LowStockTopic, c.KafkaLowStockTopic)
	c.LogLevel = orString(f.Observability.LogLevel, c.LogLevel)
	c.LogFormat = orString(f.Observability.LogFormat, c.LogFormat)
	c.OTELEndpoint = orString(f.Observability.OTELEndpoint, c.OTELEndpoint)
	c.ServiceName = orString(f.Observability.ServiceName, c.ServiceName)
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOrDefault("GRPC_ADDR", c.GRPCAddr)
	c.StoreDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORE_DRIVER", c.StoreDriver)))
	c.MySQLDSN = envOrDefault("MYSQL_DSN", c.MySQLDSN)
	c.PostgresURL = envOrDefault("POSTGRES_URL", c.PostgresURL)
	c.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", c.DBMaxOpenConns)
	c.RedisAddr = envOrDefault("REDIS_ADDR", c.RedisAddr)
	c.OrderCacheTTL = time.Duration(envInt("ORDER_CACHE_TTL_SECONDS", int(c.OrderCacheTTL.Seconds()))) * time.Second
	c.KafkaBrokers = envCSV("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaLowStockTopic = envOrDefault("KAFKA_LOW_STOCK_TOPIC", c.KafkaLowStockTopic)
	c.MaxOrderQuantity = envInt("MAX_ORDER_QUANTITY", c.MaxOrderQuantity)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)
	c.OTELEndpoint = envOrDefault("OTEL_ENDPOINT", c.OTELEndpoint)
	c.ServiceName = envOrDefault("OTEL_SERVICE_NAME", c.ServiceName)
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return errors.New("missing MYSQL_DSN")
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return errors.New("missing POSTGRES_URL")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MaxOrderQuantity <= 0 {
		return fmt.Errorf("MAX_ORDER_QUANTITY must be positive, got %d", c.MaxOrderQuantity)
	}
	if c.DBMaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.DBMaxOpenConns)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func orString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or unparsable values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
