package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	StoreDriver    string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	CatalogFile    string   `mapstructure:"CATALOG_FILE"`
	KafkaBrokers   []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic     string   `mapstructure:"KAFKA_NOTIFICATION_TOPIC"`
	MetricsEnabled bool     `mapstructure:"METRICS_ENABLED"`
	TracingEnabled bool     `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint   string   `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampling  float64  `mapstructure:"TRACE_SAMPLE_RATIO"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CATALOG_FILE", "KAFKA_BROKERS",
	"KAFKA_NOTIFICATION_TOPIC", "METRICS_ENABLED", "TRACING_ENABLED",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "TRACE_SAMPLE_RATIO",
}

// Load reads configuration from the environment and an optional .env file,
// then validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "carebridge.notifications")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACE_SAMPLE_RATIO", 1.0)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts either an already decoded list or a comma separated
// environment value. Entries are trimmed and blanks dropped.
func splitList(decoded []string, raw string) []string {
	parts := decoded
	if len(parts) <= 1 {
		parts = strings.Split(raw, ",")
	}
	var out []string
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q is not allowed in production", StoreMemory)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMemory, c.StoreDriver)
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
		return fmt.Errorf("one of AUTH_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER is required outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY (HMAC) is not allowed in production; configure AUTH_JWKS_URL")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_NOTIFICATION_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.TracingEnabled {
		if c.OTLPEndpoint == "" {
			return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when TRACING_ENABLED is set")
		}
		if c.TraceSampling < 0 || c.TraceSampling > 1 {
			return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %g", c.TraceSampling)
		}
	}
	return nil
}
