package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the configuration for the visits service
type Config struct {
	// Postgres configuration
	PostgresHost               string
	PostgresPort               int
	PostgresUser               string
	PostgresPassword           string
	PostgresDB                 string
	PostgresSSLMode            string
	PostgresMaxConnections     int
	PostgresMaxIdleConnections int
	PostgresConnMaxLifetime    time.Duration

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// MQTT configuration (recording ingest events)
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Service configuration
	ServiceName string
	APIPort     int
	LogLevel    string

	// Visit engine configuration
	TaxonomyPath       string
	DefaultAIModel     string
	VisitGapSeconds    int
	MaxPageSize        int
	MaxPage            int
	RecordingCap       int
	DensitySampleSize  int
	DensityCacheTTLMin int
	NameCacheTTLMin    int
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "trapline",
		PostgresPassword:           "",
		PostgresDB:                 "trapline",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     10,
		PostgresMaxIdleConnections: 5,
		PostgresConnMaxLifetime:    30 * time.Minute,
		RedisHost:                  "localhost",
		RedisPort:                  6379,
		RedisPassword:              "",
		RedisDB:                    0,
		MQTTBroker:                 "localhost",
		MQTTPort:                   1883,
		MQTTUser:                   "",
		MQTTPassword:               "",
		MQTTClientID:               "",
		ServiceName:                "visits-api",
		APIPort:                    3040,
		LogLevel:                   "info",
		TaxonomyPath:               "taxonomy.yaml",
		DefaultAIModel:             "Master",
		VisitGapSeconds:            600,
		MaxPageSize:                100,
		MaxPage:                    10000,
		RecordingCap:               1000,
		DensitySampleSize:          500,
		DensityCacheTTLMin:         360,
		NameCacheTTLMin:            60,
	}
}

// LoadFromEnv loads configuration from environment variables with TRAPLINE_ prefix
func (c *Config) LoadFromEnv() {
	// Postgres configuration
	if v := os.Getenv("TRAPLINE_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("TRAPLINE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("TRAPLINE_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("TRAPLINE_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("TRAPLINE_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("TRAPLINE_POSTGRES_SSLMODE"); v != "" {
		c.PostgresSSLMode = v
	}
	if v := os.Getenv("TRAPLINE_POSTGRES_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PostgresMaxConnections = n
		}
	}

	// Redis configuration
	if v := os.Getenv("TRAPLINE_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("TRAPLINE_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("TRAPLINE_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("TRAPLINE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// MQTT configuration
	if v := os.Getenv("TRAPLINE_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("TRAPLINE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("TRAPLINE_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("TRAPLINE_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("TRAPLINE_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Service configuration
	if v := os.Getenv("TRAPLINE_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("TRAPLINE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.APIPort = port
		}
	}
	if v := os.Getenv("TRAPLINE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Visit engine configuration
	if v := os.Getenv("TRAPLINE_TAXONOMY_PATH"); v != "" {
		c.TaxonomyPath = v
	}
	if v := os.Getenv("TRAPLINE_DEFAULT_AI_MODEL"); v != "" {
		c.DefaultAIModel = v
	}
	if v := os.Getenv("TRAPLINE_VISIT_GAP_SECONDS"); v != "" {
		if gap, err := strconv.Atoi(v); err == nil {
			c.VisitGapSeconds = gap
		}
	}
	if v := os.Getenv("TRAPLINE_RECORDING_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecordingCap = n
		}
	}
	if v := os.Getenv("TRAPLINE_DENSITY_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DensitySampleSize = n
		}
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	// Postgres flags
	pflag.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	pflag.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	pflag.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres username")
	pflag.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	pflag.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	pflag.StringVar(&c.PostgresSSLMode, "postgres-sslmode", c.PostgresSSLMode, "Postgres SSL mode")

	// Redis flags
	pflag.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	pflag.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	pflag.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	pflag.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// MQTT flags
	pflag.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	pflag.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	pflag.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	pflag.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	pflag.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Service flags
	pflag.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	pflag.IntVar(&c.APIPort, "api-port", c.APIPort, "HTTP API port")
	pflag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Visit engine flags
	pflag.StringVar(&c.TaxonomyPath, "taxonomy-path", c.TaxonomyPath, "Path to the taxonomy YAML file")
	pflag.StringVar(&c.DefaultAIModel, "default-ai-model", c.DefaultAIModel, "Automatic classifier whose tags feed the primary classification")
	pflag.IntVar(&c.VisitGapSeconds, "visit-gap-seconds", c.VisitGapSeconds, "Maximum gap in seconds between recordings in the same visit")
	pflag.IntVar(&c.RecordingCap, "recording-cap", c.RecordingCap, "Maximum recordings fetched per device per page")
	pflag.IntVar(&c.DensitySampleSize, "density-sample-size", c.DensitySampleSize, "Recordings sampled when estimating visit density")

	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("Postgres host is required")
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("Postgres port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.TaxonomyPath == "" {
		return fmt.Errorf("Taxonomy path is required")
	}
	if c.DefaultAIModel == "" {
		return fmt.Errorf("Default AI model is required")
	}
	if c.VisitGapSeconds <= 0 {
		return fmt.Errorf("Visit gap must be positive")
	}
	if c.RecordingCap <= 0 {
		return fmt.Errorf("Recording cap must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// VisitGap returns the maximum gap between recordings in the same visit
func (c *Config) VisitGap() time.Duration {
	return time.Duration(c.VisitGapSeconds) * time.Second
}

// DensityCacheTTL returns the TTL for cached visit-density samples
func (c *Config) DensityCacheTTL() time.Duration {
	return time.Duration(c.DensityCacheTTLMin) * time.Minute
}

// NameCacheTTL returns the TTL for cached display names
func (c *Config) NameCacheTTL() time.Duration {
	return time.Duration(c.NameCacheTTLMin) * time.Minute
}

// PostgresConnectionString returns the Postgres DSN
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
