package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Detector  DetectorConfig  `json:"detector"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Security  SecurityConfig  `json:"security"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Recording RecordingConfig `json:"recording"`
	Logging   LoggingConfig   `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type DetectorConfig struct {
	BaseURL             string        `json:"base_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

type PipelineConfig struct {
	Workers           int           `json:"workers"`
	QueueSize         int           `json:"queue_size"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
	CommitInterval    int           `json:"commit_interval"`
	DedupeTTL         time.Duration `json:"dedupe_ttl"`
}

type SecurityConfig struct {
	JWTSecretKey   string        `json:"jwt_secret_key"`
	TokenExpiry    time.Duration `json:"token_expiry"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_connections"`
	MinConns int    `json:"min_connections"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type RecordingConfig struct {
	Dir        string `json:"dir"`
	DefaultFPS int    `json:"default_fps"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() *Config {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Detector: DetectorConfig{
			BaseURL:             getEnv("DETECTOR_BASE_URL", "http://localhost:5000"),
			Timeout:             getEnvAsDuration("DETECTOR_TIMEOUT", 30*time.Second),
			MaxRetries:          getEnvAsInt("DETECTOR_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("DETECTOR_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("DETECTOR_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:           getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:         getEnvAsInt("PIPELINE_QUEUE_SIZE", 100),
			ProcessingTimeout: getEnvAsDuration("PIPELINE_PROCESSING_TIMEOUT", 10*time.Second),
			CommitInterval:    getEnvAsInt("PIPELINE_COMMIT_INTERVAL", 5),
			DedupeTTL:         getEnvAsDuration("PIPELINE_DEDUPE_TTL", 2*time.Second),
		},
		Security: SecurityConfig{
			JWTSecretKey:   getEnv("JWT_SECRET_KEY", ""),
			TokenExpiry:    getEnvAsDuration("TOKEN_EXPIRY", 168*time.Hour),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 100),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 200),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "focusflow"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Recording: RecordingConfig{
			Dir:        getEnv("RECORDING_DIR", "./recordings"),
			DefaultFPS: getEnvAsInt("RECORDING_DEFAULT_FPS", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config
}

// DSN is the Postgres connection URL. Pool sizes are applied by the store,
// not encoded here, so the same URL works for migrations.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (d DatabaseConfig) DSNForLog() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		d.User, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Detector.BaseURL == "" {
		errors = append(errors, "detector base URL is required")
	}

	if c.Security.JWTSecretKey == "" {
		logger.Warn("JWT secret key not set, using random key")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Pipeline.Workers < 1 {
		errors = append(errors, "pipeline workers must be at least 1")
	}

	if c.Pipeline.CommitInterval < 1 {
		errors = append(errors, "pipeline commit interval must be at least 1")
	}

	if c.Database.Host == "" {
		errors = append(errors, "database host is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, "database port must be between 1 and 65535")
	}

	if c.Redis.Host != "" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errors = append(errors, "Redis port must be between 1 and 65535")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
