package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Debug       bool            `mapstructure:"debug"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Security    SecurityConfig  `mapstructure:"security"`
	Recovery    RecoveryConfig  `mapstructure:"recovery"`
	Remote      RemoteConfig    `mapstructure:"remote"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Dashboard   DashboardConfig `mapstructure:"dashboard"`
	Jobs        JobsConfig      `mapstructure:"jobs"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig contains HTTP, gRPC and WebSocket server configuration
type ServerConfig struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Port           int `mapstructure:"port"`
	ReadTimeout    int `mapstructure:"read_timeout"`
	WriteTimeout   int `mapstructure:"write_timeout"`
	IdleTimeout    int `mapstructure:"idle_timeout"`
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// GRPCConfig contains the gRPC health server settings
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// WebSocketConfig contains WebSocket settings
type WebSocketConfig struct {
	ReadBufferSize  int      `mapstructure:"read_buffer_size"`
	WriteBufferSize int      `mapstructure:"write_buffer_size"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxOpenConnections int    `mapstructure:"max_open_connections"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections"`
	ConnMaxLifetime    int    `mapstructure:"connection_max_lifetime"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// DSN returns the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Password    string `mapstructure:"password"`
	Database    int    `mapstructure:"database"`
	PoolSize    int    `mapstructure:"pool_size"`
	DialTimeout int    `mapstructure:"dial_timeout"`
}

// Addr returns the host:port address of the Redis server
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SecurityConfig contains authentication settings
type SecurityConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	JWTExpiry  int    `mapstructure:"jwt_expiry"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

// TokenTTL returns the JWT lifetime
func (s SecurityConfig) TokenTTL() time.Duration {
	return time.Duration(s.JWTExpiry) * time.Hour
}

// RecoveryConfig contains recovery workflow settings
type RecoveryConfig struct {
	ConfirmTypes            []string `mapstructure:"confirm_types"`
	StrictTransitions       bool     `mapstructure:"strict_transitions"`
	MaxConfirmationAttempts int      `mapstructure:"max_confirmation_attempts"`
	OutboxBuffer            int      `mapstructure:"outbox_buffer"`
}

// RemoteConfig contains edge function endpoints
type RemoteConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	Timeout     int    `mapstructure:"timeout"`
	ScannerPath string `mapstructure:"scanner_path"`
	NewsPath    string `mapstructure:"news_path"`
	EmailPath   string `mapstructure:"email_path"`
	AuditPath   string `mapstructure:"audit_path"`
}

// StorageConfig contains evidence storage settings
type StorageConfig struct {
	Type           string      `mapstructure:"type"`
	LocalPath      string      `mapstructure:"local_path"`
	PublicBaseURL  string      `mapstructure:"public_base_url"`
	MaxUploadBytes int64       `mapstructure:"max_upload_bytes"`
	Minio          MinioConfig `mapstructure:"minio"`
}

// MinioConfig contains S3-compatible object storage settings
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DashboardConfig contains dashboard statistics settings
type DashboardConfig struct {
	CacheTTL int `mapstructure:"cache_ttl"`
}

// JobsConfig contains cron schedules for background jobs
type JobsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	NewsSchedule   string `mapstructure:"news_schedule"`
	OutboxSchedule string `mapstructure:"outbox_schedule"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load loads configuration from file and environment variables.
// An empty configPath skips the file and uses defaults plus environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("HARMONY_SHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate checks settings the server cannot start without
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host not configured")
	}
	if c.Server.HTTP.Port == 0 {
		return fmt.Errorf("HTTP port not configured")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured")
	}
	if c.Environment == "production" && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("default jwt secret must be replaced in production")
	}
	switch c.Storage.Type {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	return nil
}

const defaultJWTSecret = "harmony-shield-default-secret-change-in-production"

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", 30)
	v.SetDefault("server.http.write_timeout", 30)
	v.SetDefault("server.http.idle_timeout", 120)
	v.SetDefault("server.http.max_header_bytes", 1048576)
	v.SetDefault("server.grpc.enabled", true)
	v.SetDefault("server.grpc.port", 9090)
	v.SetDefault("server.websocket.read_buffer_size", 1024)
	v.SetDefault("server.websocket.write_buffer_size", 1024)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "harmony_shield")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_connections", 25)
	v.SetDefault("database.max_idle_connections", 25)
	v.SetDefault("database.connection_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5)

	// Security defaults
	v.SetDefault("security.jwt_secret", defaultJWTSecret)
	v.SetDefault("security.jwt_expiry", 24)
	v.SetDefault("security.bcrypt_cost", 12)

	// Recovery defaults
	v.SetDefault("recovery.confirm_types", []string{"cash"})
	v.SetDefault("recovery.strict_transitions", false)
	v.SetDefault("recovery.max_confirmation_attempts", 1)
	v.SetDefault("recovery.outbox_buffer", 64)

	// Edge function defaults
	v.SetDefault("remote.base_url", "http://localhost:54321/functions/v1")
	v.SetDefault("remote.timeout", 15)
	v.SetDefault("remote.scanner_path", "/ai-scanner")
	v.SetDefault("remote.news_path", "/fetch-news")
	v.SetDefault("remote.email_path", "/send-recovery-email")
	v.SetDefault("remote.audit_path", "/log-admin-action")

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data/evidence")
	v.SetDefault("storage.public_base_url", "/api/v1/recovery/evidence")
	v.SetDefault("storage.max_upload_bytes", 10<<20)
	v.SetDefault("storage.minio.bucket", "evidence")

	v.SetDefault("dashboard.cache_ttl", 60)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.news_schedule", "0 */30 * * * *")
	v.SetDefault("jobs.outbox_schedule", "0 */5 * * * *")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")
}

// overrideWithEnvVars overrides configuration with conventional environment variables
func overrideWithEnvVars(v *viper.Viper) {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	// Database environment variables
	if host := os.Getenv("DATABASE_HOST"); host != "" {
		v.Set("database.host", host)
	}
	if port := os.Getenv("DATABASE_PORT"); port != "" {
		v.Set("database.port", port)
	}
	if name := os.Getenv("DATABASE_NAME"); name != "" {
		v.Set("database.name", name)
	}
	if username := os.Getenv("DATABASE_USERNAME"); username != "" {
		v.Set("database.username", username)
	}
	if password := os.Getenv("DATABASE_PASSWORD"); password != "" {
		v.Set("database.password", password)
	}

	// Redis environment variables
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("redis.host", host)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("redis.password", password)
	}

	// Security environment variables
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("security.jwt_secret", jwtSecret)
	}
}
