package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	KurrentDB  KurrentDBConfig
	Auth       AuthConfig
	Log        LogConfig
	Routing    RoutingConfig
	Escalation EscalationConfig
	Delivery   DeliveryConfig
	Directory  DirectoryConfig
	Mail       MailConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// RateLimit is the API-wide request budget per second (0 disables it)
	RateLimit int
	RateBurst int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for the audit journal (EventStoreDB).
type KurrentDBConfig struct {
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	Username string
	Password string
	// Stream is the audit stream routing decisions are appended to
	Stream string
}

// ConnectionString returns the esdb:// connection string.
func (c KurrentDBConfig) ConnectionString() string {
	var auth string
	if c.Username != "" && c.Password != "" {
		auth = fmt.Sprintf("%s:%s@", c.Username, c.Password)
	}

	var tls string
	if c.Insecure {
		tls = "?tls=false"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, c.Host, c.Port, tls)
}

type AuthConfig struct {
	// Enabled forces bearer auth on the API regardless of environment
	Enabled   bool
	JWTSecret string
}

type LogConfig struct {
	Level string
}

// RoutingConfig controls rule evaluation and configuration caching.
type RoutingConfig struct {
	// SnapshotTTL is how long a loaded rule/path snapshot is served before reload
	SnapshotTTL time.Duration
	// DefaultsFile is an optional YAML file with tenant default policies
	DefaultsFile string
	// Timezone is used by time-of-day conditions that do not name one
	Timezone string
}

// EscalationConfig controls the ticker.
type EscalationConfig struct {
	TickInterval time.Duration
	// ClaimBatch caps how many due rows one scan picks up
	ClaimBatch int
	// RunTicker starts the ticker inside the serve process
	RunTicker bool
}

// DeliveryConfig configures the outbound delivery collaborator.
type DeliveryConfig struct {
	// Transport is "kafka" or "log"
	Transport      string
	KafkaBrokers   []string
	KafkaTopic     string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RatePerSecond throttles calls into the delivery subsystem (0 disables it)
	RatePerSecond float64
	RateBurst     int
}

// DirectoryConfig configures role and group expansion.
type DirectoryConfig struct {
	// URL of the identity directory; empty selects the static directory
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	// StaticFile is a YAML fixture of roles and groups used when URL is empty
	StaticFile string
}

// MailConfig configures operator triage mail.
type MailConfig struct {
	Enabled       bool
	Host          string
	Port          int
	User          string
	Password      string
	SenderAddress string
	SenderName    string
	Operators     []string
}

// DefaultPolicyConfig is the YAML shape of a tenant default routing policy.
type DefaultPolicyConfig struct {
	HostelID          string   `yaml:"hostel_id"`
	Roles             []string `yaml:"roles"`
	Users             []string `yaml:"users"`
	Groups            []string `yaml:"groups"`
	Channels          []string `yaml:"channels"`
	TemplateCode      string   `yaml:"template_code"`
	EscalationEnabled bool     `yaml:"escalation_enabled"`
}

type defaultsFile struct {
	Defaults []DefaultPolicyConfig `yaml:"defaults"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnvInt("SERVER_PORT", 8080),
			Env:       getEnv("ENV", "development"),
			RateLimit: getEnvInt("SERVER_RATE_LIMIT", 200),
			RateBurst: getEnvInt("SERVER_RATE_BURST", 400),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "notifyrouter"),
			Password: getEnv("DB_PASSWORD", "notifyrouter"),
			Database: getEnv("DB_NAME", "notifyrouter"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
			MinConns: getEnvInt("DB_MIN_CONNS", 2),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
			Stream:   getEnv("KURRENTDB_AUDIT_STREAM", "notification-routing-audit"),
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Routing: RoutingConfig{
			SnapshotTTL:  getEnvDuration("ROUTING_SNAPSHOT_TTL", 30*time.Second),
			DefaultsFile: getEnv("ROUTING_DEFAULTS_FILE", ""),
			Timezone:     getEnv("ROUTING_TIMEZONE", "UTC"),
		},
		Escalation: EscalationConfig{
			TickInterval: getEnvDuration("ESCALATION_TICK_INTERVAL", time.Minute),
			ClaimBatch:   getEnvInt("ESCALATION_CLAIM_BATCH", 100),
			RunTicker:    getEnvBool("ESCALATION_RUN_TICKER", true),
		},
		Delivery: DeliveryConfig{
			Transport:      getEnv("DELIVERY_TRANSPORT", "log"),
			KafkaBrokers:   getEnvSlice("DELIVERY_KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:     getEnv("DELIVERY_KAFKA_TOPIC", "notification-deliveries"),
			Timeout:        getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),
			MaxRetries:     getEnvInt("DELIVERY_MAX_RETRIES", 3),
			InitialBackoff: getEnvDuration("DELIVERY_INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     getEnvDuration("DELIVERY_MAX_BACKOFF", 2*time.Second),
			RatePerSecond:  getEnvFloat("DELIVERY_RATE_PER_SECOND", 50),
			RateBurst:      getEnvInt("DELIVERY_RATE_BURST", 100),
		},
		Directory: DirectoryConfig{
			URL:        getEnv("DIRECTORY_URL", ""),
			Token:      getEnv("DIRECTORY_TOKEN", ""),
			Timeout:    getEnvDuration("DIRECTORY_TIMEOUT", 5*time.Second),
			MaxRetries: getEnvInt("DIRECTORY_MAX_RETRIES", 2),
			StaticFile: getEnv("DIRECTORY_STATIC_FILE", ""),
		},
		Mail: MailConfig{
			Enabled:       getEnvBool("MAIL_ENABLED", false),
			Host:          getEnv("MAIL_HOST", "localhost"),
			Port:          getEnvInt("MAIL_PORT", 25),
			User:          getEnv("MAIL_USER", ""),
			Password:      getEnv("MAIL_PASSWORD", ""),
			SenderAddress: getEnv("MAIL_SENDER_ADDRESS", "noreply@hostelhub.local"),
			SenderName:    getEnv("MAIL_SENDER_NAME", "Notification Router"),
			Operators:     getEnvSlice("MAIL_OPERATORS", nil),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Escalation.TickInterval <= 0 {
		return fmt.Errorf("ESCALATION_TICK_INTERVAL must be positive")
	}
	if c.Escalation.ClaimBatch <= 0 {
		return fmt.Errorf("ESCALATION_CLAIM_BATCH must be positive")
	}
	if c.Routing.SnapshotTTL <= 0 {
		return fmt.Errorf("ROUTING_SNAPSHOT_TTL must be positive")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("DELIVERY_MAX_RETRIES must not be negative")
	}
	if _, err := time.LoadLocation(c.Routing.Timezone); err != nil {
		return fmt.Errorf("invalid ROUTING_TIMEZONE: %w", err)
	}
	switch c.Delivery.Transport {
	case "kafka", "log":
	default:
		return fmt.Errorf("unknown DELIVERY_TRANSPORT %q", c.Delivery.Transport)
	}
	return nil
}

// LoadDefaultPolicies reads tenant default policies from a YAML file.
func LoadDefaultPolicies(path string) ([]DefaultPolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read defaults file: %w", err)
	}

	var file defaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse defaults file: %w", err)
	}
	return file.Defaults, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
