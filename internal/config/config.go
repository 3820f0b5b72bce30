package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for VeilChat
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	PII      PIIConfig      `mapstructure:"pii"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Context  ContextConfig  `mapstructure:"context"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AdminConfig holds API authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LLMConfig holds completion provider configuration
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// PIIConfig holds PII detection configuration
type PIIConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DetectionModel   string        `mapstructure:"detection_model"`
	EnabledTypes     []string      `mapstructure:"enabled_types"`
	MaxBatchChars    int           `mapstructure:"max_batch_chars"`
	DetectionTimeout time.Duration `mapstructure:"detection_timeout"`
	// StorageMode selects how detections are persisted: "detections" keeps
	// plain content plus relational detection rows, "tags" embeds tag markup
	// in the stored content. The two modes are mutually exclusive.
	StorageMode string `mapstructure:"storage_mode"`
}

// LimitsConfig holds abuse-prevention limits
type LimitsConfig struct {
	MaxMessageChars            int `mapstructure:"max_message_chars"`
	MaxMessagesPerConversation int `mapstructure:"max_messages_per_conversation"`
	RequestsPerMinute          int `mapstructure:"requests_per_minute"`
	DailyTokenQuota            int `mapstructure:"daily_token_quota"`
}

// ContextConfig holds conversation context configuration
type ContextConfig struct {
	MaxMessages int `mapstructure:"max_messages"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageModeDetections persists plain content plus detection rows
const StorageModeDetections = "detections"

// StorageModeTags persists tag-embedded content, no detection rows
const StorageModeTags = "tags"

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("VEILCHAT")
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.PII.StorageMode != StorageModeDetections && cfg.PII.StorageMode != StorageModeTags {
		return nil, fmt.Errorf("invalid pii.storage_mode %q", cfg.PII.StorageMode)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/veilchat.db")

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "qwen2.5:7b")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("pii.enabled", true)
	v.SetDefault("pii.detection_model", "")
	v.SetDefault("pii.enabled_types", []string{"email", "phone", "ssn", "credit_card", "ip", "name", "address"})
	v.SetDefault("pii.max_batch_chars", 2000)
	v.SetDefault("pii.detection_timeout", 5*time.Second)
	v.SetDefault("pii.storage_mode", StorageModeDetections)

	v.SetDefault("limits.max_message_chars", 8000)
	v.SetDefault("limits.max_messages_per_conversation", 200)
	v.SetDefault("limits.requests_per_minute", 20)
	v.SetDefault("limits.daily_token_quota", 200000)

	v.SetDefault("context.max_messages", 20)

	v.SetDefault("log.level", "info")
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
