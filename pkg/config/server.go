// Package config provides configuration types for crew services
// Supports dependency injection for customizable behavior
package config

import (
	"os"
	"strconv"
	"time"
)

// GatewayConfig holds all configurable gateway parameters
type GatewayConfig struct {
	Host            string        // Host to bind (default: "0.0.0.0")
	Port            int           // Port to listen (default: 55010)
	ReadTimeout     time.Duration // HTTP read timeout (default: 120s)
	WriteTimeout    time.Duration // HTTP write timeout (default: 180s)
	IdleTimeout     time.Duration // HTTP idle timeout (default: 300s)
	MaxBodyChat     int64         // Max body size for chat (default: 2MB)
	EnvConfigPath   string        // Path to env.config
	DBPath          string        // Database path
	StaticDir       string        // Static files directory for the web chat
	TelegramToken   string        // Telegram bot token (override)
	RateLimitWindow time.Duration // Rate limit window (default: 1h)
}

// DefaultGatewayConfig returns the default gateway configuration
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Host:            "0.0.0.0",
		Port:            DefaultGatewayPort,
		ReadTimeout:     120 * time.Second,
		WriteTimeout:    180 * time.Second,
		IdleTimeout:     300 * time.Second,
		MaxBodyChat:     2 * 1024 * 1024, // 2MB
		DBPath:          DefaultDBPath(),
		RateLimitWindow: time.Hour,
	}
}

// OrchestratorConfig holds the conversation engine parameters
type OrchestratorConfig struct {
	StepBudget          int           // Max routing hops per turn (default: 20)
	SummaryThreshold    int           // Compress history beyond this many messages (default: 10)
	SummaryKeepLast     int           // Recent messages kept verbatim after compression (default: 4)
	HistoryMergeLimit   int           // Max caller-supplied history messages merged per turn (default: 10)
	LocalDeciderTimeout time.Duration // Deadline for the local routing model (default: 15s)
	SessionIdleTTL      time.Duration // Idle age before a per-identity lock is swept (default: 30m)
	Temperature         float64       // Default sampling temperature (default: 0.7)
	MaxTokens           int           // Default max completion tokens (default: 1000)

	// Streaming buffer thresholds
	StreamFlushChars    int           // Flush after this many buffered chars (default: 50)
	StreamFlushInterval time.Duration // Flush after this much time since last emit (default: 500ms)
}

// DefaultOrchestratorConfig returns the default orchestrator configuration
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		StepBudget:          DefaultStepBudget,
		SummaryThreshold:    DefaultSummaryThreshold,
		SummaryKeepLast:     DefaultSummaryKeepLast,
		HistoryMergeLimit:   DefaultHistoryMergeLimit,
		LocalDeciderTimeout: 15 * time.Second,
		SessionIdleTTL:      30 * time.Minute,
		Temperature:         0.7,
		MaxTokens:           1000,
		StreamFlushChars:    50,
		StreamFlushInterval: 500 * time.Millisecond,
	}
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DBPath          string        // Database path
	MaxOpenConns    int           // Max open connections (default: 4)
	MaxIdleConns    int           // Max idle connections (default: 4)
	ConnMaxLifetime time.Duration // Connection max lifetime (default: 5m)
	WalMode         bool          // Enable WAL mode (default: true)
	SyncMode        string        // Sync mode (default: "NORMAL")
}

// DefaultStorageConfig returns the default storage configuration
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		DBPath:          DefaultDBPath(),
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
		WalMode:         true,
		SyncMode:        "NORMAL",
	}
}

// MemoryConfig holds vector memory configuration
type MemoryConfig struct {
	DBPath          string  // Database path
	EmbeddingServer string  // Local embedding server URL
	EmbeddingModel  string  // OpenAI embedding model
	EmbeddingApiKey string  // OpenAI embedding API key
	EmbeddingDim    int     // Embedding dimension (auto-detected)
	MaxResults      int     // Max results per search (default: 5)
	MinScore        float32 // Minimum similarity score (default: 0.7)
}

// DefaultMemoryConfig returns the default memory configuration
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxResults: 5,
		MinScore:   0.7,
	}
}

// ServerConfig combines all server configurations
type ServerConfig struct {
	Gateway      *GatewayConfig
	Orchestrator *OrchestratorConfig
	Storage      *StorageConfig
	Memory       *MemoryConfig
}

// DefaultServerConfig returns a complete default configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Gateway:      DefaultGatewayConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Storage:      DefaultStorageConfig(),
		Memory:       DefaultMemoryConfig(),
	}
}

// LoadFromEnv overrides configuration with environment variables
func (c *ServerConfig) LoadFromEnv(prefix string) {
	// Gateway overrides
	if v := getEnv(prefix + "PORT"); v != "" {
		c.Gateway.Port = parseInt(v, c.Gateway.Port)
	}
	if v := getEnv(prefix + "HOST"); v != "" {
		c.Gateway.Host = v
	}
	if v := getEnv(prefix + "TELEGRAM_TOKEN"); v != "" {
		c.Gateway.TelegramToken = v
	}

	// Orchestrator overrides
	if v := getEnv(prefix + "STEP_BUDGET"); v != "" {
		c.Orchestrator.StepBudget = parseInt(v, c.Orchestrator.StepBudget)
	}
	if v := getEnv(prefix + "SUMMARY_THRESHOLD"); v != "" {
		c.Orchestrator.SummaryThreshold = parseInt(v, c.Orchestrator.SummaryThreshold)
	}
	if v := getEnv(prefix + "SUMMARY_KEEP_LAST"); v != "" {
		c.Orchestrator.SummaryKeepLast = parseInt(v, c.Orchestrator.SummaryKeepLast)
	}

	// Storage overrides
	if v := getEnv(prefix + "DB_PATH"); v != "" {
		c.Storage.DBPath = v
		c.Memory.DBPath = v
		c.Gateway.DBPath = v
	}

	// Memory overrides
	if v := getEnv(prefix + "EMBEDDING_SERVER"); v != "" {
		c.Memory.EmbeddingServer = v
	}
	if v := getEnv(prefix + "EMBEDDING_MODEL"); v != "" {
		c.Memory.EmbeddingModel = v
	}
}

// Helper functions
func getEnv(key string) string {
	return os.Getenv(key)
}

func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
