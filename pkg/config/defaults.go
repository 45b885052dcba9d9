// Package config provides configuration types and defaults for crew services
// Centralized management of all constants and default values

package config

import (
	"os"
	"path/filepath"
)

// ===== Ports =====

const (
	// DefaultGatewayPort is the standard port for the crew gateway
	DefaultGatewayPort = 55010

	// Embedding port range
	DefaultEmbeddingPortMin = 50000
	DefaultEmbeddingPortMax = 60000
)

// ===== Paths =====

// DefaultDataDir returns the default data directory
func DefaultDataDir() string {
	if d := os.Getenv("CREW_DATA_DIR"); d != "" {
		return d
	}
	// Default to <binary-dir>/data
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "data")
}

// DefaultDBPath returns the default database path
func DefaultDBPath() string {
	if p := os.Getenv("CREW_DB_PATH"); p != "" {
		return p
	}
	return filepath.Join(DefaultDataDir(), "crew.db")
}

// DefaultKVPath returns the default badger cache directory
func DefaultKVPath() string {
	if p := os.Getenv("CREW_KV_PATH"); p != "" {
		return p
	}
	return filepath.Join(DefaultDataDir(), "kv")
}

// DefaultPersonasPath returns the default persona catalog path
func DefaultPersonasPath() string {
	if p := os.Getenv("CREW_PERSONAS_PATH"); p != "" {
		return p
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "personas.yaml")
}

// DefaultGatewayURL returns the default gateway URL
func DefaultGatewayURL() string {
	if u := os.Getenv("CREW_GATEWAY_URL"); u != "" {
		return u
	}
	return "http://127.0.0.1:55010"
}

// DefaultEmbeddingURL returns the default embedding service URL
func DefaultEmbeddingURL() string {
	if u := os.Getenv("CREW_EMBEDDING_URL"); u != "" {
		return u
	}
	return "http://127.0.0.1:50000"
}

// ===== Buffers/Limits =====

const (
	// Message limits
	TelegramMaxMsgLen  = 4096
	MaxWebPageChars    = 10000
	MaxToolResultChars = 8000
)

// ===== Token/Context =====

const (
	// Context window defaults
	DefaultContextTokens = 8192
	DefaultReserveTokens = 1024
	DefaultMaxTokens     = 1000
)

// ===== Orchestration =====

const (
	// DefaultStepBudget bounds routing hops per turn
	DefaultStepBudget = 20

	// Rolling summary: compress once history exceeds the threshold,
	// keeping only the most recent messages verbatim
	DefaultSummaryThreshold = 10
	DefaultSummaryKeepLast  = 4

	// History merge window for incoming turns
	DefaultHistoryMergeLimit = 10
)
