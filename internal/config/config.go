package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment
// variables, with an optional .env file for development.
type Config struct {
	Port         string
	DatabasePath string
	JWTSecret    string

	// External collaborators.
	OracleURL       string
	NativeLedgerURL string
	BitcoinRPCURL   string

	// ConfirmationDepth is the number of blocks treated as final when
	// reconciling ambiguous settlements.
	ConfirmationDepth uint32

	// Rune metadata cache sizing for the oracle client.
	RuneCacheSize int
	RuneCacheTTL  time.Duration

	// ReconcileInterval is the delay between reconciliation sweeps over
	// recoverable withdrawals.
	ReconcileInterval time.Duration
}

// Load reads configuration from the environment. A missing .env file is
// not an error; unset variables fall back to development defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DatabasePath:      getEnv("DATABASE_PATH", "runeswap.db"),
		JWTSecret:         getEnv("JWT_SECRET", "runeswap-secret-key"),
		OracleURL:         getEnv("ORACLE_URL", "http://localhost:9090"),
		NativeLedgerURL:   getEnv("NATIVE_LEDGER_URL", "http://localhost:9091"),
		BitcoinRPCURL:     getEnv("BITCOIN_RPC_URL", "http://localhost:9092"),
		ConfirmationDepth: uint32(getEnvInt("CONFIRMATION_DEPTH", 4)),
		RuneCacheSize:     getEnvInt("RUNE_CACHE_SIZE", 512),
		RuneCacheTTL:      getEnvDuration("RUNE_CACHE_TTL", 5*time.Minute),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer in environment, using fallback")
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment, using fallback")
		return fallback
	}
	return d
}
