package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// USDC mainnet mint, used when content frontmatter names no mint.
const defaultUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

type Config struct {
	DBSource string
	Port     string
	Env      string

	RPCEndpoint string
	RPCTimeout  time.Duration
	Network     string
	Recipient   string

	ContentDir  string
	DefaultMint string
	TokenSymbol string

	RateLimitRPS   int
	RateLimitBurst int
}

func Load() (*Config, error) {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	recipient := os.Getenv("PAY_TO_WALLET")
	if recipient == "" {
		return nil, fmt.Errorf("PAY_TO_WALLET environment variable is required")
	}

	cfg := &Config{
		DBSource:       dbSource,
		Port:           envOr("SERVER_PORT", "8080"),
		Env:            envOr("ENVIRONMENT", "development"),
		RPCEndpoint:    envOr("SOLANA_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
		RPCTimeout:     time.Duration(envInt("RPC_TIMEOUT_SECONDS", 10)) * time.Second,
		Network:        envOr("NETWORK", "mainnet-beta"),
		Recipient:      recipient,
		ContentDir:     envOr("CONTENT_DIR", "./content"),
		DefaultMint:    envOr("DEFAULT_MINT", defaultUSDCMint),
		TokenSymbol:    envOr("TOKEN_SYMBOL", "USDC"),
		RateLimitRPS:   envInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
