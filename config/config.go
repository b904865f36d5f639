// Package config loads daemon configuration from environment variables.
// Every value has a safe default except the ones that cannot have one,
// so a bare `agentgated` comes up against mainnet with verification-only
// features enabled.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/agentgate/agentgate/types"
	"github.com/agentgate/agentgate/utils"
)

const (
	// DefaultPort is the HTTP listen port when SERVER_PORT is unset.
	DefaultPort = "8080"

	// DefaultVerifyTimeout bounds a single verification round trip.
	DefaultVerifyTimeout = 30 * time.Second
)

// Config is the daemon configuration. Zero values mean "feature off"
// for the optional fields (PlatformWallet, SessionSecret, SessionFile).
type Config struct {
	RPCURL          string
	RPCAPIKey       string
	RPCFallbackURLs []string

	USDCMint      string
	TokenDecimals int32

	PlatformWallet string
	SessionSecret  string
	SessionFile    string

	Port     string
	LogLevel string
	Env      string

	VerifyTimeout time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:         envOr("RPC_URL", rpc.MainNetBeta_RPC),
		RPCAPIKey:      os.Getenv("RPC_API_KEY"),
		USDCMint:       envOr("USDC_MINT", types.USDCMintMainnet),
		PlatformWallet: os.Getenv("PLATFORM_WALLET_ADDRESS"),
		SessionSecret:  os.Getenv("SESSION_SIGNING_SECRET"),
		SessionFile:    os.Getenv("SESSION_FILE"),
		Port:           envOr("SERVER_PORT", DefaultPort),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		Env:            envOr("ENVIRONMENT", "development"),
	}

	if raw := os.Getenv("RPC_FALLBACK_URLS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.RPCFallbackURLs = append(cfg.RPCFallbackURLs, u)
			}
		}
	}

	if err := utils.ValidateAddress(cfg.USDCMint); err != nil {
		return nil, fmt.Errorf("USDC_MINT: %w", err)
	}
	if cfg.PlatformWallet != "" {
		if err := utils.ValidateAddress(cfg.PlatformWallet); err != nil {
			return nil, fmt.Errorf("PLATFORM_WALLET_ADDRESS: %w", err)
		}
	}

	decimals, err := intEnv("TOKEN_DECIMALS", 6)
	if err != nil {
		return nil, err
	}
	if decimals < 0 || decimals > 18 {
		return nil, fmt.Errorf("TOKEN_DECIMALS must be between 0 and 18, got %d", decimals)
	}
	cfg.TokenDecimals = int32(decimals)

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be a port number, got %q", cfg.Port)
	}

	timeoutSec, err := intEnv("VERIFY_TIMEOUT_SECONDS", int(DefaultVerifyTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	if timeoutSec < 1 {
		return nil, fmt.Errorf("VERIFY_TIMEOUT_SECONDS must be positive, got %d", timeoutSec)
	}
	cfg.VerifyTimeout = time.Duration(timeoutSec) * time.Second

	return cfg, nil
}

// Token returns the SPL token verification is pinned to.
func (c *Config) Token() types.Token {
	return types.Token{Mint: c.USDCMint, Decimals: c.TokenDecimals}
}

// Production reports whether the daemon runs with production hardening,
// which refuses unsigned identity tokens.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}
