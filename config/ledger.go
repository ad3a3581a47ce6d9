package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerConfig holds process-wide defaults. Per-company settings override them.
type LedgerConfig struct {
	ExchangeDiffThreshold decimal.Decimal
	RequiredApprovals     int
	LockTTL               time.Duration
	CurrencyDecimals      int32
	RateCacheTTL          time.Duration
}

var defaultExchangeDiffThreshold = decimal.New(1, -2)

// Env:
// - LEDGER_EXCHANGE_DIFF_THRESHOLD (default 0.01)
// - LEDGER_REQUIRED_APPROVALS (default 1)
// - LEDGER_LOCK_TTL_SECONDS (default 30)
// - LEDGER_CURRENCY_DECIMALS (default 2)
// - LEDGER_RATE_CACHE_SECONDS (default 300)
func GetLedgerConfig() LedgerConfig {
	cfg := LedgerConfig{
		ExchangeDiffThreshold: defaultExchangeDiffThreshold,
		RequiredApprovals:     intFromEnv("LEDGER_REQUIRED_APPROVALS", 1),
		LockTTL:               time.Duration(intFromEnv("LEDGER_LOCK_TTL_SECONDS", 30)) * time.Second,
		CurrencyDecimals:      int32(intFromEnv("LEDGER_CURRENCY_DECIMALS", 2)),
		RateCacheTTL:          time.Duration(intFromEnv("LEDGER_RATE_CACHE_SECONDS", 300)) * time.Second,
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_EXCHANGE_DIFF_THRESHOLD")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			cfg.ExchangeDiffThreshold = d
		}
	}
	if cfg.RequiredApprovals < 0 {
		cfg.RequiredApprovals = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.CurrencyDecimals < 0 {
		cfg.CurrencyDecimals = 2
	}
	return cfg
}
