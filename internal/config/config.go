// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList              []string `mapstructure:"rpc_list"`
	AggregatorURL        string   `mapstructure:"aggregator_url"`
	PostgresURL          string   `mapstructure:"postgres_url"`
	ResendIntervalMs     int      `mapstructure:"resend_interval_ms"`
	StatusPollIntervalMs int      `mapstructure:"status_poll_interval_ms"`
	ExpirySafetyMargin   uint64   `mapstructure:"expiry_safety_margin"`
	TxFetchRetries       int      `mapstructure:"tx_fetch_retries"`
	RPCRateLimit         int      `mapstructure:"rpc_rate_limit"`
	DefaultSlippageBps   int      `mapstructure:"default_slippage_bps"`
	MaxUnlockAttempts    int      `mapstructure:"max_unlock_attempts"`
	AutolockMinutes      int      `mapstructure:"autolock_minutes"`
	ClaimCooldownSec     int      `mapstructure:"claim_cooldown_sec"`
	DebugLogging         bool     `mapstructure:"debug_logging"`
}

const (
	DefaultResendIntervalMs     = 2000
	DefaultStatusPollIntervalMs = 2000
	DefaultExpirySafetyMargin   = 150
	DefaultTxFetchRetries       = 5
	DefaultRPCRateLimit         = 50
	DefaultSlippageBps          = 100
	DefaultMaxUnlockAttempts    = 3
	DefaultAutolockMinutes      = 30
	DefaultClaimCooldownSec     = 60
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"resend_interval_ms":      DefaultResendIntervalMs,
		"status_poll_interval_ms": DefaultStatusPollIntervalMs,
		"expiry_safety_margin":    DefaultExpirySafetyMargin,
		"tx_fetch_retries":        DefaultTxFetchRetries,
		"rpc_rate_limit":          DefaultRPCRateLimit,
		"default_slippage_bps":    DefaultSlippageBps,
		"max_unlock_attempts":     DefaultMaxUnlockAttempts,
		"autolock_minutes":        DefaultAutolockMinutes,
		"claim_cooldown_sec":      DefaultClaimCooldownSec,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.AggregatorURL == "" {
		return errors.New("missing aggregator_url in configuration")
	}
	if err := validateURLWithCache(cfg.AggregatorURL, "http"); err != nil {
		return errors.New("invalid aggregator URL protocol")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.ResendIntervalMs <= 0 {
		return errors.New("invalid resend_interval_ms")
	}
	if cfg.StatusPollIntervalMs <= 0 {
		return errors.New("invalid status_poll_interval_ms")
	}
	if cfg.ExpirySafetyMargin == 0 {
		return errors.New("invalid expiry_safety_margin")
	}
	if cfg.TxFetchRetries <= 0 {
		return errors.New("invalid tx_fetch_retries")
	}
	if cfg.DefaultSlippageBps <= 0 || cfg.DefaultSlippageBps > 10000 {
		return errors.New("invalid default_slippage_bps")
	}
	if cfg.MaxUnlockAttempts <= 0 {
		return errors.New("invalid max_unlock_attempts")
	}
	if cfg.AutolockMinutes <= 0 {
		return errors.New("invalid autolock_minutes")
	}
	if cfg.ClaimCooldownSec <= 0 {
		return errors.New("invalid claim_cooldown_sec")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}

	envAggregator := v.GetString("AGGREGATOR_URL")
	if envAggregator != "" {
		cfg.AggregatorURL = envAggregator
	}

	envPostgres := v.GetString("POSTGRES_URL")
	if envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}
	return nil
}
