package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// NetworksConfig models networks.json: per-network RPC endpoints the
// operator key signs on.
type NetworksConfig struct {
	Default  string            `json:"default"`
	Networks map[string]string `json:"networks"` // name -> rpc url
}

// AppConfig ties together file + environment configuration.
type AppConfig struct {
	Networks NetworksConfig
	Service  ServiceConfig
	Bank     BankConfig
	Chain    ChainConfig
	Storage  StorageConfig
}

type ServiceConfig struct {
	HTTPPort         int
	BaseURL          string
	PollInterval     time.Duration
	ReconcileTimeout time.Duration
	LookBack         time.Duration
	WebhookSkew      time.Duration
	ShutdownTimeout  time.Duration
}

type BankConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
}

func (b BankConfig) Configured() bool {
	return b.BaseURL != "" && b.ClientID != "" && b.ClientSecret != ""
}

type ChainConfig struct {
	PrivateKey string
}

type StorageConfig struct {
	PostgresDSN        string
	ProcessedStorePath string
}

const defaultNetworksPath = "../networks.json"

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	networksPath := envOr("NETWORKS_PATH", defaultNetworksPath)
	networks, err := loadNetworks(networksPath)
	if err != nil {
		return nil, fmt.Errorf("load networks: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:         envOrInt("API_HTTP_PORT", 3000),
		BaseURL:          envOr("BASE_URL", ""),
		PollInterval:     envOrDuration("POLL_INTERVAL_SECONDS", 300),
		ReconcileTimeout: envOrDuration("RECONCILE_TIMEOUT_SECONDS", 120),
		LookBack:         envOrDuration("FIRST_RUN_LOOKBACK_SECONDS", 300),
		WebhookSkew:      envOrDuration("WEBHOOK_CLOCK_SKEW_SECONDS", 300),
		ShutdownTimeout:  envOrDuration("SHUTDOWN_TIMEOUT_SECONDS", 15),
	}

	bankCfg := BankConfig{
		BaseURL:       envOr("BANK_API_URL", ""),
		ClientID:      envOr("BANK_CLIENT_ID", ""),
		ClientSecret:  envOr("BANK_CLIENT_SECRET", ""),
		WebhookSecret: envOr("BANK_WEBHOOK_SECRET", ""),
	}

	chainCfg := ChainConfig{
		PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
	}

	storageCfg := StorageConfig{
		PostgresDSN:        envOr("POSTGRES_DSN", ""),
		ProcessedStorePath: envOr("PROCESSED_STORE_PATH", filepath.Join(os.TempDir(), "bankrails-processed.json")),
	}

	return &AppConfig{
		Networks: *networks,
		Service:  serviceCfg,
		Bank:     bankCfg,
		Chain:    chainCfg,
		Storage:  storageCfg,
	}, nil
}

func loadNetworks(path string) (*NetworksConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// Networks are optional; without chain credentials the fake ledger
		// serves a single default network anyway.
		return &NetworksConfig{Default: "celo", Networks: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg NetworksConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Default == "" {
		cfg.Default = "celo"
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDuration(key string, fallbackSecs int) time.Duration {
	return time.Duration(envOrInt(key, fallbackSecs)) * time.Second
}
