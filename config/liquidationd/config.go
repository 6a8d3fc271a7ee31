// Package config loads the liquidationd YAML configuration: RPC endpoint,
// database DSN, protocol selection, contract addresses, and the pooled
// reserve/pair registries (spec.md §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Protocol selects which strategy the daemon runs.
type Protocol string

const (
	ProtocolPooled Protocol = "pooled"
	ProtocolCDP    Protocol = "cdp"
)

// Config captures the runtime settings for the liquidation bot daemon.
type Config struct {
	Environment string `yaml:"environment"`
	Protocol    Protocol `yaml:"protocol"`

	RPCEndpoint string `yaml:"rpc_endpoint"`
	DatabaseDSN string `yaml:"database_dsn"`
	PrivateKey  string `yaml:"private_key"`
	ChainID     int64  `yaml:"chain_id"`

	Pooled PooledConfig `yaml:"pooled"`
	CDP    CDPConfig    `yaml:"cdp"`

	Liquidator       string `yaml:"liquidator_address"`
	PairRegistryPath string `yaml:"pair_registry_path"`

	TraceTxs   bool   `yaml:"trace_transactions"`
	LogFilePath string `yaml:"log_file_path"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PooledConfig addresses the pooled-protocol deployment (spec.md §4.6).
type PooledConfig struct {
	PoolAddress    string `yaml:"pool_address"`
	GatewayAddress string `yaml:"gateway_address"`
	OracleAddress  string `yaml:"oracle_address"`
	DataProvider   string `yaml:"data_provider_address"`
	StartBlock     uint64 `yaml:"start_block"`
	Reserves       []ReserveEntry `yaml:"reserves"`
}

// ReserveEntry is one pooled-protocol reserve's static configuration, read
// once at startup (spec.md §3 "ReserveConfiguration").
type ReserveEntry struct {
	Asset               string `yaml:"asset"`
	Decimals            uint8  `yaml:"decimals"`
	LiquidationBonusBps int64  `yaml:"liquidation_bonus_bps"`
}

// CDPConfig addresses the CDP/trove-protocol deployment (spec.md §4.7).
type CDPConfig struct {
	TroveManagerAddress string `yaml:"trove_manager_address"`
	RegistryAddress     string `yaml:"registry_address"`
	OracleAddress       string `yaml:"oracle_address"`
	StartBlock          uint64 `yaml:"start_block"`
	CacheTTLSeconds     int    `yaml:"cache_ttl_seconds"`
}

// TelemetryConfig mirrors observability/otel.Config's YAML-facing knobs, plus
// the listen address for the Prometheus /metrics endpoint (SPEC_FULL.md §1
// Telemetry).
type TelemetryConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Insecure   bool   `yaml:"insecure"`
	Metrics    bool   `yaml:"metrics"`
	Traces     bool   `yaml:"traces"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadByName resolves a protocol name to its configuration file under dir
// (spec.md §6 "Protocol configuration (chosen by name at startup)") and
// loads it the same way Load does. The original program's config.rs keeps a
// compiled-in match table of named deployments (felix, liquity); this daemon
// re-expresses that lookup as one YAML document per name under dir so adding
// a protocol never requires a recompile (SPEC_FULL.md §1 "Configuration").
func LoadByName(dir, name string) (Config, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Config{}, fmt.Errorf("protocol name required")
	}
	path := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("unknown protocol %q: %w", name, err)
	}
	return Load(path)
}

// Load reads the YAML configuration from disk, normalizes it, and validates
// the result against the selected protocol's requirements.
func Load(path string) (Config, error) {
	cfg := Config{
		ChainID: 1,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Protocol = Protocol(strings.TrimSpace(string(cfg.Protocol)))
	cfg.RPCEndpoint = strings.TrimSpace(cfg.RPCEndpoint)
	cfg.DatabaseDSN = strings.TrimSpace(cfg.DatabaseDSN)
	cfg.PrivateKey = strings.TrimSpace(cfg.PrivateKey)
	cfg.Liquidator = strings.TrimSpace(cfg.Liquidator)
	cfg.PairRegistryPath = strings.TrimSpace(cfg.PairRegistryPath)
	if cfg.CDP.CacheTTLSeconds <= 0 {
		cfg.CDP.CacheTTLSeconds = 10
	}
	cfg.Telemetry.MetricsAddr = strings.TrimSpace(cfg.Telemetry.MetricsAddr)
	if cfg.Telemetry.MetricsAddr == "" {
		cfg.Telemetry.MetricsAddr = ":9464"
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint is required")
	}
	if cfg.DatabaseDSN == "" {
		return fmt.Errorf("database_dsn is required")
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("private_key is required")
	}
	if cfg.Liquidator == "" {
		return fmt.Errorf("liquidator_address is required")
	}

	switch cfg.Protocol {
	case ProtocolPooled:
		return cfg.Pooled.validate()
	case ProtocolCDP:
		return cfg.CDP.validate()
	default:
		return fmt.Errorf("unknown protocol %q: expected %q or %q", cfg.Protocol, ProtocolPooled, ProtocolCDP)
	}
}

func (p PooledConfig) validate() error {
	if p.PoolAddress == "" {
		return fmt.Errorf("pooled.pool_address is required")
	}
	if p.OracleAddress == "" {
		return fmt.Errorf("pooled.oracle_address is required")
	}
	if p.DataProvider == "" {
		return fmt.Errorf("pooled.data_provider_address is required")
	}
	if len(p.Reserves) == 0 {
		return fmt.Errorf("pooled.reserves must list at least one asset")
	}
	return nil
}

func (c CDPConfig) validate() error {
	if c.TroveManagerAddress == "" {
		return fmt.Errorf("cdp.trove_manager_address is required")
	}
	if c.RegistryAddress == "" {
		return fmt.Errorf("cdp.registry_address is required")
	}
	if c.OracleAddress == "" {
		return fmt.Errorf("cdp.oracle_address is required")
	}
	return nil
}
