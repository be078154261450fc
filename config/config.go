package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"strata/native/tranche"
)

// TrancheConfig declares one risk layer of a configured vault.
type TrancheConfig struct {
	TargetAprBps  uint64 `toml:"TargetAprBps"`
	AllocationPct uint64 `toml:"AllocationPct"`
}

// VaultConfig declares a vault the daemon ensures exists at startup.
type VaultConfig struct {
	Originator      string          `toml:"Originator"`
	Underlying      string          `toml:"Underlying"`
	IntervalSeconds int64           `toml:"IntervalSeconds"`
	Nonce           uint64          `toml:"Nonce"`
	Tranches        []TrancheConfig `toml:"Tranche"`
}

// Config is the daemon's root configuration.
type Config struct {
	ListenAddress string        `toml:"ListenAddress"`
	DataDir       string        `toml:"DataDir"`
	Environment   string        `toml:"Environment"`
	Vaults        []VaultConfig `toml:"Vault"`
}

const defaultConfig = `ListenAddress = ":8645"
DataDir = "./data"
Environment = "dev"

[[Vault]]
Originator = "0000000000000000000000000000000000000001"
Underlying = "USDC"
IntervalSeconds = 86400
Nonce = 0

[[Vault.Tranche]]
TargetAprBps = 500
AllocationPct = 70

[[Vault.Tranche]]
TargetAprBps = 1000
AllocationPct = 20

[[Vault.Tranche]]
TargetAprBps = 2000
AllocationPct = 10
`

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfig, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the daemon-level fields and every declared vault.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	for i := range c.Vaults {
		if _, err := c.Vaults[i].VaultConfig(); err != nil {
			return fmt.Errorf("vault %d: %w", i, err)
		}
	}
	return nil
}

// VaultConfig converts the TOML declaration into the factory's configuration,
// applying the same creation-time validation the factory enforces.
func (v VaultConfig) VaultConfig() (tranche.VaultConfig, error) {
	var cfg tranche.VaultConfig
	originator, err := ParseAddress(v.Originator)
	if err != nil {
		return cfg, fmt.Errorf("originator: %w", err)
	}
	if len(v.Tranches) != tranche.NumTranches {
		return cfg, fmt.Errorf("expected %d tranches, got %d", tranche.NumTranches, len(v.Tranches))
	}
	cfg.Originator = originator
	cfg.Underlying = strings.TrimSpace(v.Underlying)
	cfg.DistributionInterval = v.IntervalSeconds
	cfg.Nonce = v.Nonce
	for i := range v.Tranches {
		cfg.Tranches[i] = tranche.TrancheConfig{
			TargetAprBps:  v.Tranches[i].TargetAprBps,
			AllocationPct: v.Tranches[i].AllocationPct,
		}
	}
	if err := tranche.ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseAddress decodes a 20-byte hex address, accepting an optional 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
