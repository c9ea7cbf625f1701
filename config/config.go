package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"ipmarket/crypto"
	nativecommon "ipmarket/native/common"
)

type Config struct {
	RPCAddress         string            `toml:"RPCAddress"`
	MetricsAddress     string            `toml:"MetricsAddress"`
	DataDir            string            `toml:"DataDir"`
	NetworkName        string            `toml:"NetworkName"`
	OperatorKeystore   string            `toml:"OperatorKeystore"`
	PausedModules      []string          `toml:"PausedModules,omitempty"`
	GenesisAllocations map[string]string `toml:"GenesisAllocations,omitempty"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "ipmarket-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./ipmarket-data"
	}
	if cfg.OperatorKeystore == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystore
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystore != keystorePath {
		cfg.OperatorKeystore = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:       ":8080",
		MetricsAddress:   ":9090",
		DataDir:          "./ipmarket-data",
		NetworkName:      "ipmarket-local",
		OperatorKeystore: keystorePath,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	return filepath.Join(dir, "operator.keystore")
}

// Pauses converts the configured module names into a pause view consulted by
// the engine.
func (c *Config) Pauses() nativecommon.StaticPauses {
	pauses := make(nativecommon.StaticPauses, len(c.PausedModules))
	for _, module := range c.PausedModules {
		trimmed := strings.TrimSpace(module)
		if trimmed != "" {
			pauses[trimmed] = true
		}
	}
	return pauses
}

// Allocations decodes the configured genesis balances. Keys are bech32
// addresses, values are non-negative decimal amounts.
func (c *Config) Allocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.GenesisAllocations))
	for rawAddr, rawAmount := range c.GenesisAllocations {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(rawAddr))
		if err != nil {
			return nil, fmt.Errorf("genesis allocation %q: %w", rawAddr, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(rawAmount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis allocation %q: invalid amount %q", rawAddr, rawAmount)
		}
		var addr [20]byte
		copy(addr[:], decoded.Bytes())
		out[addr] = amount
	}
	return out, nil
}
