package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ipmarket/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "ipmarket-local", cfg.NetworkName)
	require.FileExists(t, path)
	require.FileExists(t, cfg.OperatorKeystore)

	// A generated keystore must be loadable with the empty passphrase.
	_, err = crypto.LoadFromKeystore(cfg.OperatorKeystore, "")
	require.NoError(t, err)

	// Loading again keeps the persisted values.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.OperatorKeystore, again.OperatorKeystore)
}

func TestLoadExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystore := filepath.Join(dir, "op.keystore")
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveToKeystore(keystore, key, ""))

	addr := key.PubKey().Address().String()
	body := `
RPCAddress = ":9999"
MetricsAddress = ":9100"
DataDir = "/tmp/ipmarket"
NetworkName = "ipmarket-test"
OperatorKeystore = "` + keystore + `"
PausedModules = ["market.deals"]

[GenesisAllocations]
"` + addr + `" = "100000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.RPCAddress)
	require.Equal(t, "ipmarket-test", cfg.NetworkName)

	pauses := cfg.Pauses()
	require.True(t, pauses.IsPaused("market.deals"))
	require.False(t, pauses.IsPaused("market.listings"))

	allocations, err := cfg.Allocations()
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	var want [20]byte
	copy(want[:], key.PubKey().Address().Bytes())
	require.Zero(t, allocations[want].Cmp(big.NewInt(100000)))
}

func TestAllocationsRejectBadEntries(t *testing.T) {
	cfg := &Config{GenesisAllocations: map[string]string{"not-bech32": "10"}}
	_, err := cfg.Allocations()
	require.Error(t, err)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	cfg = &Config{GenesisAllocations: map[string]string{key.PubKey().Address().String(): "-5"}}
	_, err = cfg.Allocations()
	require.Error(t, err)
}
