package app

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setKeyEnv(t *testing.T) string {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	addr := crypto.PubkeyToAddress(key.PublicKey)
	t.Setenv("ETH_WS_URL", "ws://localhost:8546")
	t.Setenv("WATCH_ADDRESS", addr.Hex())
	t.Setenv("SIGNER_KEY", "0x"+hex.EncodeToString(crypto.FromECDSA(key)))
	return addr.Hex()
}

func TestLoadConfig_Defaults(t *testing.T) {
	addr := setKeyEnv(t)

	cfg, _, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.FeeBumpPercent)
	assert.Equal(t, 8, cfg.WatcherWorkers)
	assert.Equal(t, 4096, cfg.TasksBuffer)
	assert.Equal(t, float64(50), cfg.LookupRPS)
	assert.Equal(t, 256, cfg.NotifyBuffer)
	assert.Equal(t, ":2112", cfg.MetricsAddr)
	assert.False(t, cfg.NonceDedup)
	assert.Nil(t, cfg.ChainIDOrNil())

	acc, err := cfg.Account()
	require.NoError(t, err)
	assert.Equal(t, addr, acc.Address.Hex())
	assert.NotNil(t, acc.Key)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setKeyEnv(t)
	t.Setenv("FEE_BUMP_PERCENT", "25")
	t.Setenv("NONCE_DEDUP", "true")
	t.Setenv("CHAIN_ID", "11155111")

	cfg, _, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, int64(25), cfg.FeeBumpPercent)
	assert.True(t, cfg.NonceDedup)
	assert.Equal(t, "11155111", cfg.ChainIDOrNil().String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bump below minimum", env: map[string]string{"FEE_BUMP_PERCENT": "9"}},
		{name: "bad address", env: map[string]string{"WATCH_ADDRESS": "0x1234"}},
		{name: "bad key", env: map[string]string{"SIGNER_KEY": "not-a-key"}},
		{name: "key for another account", env: map[string]string{"SIGNER_KEY": hex.EncodeToString(crypto.FromECDSA(other))}},
		{name: "token without chat", env: map[string]string{"TELEGRAM_TOKEN": "123:abc"}},
		{name: "negative chain id", env: map[string]string{"CHAIN_ID": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setKeyEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, _, err := LoadConfig()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setKeyEnv(t)
	t.Setenv("ETH_WS_URL", "")

	_, _, err := LoadConfig()
	assert.Error(t, err)
}
