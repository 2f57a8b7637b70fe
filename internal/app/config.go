package app

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/pvzzle/nonceguard/internal/chain"
	"github.com/pvzzle/nonceguard/internal/fee"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	EthWSURL     string `env:"ETH_WS_URL,required,notEmpty"`
	WatchAddress string `env:"WATCH_ADDRESS,required,notEmpty"`
	SignerKey    string `env:"SIGNER_KEY,required,notEmpty,unset"`
	ChainID      int64  `env:"CHAIN_ID"`

	FeeBumpPercent int64 `env:"FEE_BUMP_PERCENT"`
	NonceDedup     bool  `env:"NONCE_DEDUP"`

	WatcherWorkers int     `env:"WATCHER_WORKERS"`
	TasksBuffer    int     `env:"TASKS_BUFFER"`
	LookupRPS      float64 `env:"LOOKUP_RPS"`
	NotifyBuffer   int     `env:"NOTIFY_BUFFER"`

	PostgresURL string `env:"POSTGRES_URL"`

	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	MetricsAddr string `env:"METRICS_ADDR"`
	AppEnv      string `env:"APP_ENV"`
}

func defaultConfig() Config {
	return Config{
		FeeBumpPercent: fee.MinBumpPercent,
		WatcherWorkers: 8,
		TasksBuffer:    4096,
		LookupRPS:      50,
		NotifyBuffer:   256,
		MetricsAddr:    ":2112",
	}
}

// LoadConfig reads .env (if any) and the process environment. The returned
// warning is non-empty when no .env file was found.
func LoadConfig() (Config, string, error) {
	var warning string
	if err := godotenv.Load(); err != nil {
		warning = ".env file not found, relying on environment variables"
	}

	config := defaultConfig()
	if err := env.Parse(&config); err != nil {
		return Config{}, warning, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, warning, err
	}

	return config, warning, nil
}

func (c Config) Validate() error {
	if c.FeeBumpPercent < fee.MinBumpPercent {
		return fmt.Errorf("%w: FEE_BUMP_PERCENT must be at least %d, got %d", ErrInvalidConfig, fee.MinBumpPercent, c.FeeBumpPercent)
	}
	if !common.IsHexAddress(c.WatchAddress) {
		return fmt.Errorf("%w: WATCH_ADDRESS %q is not an address", ErrInvalidConfig, c.WatchAddress)
	}
	if _, err := c.Account(); err != nil {
		return err
	}
	if c.ChainID < 0 {
		return fmt.Errorf("%w: CHAIN_ID must not be negative", ErrInvalidConfig)
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("%w: TELEGRAM_CHAT_ID is required with TELEGRAM_TOKEN", ErrInvalidConfig)
	}
	return nil
}

// Account parses the signing key and checks it controls the watched address.
func (c Config) Account() (chain.Account, error) {
	key, err := parseKey(c.SignerKey)
	if err != nil {
		return chain.Account{}, fmt.Errorf("%w: SIGNER_KEY: %v", ErrInvalidConfig, err)
	}

	addr := common.HexToAddress(c.WatchAddress)
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != addr {
		return chain.Account{}, fmt.Errorf("%w: SIGNER_KEY belongs to %s, not WATCH_ADDRESS %s", ErrInvalidConfig, signer.Hex(), addr.Hex())
	}

	return chain.Account{Address: addr, Key: key}, nil
}

// ChainIDOrNil returns nil when CHAIN_ID is unset so the node is asked instead.
func (c Config) ChainIDOrNil() *big.Int {
	if c.ChainID == 0 {
		return nil
	}
	return big.NewInt(c.ChainID)
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return crypto.HexToECDSA(s)
}
