package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mr-tron/base58"

	"github.com/weichain/gsol-minter/internal/principal"
)

// Config holds all minter configuration loaded from environment variables.
// The first six fields mirror the init arguments of the bridge deployment and
// are immutable after the Init event is recorded; later changes flow through
// the Upgrade* overrides below, which are recorded as an Upgrade event.
type Config struct {
	Network                 string `envconfig:"MINTER_NETWORK" default:"devnet"`
	ContractAddress         string `envconfig:"MINTER_CONTRACT_ADDRESS"`
	InitialSignature        string `envconfig:"MINTER_INITIAL_SIGNATURE"`
	EcdsaKeyName            string `envconfig:"MINTER_ECDSA_KEY_NAME" default:"dfx_test_key"`
	LedgerID                string `envconfig:"MINTER_LEDGER_ID"`
	MinimumWithdrawalAmount string `envconfig:"MINTER_MINIMUM_WITHDRAWAL_AMOUNT" default:"1"`

	// Upgrade overrides. Empty means "keep the replayed value". A non-empty
	// value that differs from state is recorded as an Upgrade event on boot.
	UpgradeContractAddress  string `envconfig:"MINTER_UPGRADE_CONTRACT_ADDRESS"`
	UpgradeInitialSignature string `envconfig:"MINTER_UPGRADE_INITIAL_SIGNATURE"`
	UpgradeEcdsaKeyName     string `envconfig:"MINTER_UPGRADE_ECDSA_KEY_NAME"`
	UpgradeMinimumAmount    string `envconfig:"MINTER_UPGRADE_MINIMUM_WITHDRAWAL_AMOUNT"`

	// Ledger collaborator endpoint (ICRC-1/ICRC-2 HTTP gateway).
	LedgerURL string `envconfig:"MINTER_LEDGER_URL" default:"http://127.0.0.1:4943"`

	// The minter's own account on the ledger; burns transfer into it.
	MinterAccountID string `envconfig:"MINTER_ACCOUNT_ID"`

	// Signing oracle. MnemonicFile backs the local development signer; a
	// deployment against the threshold service swaps in an implementation of
	// the same interface.
	MnemonicFile string `envconfig:"MINTER_MNEMONIC_FILE"`

	// Optional RPC endpoint overrides (defaults are the public endpoints).
	RPCURLMainnet string `envconfig:"MINTER_RPC_URL_MAINNET"`
	RPCURLDevnet  string `envconfig:"MINTER_RPC_URL_DEVNET"`
	RPCRateLimit  int    `envconfig:"MINTER_RPC_RATE_LIMIT" default:"10"`

	// Controllers may call the debug endpoints. Comma-separated principals.
	Controllers string `envconfig:"MINTER_CONTROLLERS"`

	DBPath   string `envconfig:"MINTER_DB_PATH" default:"./data/minter.sqlite"`
	Port     int    `envconfig:"MINTER_PORT" default:"8080"`
	LogLevel string `envconfig:"MINTER_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"MINTER_LOG_DIR" default:"./logs"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "devnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"devnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if strings.TrimSpace(c.EcdsaKeyName) == "" {
		return fmt.Errorf("%w: ecdsa key name cannot be blank", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ContractAddress) == "" {
		return fmt.Errorf("%w: contract address cannot be blank", ErrInvalidConfig)
	}
	if _, err := solana.PublicKeyFromBase58(c.ContractAddress); err != nil {
		return fmt.Errorf("%w: contract address %q is not a valid base58 public key: %v", ErrInvalidConfig, c.ContractAddress, err)
	}
	if err := validateSignature(c.InitialSignature); err != nil {
		return fmt.Errorf("%w: initial signature: %v", ErrInvalidConfig, err)
	}
	if c.UpgradeInitialSignature != "" {
		if err := validateSignature(c.UpgradeInitialSignature); err != nil {
			return fmt.Errorf("%w: upgrade initial signature: %v", ErrInvalidConfig, err)
		}
	}
	ledger, err := principal.FromText(c.LedgerID)
	if err != nil {
		return fmt.Errorf("%w: ledger id %q: %v", ErrInvalidConfig, c.LedgerID, err)
	}
	if ledger.IsAnonymous() {
		return fmt.Errorf("%w: ledger id cannot be the anonymous principal", ErrInvalidConfig)
	}
	minter, err := principal.FromText(c.MinterAccountID)
	if err != nil {
		return fmt.Errorf("%w: minter account id %q: %v", ErrInvalidConfig, c.MinterAccountID, err)
	}
	if minter.IsAnonymous() {
		return fmt.Errorf("%w: minter account id cannot be the anonymous principal", ErrInvalidConfig)
	}
	min, ok := new(big.Int).SetString(c.MinimumWithdrawalAmount, 10)
	if !ok {
		return fmt.Errorf("%w: minimum withdrawal amount %q is not a decimal integer", ErrInvalidConfig, c.MinimumWithdrawalAmount)
	}
	if min.Sign() <= 0 {
		return fmt.Errorf("%w: minimum withdrawal amount must be positive", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.RPCRateLimit < 1 {
		return fmt.Errorf("%w: rpc rate limit must be at least 1, got %d", ErrInvalidConfig, c.RPCRateLimit)
	}
	return nil
}

// validateSignature checks that a string is the base58 form of a 64-byte
// Solana transaction signature.
func validateSignature(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("cannot be blank")
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%q is not valid base58: %v", s, err)
	}
	if len(decoded) != 64 {
		return fmt.Errorf("%q decodes to %d bytes, want 64", s, len(decoded))
	}
	return nil
}

// ControllerList returns the configured controller principals.
func (c *Config) ControllerList() []string {
	if strings.TrimSpace(c.Controllers) == "" {
		return nil
	}
	parts := strings.Split(c.Controllers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
