package signer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/weichain/gsol-minter/internal/config"
)

// LocalSigner emulates the threshold oracle for development and tests. The
// key is derived BIP-32-style from a mnemonic file; production deployments
// swap in the threshold service behind the same interface.
type LocalSigner struct {
	keyName string
	seed    []byte
}

// NewLocalSigner reads and validates the mnemonic file and derives the seed.
func NewLocalSigner(keyName, mnemonicFile string) (*LocalSigner, error) {
	if mnemonicFile == "" {
		return nil, config.ErrMnemonicFileNotSet
	}

	data, err := os.ReadFile(mnemonicFile)
	if err != nil {
		return nil, fmt.Errorf("read mnemonic file %q: %w", mnemonicFile, err)
	}
	mnemonic := strings.TrimSpace(string(data))
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic file %q is empty: %w", mnemonicFile, config.ErrInvalidMnemonic)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("mnemonic file %q: %w", mnemonicFile, config.ErrInvalidMnemonic)
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("mnemonic to seed: %w", err)
	}

	slog.Info("local signer created", "keyName", keyName)
	return &LocalSigner{keyName: keyName, seed: seed}, nil
}

// NewLocalSignerFromSeed constructs a signer directly from a seed. Tests use
// it to avoid mnemonic files.
func NewLocalSignerFromSeed(keyName string, seed []byte) *LocalSigner {
	return &LocalSigner{keyName: keyName, seed: seed}
}

// derive walks the derivation path from the master key.
func (s *LocalSigner) derive(derivationPath [][]byte) (*btcec.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(s.seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	current := master
	for i, component := range derivationPath {
		index, err := pathComponentToIndex(component)
		if err != nil {
			return nil, fmt.Errorf("derivation path component %d: %w", i, err)
		}
		current, err = current.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", i, err)
		}
	}

	priv, err := current.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	return priv, nil
}

// PublicKey returns the SEC1 compressed public key at the derivation path.
func (s *LocalSigner) PublicKey(ctx context.Context, derivationPath [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, err := s.derive(derivationPath)
	if err != nil {
		return nil, err
	}
	return priv.PubKey().SerializeCompressed(), nil
}

// Sign produces the 64-byte (r,s) signature over a 32-byte message hash.
func (s *LocalSigner) Sign(ctx context.Context, messageHash []byte, derivationPath [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(messageHash) != 32 {
		return nil, fmt.Errorf("message hash must be 32 bytes, got %d", len(messageHash))
	}

	priv, err := s.derive(derivationPath)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	// crypto.Sign yields [R || S || V]; the oracle contract is (r,s) only.
	sig, err := crypto.Sign(messageHash, priv.ToECDSA())
	if err != nil {
		return nil, fmt.Errorf("sign message hash: %w", err)
	}
	return sig[:64], nil
}
