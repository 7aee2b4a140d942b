// Package events defines the entities of the deposit and withdrawal
// pipelines and the append-only event union that records every state
// transition. The numeric variant tags are the on-disk schema and must be
// preserved across upgrades.
package events

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/weichain/gsol-minter/internal/coupon"
	"github.com/weichain/gsol-minter/internal/principal"
)

// Network identifies the Solana deployment a minter is bound to.
type Network uint8

const (
	NetworkMainnet Network = 1
	NetworkDevnet  Network = 2
)

func (n Network) String() string {
	switch n {
	case NetworkMainnet:
		return "mainnet"
	case NetworkDevnet:
		return "devnet"
	default:
		return fmt.Sprintf("network(%d)", uint8(n))
	}
}

// NetworkFromString parses a network name.
func NetworkFromString(s string) (Network, error) {
	switch s {
	case "mainnet":
		return NetworkMainnet, nil
	case "devnet":
		return NetworkDevnet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", s)
	}
}

// Retriable counts how many times an operation on an entry has failed.
type Retriable uint8

// LimitReached reports whether the entry should be filtered out of further
// scan rounds.
func (r Retriable) LimitReached(limit uint8) bool {
	return uint8(r) >= limit
}

// Increment bumps the counter, saturating instead of wrapping.
func (r *Retriable) Increment() {
	if *r < Retriable(^uint8(0)) {
		*r++
	}
}

// SignatureRange is an open interval of Solana signatures still to be
// enumerated: BeforeSig is exclusive-newer, UntilSig exclusive-older.
type SignatureRange struct {
	BeforeSig string    `cbor:"0,keyasint" json:"before"`
	UntilSig  string    `cbor:"1,keyasint" json:"until"`
	Retries   Retriable `cbor:"2,keyasint" json:"retries"`
}

// NewSignatureRange creates a range with a zero retry counter.
func NewSignatureRange(before, until string) SignatureRange {
	return SignatureRange{BeforeSig: before, UntilSig: until}
}

// Key identifies the range in the pending-range map.
func (r SignatureRange) Key() string {
	return r.BeforeSig + ":" + r.UntilSig
}

// Signature is a Solana transaction signature whose full transaction has not
// yet been fetched and classified.
type Signature struct {
	Sig     string    `cbor:"0,keyasint" json:"signature"`
	Retries Retriable `cbor:"1,keyasint" json:"retries"`
}

// NewSignature creates a pending signature with a zero retry counter.
func NewSignature(sig string) Signature {
	return Signature{Sig: sig}
}

// DepositEvent is a deposit observed on Solana, to be minted on the ledger.
type DepositEvent struct {
	ID             uint64              `cbor:"0,keyasint" json:"deposit_id"`
	SolSig         string              `cbor:"1,keyasint" json:"sol_sig"`
	FromSolAddress string              `cbor:"2,keyasint" json:"from_sol_address"`
	ToICPAddress   principal.Principal `cbor:"3,keyasint" json:"to_icp_address"`
	Amount         *big.Int            `cbor:"4,keyasint" json:"amount"`
	MintBlockIndex *uint64             `cbor:"5,keyasint,omitempty" json:"mint_block_index,omitempty"`
	Retries        Retriable           `cbor:"6,keyasint" json:"retries"`
}

// WithdrawalEvent is a gSOL burn on the ledger, redeemed into a coupon.
// Lifecycle: created -> burned (burn fields set) -> redeemed (coupon set).
type WithdrawalEvent struct {
	BurnID         uint64              `cbor:"0,keyasint" json:"burn_id"`
	FromICPAddress principal.Principal `cbor:"1,keyasint" json:"from_icp_address"`
	ToSolAddress   string              `cbor:"2,keyasint" json:"to_sol_address"`
	Amount         *big.Int            `cbor:"3,keyasint" json:"amount"`
	BurnTimestamp  *uint64             `cbor:"4,keyasint,omitempty" json:"burn_timestamp,omitempty"`
	BurnBlockIndex *uint64             `cbor:"5,keyasint,omitempty" json:"burn_block_index,omitempty"`
	Coupon         *coupon.Coupon      `cbor:"6,keyasint,omitempty" json:"coupon,omitempty"`
	Retries        Retriable           `cbor:"7,keyasint" json:"retries"`
}

// Redeemed reports whether the withdrawal carries its coupon.
func (w *WithdrawalEvent) Redeemed() bool {
	return w.Coupon != nil
}

// Deposit payload layout: a 12-byte discriminator area, the UTF-8 textual
// form of the destination principal, and a trailing little-endian u64 amount.
const (
	depositDiscriminatorLen = 12
	depositAmountLen        = 8
)

// ParseDepositPayload decodes the base64 "Program data:" payload of a deposit
// transaction. The principal segment must be the valid canonical textual form
// of a ledger principal; anything else fails closed.
func ParseDepositPayload(base64Data string) (principal.Principal, uint64, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return principal.Principal{}, 0, fmt.Errorf("payload is not valid base64: %w", err)
	}
	if len(raw) < depositDiscriminatorLen+depositAmountLen+1 {
		return principal.Principal{}, 0, fmt.Errorf("payload too short: %d bytes", len(raw))
	}

	amount := binary.LittleEndian.Uint64(raw[len(raw)-depositAmountLen:])

	principalBytes := raw[depositDiscriminatorLen : len(raw)-depositAmountLen]
	if !utf8.Valid(principalBytes) {
		return principal.Principal{}, 0, fmt.Errorf("principal segment is not valid UTF-8")
	}
	to, err := principal.FromText(string(principalBytes))
	if err != nil {
		return principal.Principal{}, 0, fmt.Errorf("principal segment: %w", err)
	}

	return to, amount, nil
}

// EncodeDepositPayload is the inverse of ParseDepositPayload. The on-Solana
// program emits this layout; the encoder exists for tests and tooling.
func EncodeDepositPayload(to principal.Principal, amount uint64) string {
	text := to.Text()
	raw := make([]byte, depositDiscriminatorLen+len(text)+depositAmountLen)
	copy(raw[depositDiscriminatorLen:], text)
	binary.LittleEndian.PutUint64(raw[len(raw)-depositAmountLen:], amount)
	return base64.StdEncoding.EncodeToString(raw)
}

// EncodeDepositPayloadRaw builds a payload around an arbitrary principal
// segment. Tests use it to model malformed program output.
func EncodeDepositPayloadRaw(principalSegment []byte, amount uint64) string {
	raw := make([]byte, depositDiscriminatorLen+len(principalSegment)+depositAmountLen)
	copy(raw[depositDiscriminatorLen:], principalSegment)
	binary.LittleEndian.PutUint64(raw[len(raw)-depositAmountLen:], amount)
	return base64.StdEncoding.EncodeToString(raw)
}

// NewDepositEvent builds a deposit from a classified transaction.
func NewDepositEvent(id uint64, solSig, fromSolAddress, base64Data string) (DepositEvent, error) {
	to, amount, err := ParseDepositPayload(base64Data)
	if err != nil {
		return DepositEvent{}, err
	}
	return DepositEvent{
		ID:             id,
		SolSig:         solSig,
		FromSolAddress: fromSolAddress,
		ToICPAddress:   to,
		Amount:         new(big.Int).SetUint64(amount),
	}, nil
}

// InitArg is the recorded configuration of the first event in the log.
type InitArg struct {
	Network                 Network             `cbor:"0,keyasint" json:"network"`
	ContractAddress         string              `cbor:"1,keyasint" json:"contract_address"`
	InitialSignature        string              `cbor:"2,keyasint" json:"initial_signature"`
	EcdsaKeyName            string              `cbor:"3,keyasint" json:"ecdsa_key_name"`
	LedgerID                principal.Principal `cbor:"4,keyasint" json:"ledger_id"`
	MinimumWithdrawalAmount *big.Int            `cbor:"5,keyasint" json:"minimum_withdrawal_amount"`
}

// UpgradeArg carries the overridable configuration fields. Nil means "keep".
type UpgradeArg struct {
	ContractAddress         *string  `cbor:"0,keyasint,omitempty" json:"contract_address,omitempty"`
	InitialSignature        *string  `cbor:"1,keyasint,omitempty" json:"initial_signature,omitempty"`
	EcdsaKeyName            *string  `cbor:"2,keyasint,omitempty" json:"ecdsa_key_name,omitempty"`
	MinimumWithdrawalAmount *big.Int `cbor:"3,keyasint,omitempty" json:"minimum_withdrawal_amount,omitempty"`
}

// Empty reports whether the upgrade overrides nothing.
func (u UpgradeArg) Empty() bool {
	return u.ContractAddress == nil && u.InitialSignature == nil &&
		u.EcdsaKeyName == nil && u.MinimumWithdrawalAmount == nil
}
