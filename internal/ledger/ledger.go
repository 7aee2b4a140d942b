// Package ledger is the client boundary to the gSOL ledger. The minter is
// the ledger's minting account: Transfer mints to a depositor, TransferFrom
// pulls (burns) a withdrawal caller's tokens via allowance.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/principal"
)

// TransferArgs mirrors the ICRC-1 transfer argument.
type TransferArgs struct {
	FromSubaccount []byte              `json:"from_subaccount,omitempty"`
	To             principal.Principal `json:"to"`
	Amount         *big.Int            `json:"amount"`
	CreatedAtTime  *uint64             `json:"created_at_time,omitempty"`
	Memo           []byte              `json:"memo,omitempty"`
}

// TransferFromArgs mirrors the ICRC-2 transfer_from argument.
type TransferFromArgs struct {
	SpenderSubaccount []byte              `json:"spender_subaccount,omitempty"`
	From              principal.Principal `json:"from"`
	To                principal.Principal `json:"to"`
	Amount            *big.Int            `json:"amount"`
	CreatedAtTime     *uint64             `json:"created_at_time,omitempty"`
	Memo              []byte              `json:"memo,omitempty"`
}

// Client performs ledger calls. A typed rejection surfaces as *TransferError;
// anything else is a transport failure.
type Client interface {
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)
	TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error)
}

// ErrorKind enumerates the ICRC-1/ICRC-2 error variants.
type ErrorKind string

const (
	ErrBadFee                 ErrorKind = "BadFee"
	ErrBadBurn                ErrorKind = "BadBurn"
	ErrInsufficientFunds      ErrorKind = "InsufficientFunds"
	ErrInsufficientAllowance  ErrorKind = "InsufficientAllowance"
	ErrTooOld                 ErrorKind = "TooOld"
	ErrCreatedInFuture        ErrorKind = "CreatedInFuture"
	ErrDuplicate              ErrorKind = "Duplicate"
	ErrTemporarilyUnavailable ErrorKind = "TemporarilyUnavailable"
	ErrGenericError           ErrorKind = "GenericError"
)

// TransferError is a typed ledger rejection.
type TransferError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message,omitempty"`
	ExpectedFee *big.Int  `json:"expected_fee,omitempty"`
	Balance     *big.Int  `json:"balance,omitempty"`
	Allowance   *big.Int  `json:"allowance,omitempty"`
	DuplicateOf *uint64   `json:"duplicate_of,omitempty"`
}

func (e *TransferError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger rejected transfer: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("ledger rejected transfer: %s", e.Kind)
}

// memo is the CBOR shape of the ledger memo: a map with the single key "id".
type memo struct {
	ID uint64 `cbor:"id"`
}

// EncodeMemo encodes a deposit or burn id as the ledger memo. The ledger
// caps memos at 32 bytes; this encoding is at most 13 bytes (the largest
// id), and 9 bytes for any id below 2^32.
func EncodeMemo(id uint64) ([]byte, error) {
	encoded, err := cbor.Marshal(memo{ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode memo: %w", err)
	}
	if len(encoded) > config.LedgerMemoSizeLimit {
		return nil, fmt.Errorf("memo is %d bytes, limit %d", len(encoded), config.LedgerMemoSizeLimit)
	}
	return encoded, nil
}

// DecodeMemo is the inverse of EncodeMemo.
func DecodeMemo(data []byte) (uint64, error) {
	var m memo
	if err := cbor.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("failed to decode memo: %w", err)
	}
	return m.ID, nil
}
