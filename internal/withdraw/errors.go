package withdraw

import (
	"fmt"

	"github.com/weichain/gsol-minter/internal/ledger"
)

// ErrorKind enumerates the withdrawal failure variants surfaced to callers.
type ErrorKind string

const (
	ErrAmountTooLow       ErrorKind = "AmountTooLow"
	ErrAlreadyProcessing  ErrorKind = "AlreadyProcessing"
	ErrInvalidDestination ErrorKind = "InvalidDestination"
	ErrBurnFailed         ErrorKind = "BurnFailed"
	ErrLedgerUnreachable  ErrorKind = "SendingMessageToLedgerFailed"
	ErrSigningFailed      ErrorKind = "SigningWithEcdsaFailed"
	ErrCoupon             ErrorKind = "CouponError"
	ErrUnknownBurnID      ErrorKind = "UnknownBurnId"
)

// Error is the typed withdrawal error. Ledger carries the typed rejection
// for BurnFailed.
type Error struct {
	Kind    ErrorKind             `json:"kind"`
	Message string                `json:"message,omitempty"`
	Ledger  *ledger.TransferError `json:"ledger_error,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Ledger != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Ledger)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return string(e.Kind)
	}
}
