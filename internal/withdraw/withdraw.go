// Package withdraw implements the egress pipeline: burn gSOL on the ledger,
// canonicalize the withdrawal into a coupon message, sign it through the
// oracle, recover the y-parity and persist the redeemed coupon.
package withdraw

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/weichain/gsol-minter/internal/coupon"
	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/ledger"
	"github.com/weichain/gsol-minter/internal/principal"
	"github.com/weichain/gsol-minter/internal/signer"
	"github.com/weichain/gsol-minter/internal/state"
)

// Service wires the withdrawal flow to its collaborators.
type Service struct {
	mgr            *state.Manager
	ledger         ledger.Client
	signer         signer.Signer
	self           principal.Principal
	derivationPath [][]byte
}

// New creates the withdrawal service. self is the minter's own ledger
// account; burns transfer into it.
func New(mgr *state.Manager, ledgerClient ledger.Client, oracle signer.Signer, self principal.Principal) *Service {
	return &Service{
		mgr:            mgr,
		ledger:         ledgerClient,
		signer:         oracle,
		self:           self,
		derivationPath: signer.DefaultDerivationPath(),
	}
}

// Info is the per-caller withdrawal summary.
type Info struct {
	BurnIDs []uint64        `json:"burn_ids"`
	Coupons []coupon.Coupon `json:"coupons"`
}

// Withdraw burns the caller's gSOL and returns the signed coupon. Failures
// before the burn leave no trace; failures after the burn leave the
// withdrawal in the burned set, recoverable through GetCoupon.
func (s *Service) Withdraw(ctx context.Context, caller principal.Principal, solanaAddress string, amount *big.Int) (*coupon.Coupon, *Error) {
	if strings.TrimSpace(solanaAddress) == "" {
		return nil, &Error{Kind: ErrInvalidDestination, Message: "destination address cannot be blank"}
	}
	if amount.Cmp(s.mgr.MinimumWithdrawalAmount()) < 0 {
		return nil, &Error{Kind: ErrAmountTooLow, Message: "withdraw amount is less than minimum withdrawal amount"}
	}

	guard, err := state.NewWithdrawGuard(s.mgr, caller)
	if err != nil {
		return nil, &Error{Kind: ErrAlreadyProcessing, Message: "a withdrawal for this principal is already in flight"}
	}
	defer guard.Release()

	burnID := s.mgr.NextBurnID()
	memo, err := ledger.EncodeMemo(burnID)
	if err != nil {
		return nil, &Error{Kind: ErrBurnFailed, Message: err.Error()}
	}

	now := s.mgr.Now()
	blockIndex, err := s.ledger.TransferFrom(ctx, ledger.TransferFromArgs{
		From:          caller,
		To:            s.self,
		Amount:        amount,
		CreatedAtTime: &now,
		Memo:          memo,
	})
	if err != nil {
		// The burn did not happen; nothing is recorded.
		var transferErr *ledger.TransferError
		if errors.As(err, &transferErr) {
			slog.Debug("burn rejected by ledger", "burnID", burnID, "kind", transferErr.Kind)
			return nil, &Error{Kind: ErrBurnFailed, Ledger: transferErr}
		}
		slog.Warn("failed to reach the ledger for burn", "burnID", burnID, "error", err)
		return nil, &Error{Kind: ErrLedgerUnreachable, Message: err.Error()}
	}

	withdrawal := events.WithdrawalEvent{
		BurnID:         burnID,
		FromICPAddress: caller,
		ToSolAddress:   solanaAddress,
		Amount:         new(big.Int).Set(amount),
		BurnTimestamp:  &now,
		BurnBlockIndex: &blockIndex,
	}
	if err := s.mgr.ProcessEvent(events.WithdrawalBurnedEvent{Withdrawal: withdrawal}); err != nil {
		slog.Error("failed to record burned withdrawal", "burnID", burnID, "error", err)
	}
	slog.Info("withdrawal burned",
		"burnID", burnID,
		"caller", caller.Text(),
		"amount", amount,
		"block", blockIndex,
	)

	return s.redeem(ctx, withdrawal)
}

// redeem runs the coupon half of the flow for a burned withdrawal:
// canonicalize, hash, sign, recover parity, record the redeemed event.
func (s *Service) redeem(ctx context.Context, w events.WithdrawalEvent) (*coupon.Coupon, *Error) {
	pub, wErr := s.minterPublicKey(ctx)
	if wErr != nil {
		return nil, wErr
	}

	message := coupon.CanonicalMessage(
		w.FromICPAddress.Text(),
		w.ToSolAddress,
		w.Amount,
		w.BurnID,
		*w.BurnTimestamp,
		*w.BurnBlockIndex,
	)
	hash := coupon.MessageHash(message)

	signature, err := s.signer.Sign(ctx, hash[:], s.derivationPath)
	if err != nil {
		// The burn already happened; the caller recovers via GetCoupon.
		slog.Warn("oracle signing failed", "burnID", w.BurnID, "error", err)
		return nil, &Error{Kind: ErrSigningFailed, Message: err.Error()}
	}

	c, err := coupon.Build(message, signature, pub)
	if err != nil {
		slog.Error("coupon construction failed", "burnID", w.BurnID, "error", err)
		return nil, &Error{Kind: ErrCoupon, Message: err.Error()}
	}

	redeemed := w
	redeemed.Coupon = c
	if err := s.mgr.ProcessEvent(events.WithdrawalRedeemedEvent{Withdrawal: redeemed}); err != nil {
		slog.Error("failed to record redeemed withdrawal", "burnID", w.BurnID, "error", err)
	}
	slog.Info("withdrawal redeemed", "burnID", w.BurnID, "recoveryID", *c.RecoveryID)

	return c, nil
}

// GetCoupon returns the coupon for a prior burn, regenerating it when the
// signing step failed the first time. The coupon is deterministic in the
// withdrawal fields and the fixed key, so regeneration is safe.
func (s *Service) GetCoupon(ctx context.Context, caller principal.Principal, burnID uint64) (*coupon.Coupon, *Error) {
	guard, err := state.NewWithdrawGuard(s.mgr, caller)
	if err != nil {
		return nil, &Error{Kind: ErrAlreadyProcessing, Message: "a withdrawal for this principal is already in flight"}
	}
	defer guard.Release()

	var (
		redeemed *events.WithdrawalEvent
		burned   *events.WithdrawalEvent
	)
	s.mgr.MustRead(func(st *state.State) {
		if w, ok := st.RedeemedEvents[burnID]; ok && w.FromICPAddress.Equal(caller) {
			copied := w
			redeemed = &copied
		}
		if w, ok := st.BurnedEvents[burnID]; ok && w.FromICPAddress.Equal(caller) {
			copied := w
			burned = &copied
		}
	})

	switch {
	case redeemed != nil:
		return redeemed.Coupon, nil
	case burned != nil:
		return s.redeem(ctx, *burned)
	default:
		return nil, &Error{Kind: ErrUnknownBurnID}
	}
}

// GetWithdrawInfo lists the caller's burn ids and issued coupons.
func (s *Service) GetWithdrawInfo(caller principal.Principal) Info {
	info := Info{BurnIDs: []uint64{}, Coupons: []coupon.Coupon{}}
	s.mgr.MustRead(func(st *state.State) {
		for id, w := range st.BurnedEvents {
			if w.FromICPAddress.Equal(caller) {
				info.BurnIDs = append(info.BurnIDs, id)
			}
		}
		for id, w := range st.RedeemedEvents {
			if w.FromICPAddress.Equal(caller) {
				info.BurnIDs = append(info.BurnIDs, id)
				if w.Coupon != nil {
					info.Coupons = append(info.Coupons, *w.Coupon)
				}
			}
		}
	})
	sort.Slice(info.BurnIDs, func(i, j int) bool { return info.BurnIDs[i] < info.BurnIDs[j] })
	return info
}

// PublicKeyHex returns the minter key in compressed and uncompressed hex.
func (s *Service) PublicKeyHex(ctx context.Context) (string, string, error) {
	pub, wErr := s.minterPublicKey(ctx)
	if wErr != nil {
		return "", "", wErr
	}
	return coupon.CompressedHex(pub), coupon.UncompressedHex(pub), nil
}

// minterPublicKey returns the oracle key, fetching and caching it on first
// use. The key is immutable for the derivation path, so the cache lives for
// the process lifetime.
func (s *Service) minterPublicKey(ctx context.Context) (*btcec.PublicKey, *Error) {
	cached := s.mgr.CachedPublicKey()
	if cached == nil {
		fetched, err := s.signer.PublicKey(ctx, s.derivationPath)
		if err != nil {
			return nil, &Error{Kind: ErrSigningFailed, Message: err.Error()}
		}
		s.mgr.SetCachedPublicKey(fetched)
		cached = fetched
	}

	pub, err := coupon.ParsePublicKey(cached)
	if err != nil {
		return nil, &Error{Kind: ErrCoupon, Message: err.Error()}
	}
	return pub, nil
}
