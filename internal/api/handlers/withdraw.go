package handlers

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weichain/gsol-minter/internal/api/middleware"
	"github.com/weichain/gsol-minter/internal/withdraw"
)

// withdrawRequest is the body of POST /api/withdraw. The amount is a decimal
// string so arbitrary-precision values survive JSON.
type withdrawRequest struct {
	ToSolAddress string `json:"to_sol_address"`
	Amount       string `json:"amount"`
}

// Withdraw burns the caller's gSOL and returns the signed coupon.
func Withdraw(svc *withdraw.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.Caller(r)
		if !ok {
			http.Error(w, "missing caller principal", http.StatusUnauthorized)
			return
		}

		var req withdrawRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		amount, okAmount := new(big.Int).SetString(req.Amount, 10)
		if !okAmount || amount.Sign() < 0 {
			http.Error(w, "amount must be a non-negative decimal string", http.StatusBadRequest)
			return
		}

		coupon, wErr := svc.Withdraw(r.Context(), caller, req.ToSolAddress, amount)
		if wErr != nil {
			writeWithdrawError(w, wErr)
			return
		}
		writeJSON(w, http.StatusOK, coupon)
	}
}

// GetCoupon returns (or regenerates) the coupon for a prior burn.
func GetCoupon(svc *withdraw.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.Caller(r)
		if !ok {
			http.Error(w, "missing caller principal", http.StatusUnauthorized)
			return
		}

		burnID, err := strconv.ParseUint(chi.URLParam(r, "burnID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid burn id", http.StatusBadRequest)
			return
		}

		coupon, wErr := svc.GetCoupon(r.Context(), caller, burnID)
		if wErr != nil {
			writeWithdrawError(w, wErr)
			return
		}
		writeJSON(w, http.StatusOK, coupon)
	}
}

// WithdrawInfo lists the caller's burn ids and coupons.
func WithdrawInfo(svc *withdraw.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.Caller(r)
		if !ok {
			http.Error(w, "missing caller principal", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, svc.GetWithdrawInfo(caller))
	}
}
