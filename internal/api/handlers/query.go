package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/weichain/gsol-minter/internal/coupon"
	"github.com/weichain/gsol-minter/internal/state"
	"github.com/weichain/gsol-minter/internal/withdraw"
)

// Address returns the minter public key in both SEC1 forms.
func Address(svc *withdraw.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		compressed, uncompressed, err := svc.PublicKeyHex(r.Context())
		if err != nil {
			slog.Error("failed to fetch minter public key", "error", err)
			http.Error(w, "failed to fetch minter public key", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"compressed_public_key_hex":   compressed,
			"uncompressed_public_key_hex": uncompressed,
		})
	}
}

// LedgerID returns the configured ledger principal.
func LedgerID(mgr *state.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		mgr.MustRead(func(s *state.State) { id = s.LedgerID.Text() })
		writeJSON(w, http.StatusOK, map[string]string{"ledger_id": id})
	}
}

// Verify checks a posted coupon. Stateless: the coupon carries its own key.
func Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c coupon.Coupon
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, "invalid coupon body", http.StatusBadRequest)
			return
		}

		valid, err := c.Verify()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
	}
}

// Health reports liveness.
func Health(network string, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"network": network,
		})
	}
}
