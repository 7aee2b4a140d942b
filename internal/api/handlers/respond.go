package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/weichain/gsol-minter/internal/withdraw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeWithdrawError maps a typed withdrawal error to an HTTP status.
func writeWithdrawError(w http.ResponseWriter, err *withdraw.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case withdraw.ErrAmountTooLow, withdraw.ErrInvalidDestination:
		status = http.StatusBadRequest
	case withdraw.ErrAlreadyProcessing:
		status = http.StatusConflict
	case withdraw.ErrBurnFailed:
		status = http.StatusUnprocessableEntity
	case withdraw.ErrUnknownBurnID:
		status = http.StatusNotFound
	case withdraw.ErrLedgerUnreachable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"error": err})
}
