// Package api exposes the minter's public surface over HTTP.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/weichain/gsol-minter/internal/api/handlers"
	"github.com/weichain/gsol-minter/internal/api/middleware"
	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/state"
	"github.com/weichain/gsol-minter/internal/storage"
	"github.com/weichain/gsol-minter/internal/withdraw"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(cfg *config.Config, mgr *state.Manager, svc *withdraw.Service, store *storage.Store) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)

	slog.Info("router initialized", "controllers", len(cfg.ControllerList()))

	r.Route("/api", func(r chi.Router) {
		// Public.
		r.Get("/health", handlers.Health(cfg.Network, Version))
		r.Get("/ledger-id", handlers.LedgerID(mgr))
		r.Get("/address", handlers.Address(svc))
		r.Post("/verify", handlers.Verify())

		// Authenticated.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate)

			r.Post("/withdraw", handlers.Withdraw(svc))
			r.Post("/coupon/{burnID}", handlers.GetCoupon(svc))
			r.Get("/withdraw-info", handlers.WithdrawInfo(svc))

			// Controller-only diagnostics.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireController(cfg.ControllerList()))

				r.Get("/debug/state", handlers.State(mgr))
				r.Get("/debug/storage", handlers.Storage(store))
				r.Get("/debug/tasks", handlers.ActiveTasks(mgr))
			})
		})
	})

	return r
}
