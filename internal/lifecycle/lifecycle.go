// Package lifecycle boots the minter: first start records the Init event,
// every later start replays the log and applies any configured upgrade
// overrides. Shutdown pins the scanning cursor and the id counters.
package lifecycle

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/principal"
	"github.com/weichain/gsol-minter/internal/state"
	"github.com/weichain/gsol-minter/internal/storage"
)

// InitArgFromConfig builds the Init event argument from the environment
// configuration. Config.Validate has already vetted the raw strings.
func InitArgFromConfig(cfg *config.Config) (events.InitArg, error) {
	network, err := events.NetworkFromString(cfg.Network)
	if err != nil {
		return events.InitArg{}, err
	}
	ledgerID, err := principal.FromText(cfg.LedgerID)
	if err != nil {
		return events.InitArg{}, fmt.Errorf("ledger id: %w", err)
	}
	min, ok := new(big.Int).SetString(cfg.MinimumWithdrawalAmount, 10)
	if !ok {
		return events.InitArg{}, fmt.Errorf("minimum withdrawal amount %q is not a decimal integer", cfg.MinimumWithdrawalAmount)
	}

	return events.InitArg{
		Network:                 network,
		ContractAddress:         cfg.ContractAddress,
		InitialSignature:        cfg.InitialSignature,
		EcdsaKeyName:            cfg.EcdsaKeyName,
		LedgerID:                ledgerID,
		MinimumWithdrawalAmount: min,
	}, nil
}

// UpgradeArgFromConfig collects the configured overrides. An empty result
// means no upgrade event is recorded.
func UpgradeArgFromConfig(cfg *config.Config) (events.UpgradeArg, error) {
	var arg events.UpgradeArg
	if cfg.UpgradeContractAddress != "" {
		arg.ContractAddress = &cfg.UpgradeContractAddress
	}
	if cfg.UpgradeInitialSignature != "" {
		arg.InitialSignature = &cfg.UpgradeInitialSignature
	}
	if cfg.UpgradeEcdsaKeyName != "" {
		arg.EcdsaKeyName = &cfg.UpgradeEcdsaKeyName
	}
	if cfg.UpgradeMinimumAmount != "" {
		min, ok := new(big.Int).SetString(cfg.UpgradeMinimumAmount, 10)
		if !ok {
			return events.UpgradeArg{}, fmt.Errorf("upgrade minimum withdrawal amount %q is not a decimal integer", cfg.UpgradeMinimumAmount)
		}
		arg.MinimumWithdrawalAmount = min
	}
	return arg, nil
}

// Boot initializes or replays the state. On an empty log the Init event is
// recorded; otherwise the full log is replayed and any upgrade overrides are
// validated and recorded.
func Boot(mgr *state.Manager, store *storage.Store, cfg *config.Config) error {
	count, err := store.CountEvents()
	if err != nil {
		return fmt.Errorf("failed to inspect event log: %w", err)
	}

	if count == 0 {
		arg, err := InitArgFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("invalid init configuration: %w", err)
		}
		if err := mgr.Init(arg); err != nil {
			return err
		}
		slog.Info("minter initialized",
			"network", arg.Network.String(),
			"contractAddress", arg.ContractAddress,
			"ledgerID", arg.LedgerID.Text(),
		)
		return nil
	}

	if err := mgr.Replay(); err != nil {
		return fmt.Errorf("failed to replay event log: %w", err)
	}
	slog.Info("state replayed", "events", count)

	upgrade, err := UpgradeArgFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid upgrade configuration: %w", err)
	}
	if upgrade.Empty() {
		return nil
	}
	if err := state.ValidateUpgradeArg(upgrade); err != nil {
		return fmt.Errorf("invalid upgrade configuration: %w", err)
	}
	if err := mgr.ProcessEvent(events.Upgrade{Arg: upgrade}); err != nil {
		return fmt.Errorf("failed to record upgrade event: %w", err)
	}
	slog.Info("upgrade applied")
	return nil
}

// Shutdown pins the scanning cursor and the monotonic counters so the next
// replay starts from them even if the tail of the log predates a crash.
func Shutdown(mgr *state.Manager) error {
	var (
		cursor    string
		depositID uint64
		burnID    uint64
	)
	if err := mgr.Read(func(s *state.State) {
		cursor = s.LastKnownSignature
		depositID = s.DepositIDCounter
		burnID = s.BurnIDCounter
	}); err != nil {
		return err
	}

	return mgr.ProcessEvents(
		events.LastKnownSignature{Sig: cursor},
		events.LastDepositID{N: depositID},
		events.LastBurnID{N: burnID},
	)
}
