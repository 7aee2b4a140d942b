package lifecycle

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/state"
	"github.com/weichain/gsol-minter/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Network:                 "devnet",
		ContractAddress:         "4Xmh3sk2pGEFw6jhrrYzJpPqszSiLEwGHUPKLRDBt5L7",
		InitialSignature:        "SIG0",
		EcdsaKeyName:            "dfx_test_key",
		LedgerID:                "aaaaa-aa",
		MinterAccountID:         "aaaaa-aa",
		MinimumWithdrawalAmount: "1",
	}
}

func newStore(t *testing.T, path string) *storage.Store {
	t.Helper()
	store, err := storage.New(path)
	if err != nil {
		t.Fatalf("storage.New error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
	return store
}

func TestBoot_FirstStartRecordsInit(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "minter.sqlite"))
	mgr := state.NewManager(store, nil)

	if err := Boot(mgr, store, testConfig()); err != nil {
		t.Fatalf("Boot error: %v", err)
	}

	count, err := store.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents error: %v", err)
	}
	if count != 1 {
		t.Errorf("event count = %d, want 1 (Init)", count)
	}

	mgr.MustRead(func(s *state.State) {
		if s.LastKnownSignature != "SIG0" {
			t.Errorf("cursor = %q, want SIG0", s.LastKnownSignature)
		}
	})
}

func TestBoot_RestartReplaysAndKeepsCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minter.sqlite")
	store := newStore(t, path)

	mgr := state.NewManager(store, nil)
	if err := Boot(mgr, store, testConfig()); err != nil {
		t.Fatalf("first Boot error: %v", err)
	}

	if err := mgr.ProcessEvents(
		events.LastKnownSignature{Sig: "SIG3"},
		events.NewRange{Range: events.NewSignatureRange("SIG3", "SIG0")},
	); err != nil {
		t.Fatalf("ProcessEvents error: %v", err)
	}
	// Consume ids the way the pipelines would.
	mgr.NextDepositID()
	mgr.NextDepositID()
	mgr.NextBurnID()

	if err := Shutdown(mgr); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	// Second process start against the same log.
	replayed := state.NewManager(store, nil)
	if err := Boot(replayed, store, testConfig()); err != nil {
		t.Fatalf("second Boot error: %v", err)
	}

	replayed.MustRead(func(s *state.State) {
		if s.LastKnownSignature != "SIG3" {
			t.Errorf("cursor = %q, want SIG3", s.LastKnownSignature)
		}
		if s.DepositIDCounter != 2 {
			t.Errorf("deposit counter = %d, want 2", s.DepositIDCounter)
		}
		if s.BurnIDCounter != 1 {
			t.Errorf("burn counter = %d, want 1", s.BurnIDCounter)
		}
		if _, ok := s.SignatureRanges["SIG3:SIG0"]; !ok {
			t.Error("pending range lost across restart")
		}
	})
}

func TestBoot_UpgradeOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minter.sqlite")
	store := newStore(t, path)

	mgr := state.NewManager(store, nil)
	if err := Boot(mgr, store, testConfig()); err != nil {
		t.Fatalf("first Boot error: %v", err)
	}

	cfg := testConfig()
	cfg.UpgradeMinimumAmount = "25"
	cfg.UpgradeInitialSignature = "SIG9"

	upgraded := state.NewManager(store, nil)
	if err := Boot(upgraded, store, cfg); err != nil {
		t.Fatalf("upgrade Boot error: %v", err)
	}

	upgraded.MustRead(func(s *state.State) {
		if s.MinimumWithdrawalAmount.Cmp(big.NewInt(25)) != 0 {
			t.Errorf("minimum = %s, want 25", s.MinimumWithdrawalAmount)
		}
		if s.LastKnownSignature != "SIG9" {
			t.Errorf("cursor = %q, want SIG9", s.LastKnownSignature)
		}
	})

	// The upgrade is in the log: a third boot without overrides keeps it.
	third := state.NewManager(store, nil)
	if err := Boot(third, store, testConfig()); err != nil {
		t.Fatalf("third Boot error: %v", err)
	}
	third.MustRead(func(s *state.State) {
		if s.MinimumWithdrawalAmount.Cmp(big.NewInt(25)) != 0 {
			t.Errorf("minimum after replay = %s, want 25", s.MinimumWithdrawalAmount)
		}
	})
}

func TestBoot_RejectsInvalidUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minter.sqlite")
	store := newStore(t, path)

	mgr := state.NewManager(store, nil)
	if err := Boot(mgr, store, testConfig()); err != nil {
		t.Fatalf("first Boot error: %v", err)
	}

	cfg := testConfig()
	cfg.UpgradeMinimumAmount = "0"

	bad := state.NewManager(store, nil)
	if err := Boot(bad, store, cfg); err == nil {
		t.Error("Boot with zero upgrade minimum succeeded, want error")
	}
}
