package storage

import (
	"math/big"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/principal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "minter.sqlite"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}
	return store
}

func testInitEvent(t *testing.T) events.Event {
	t.Helper()
	ledger, err := principal.FromText("aaaaa-aa")
	if err != nil {
		t.Fatalf("FromText error: %v", err)
	}
	return events.Event{
		Timestamp: 1_700_000_000_000_000_000,
		Payload: events.Init{Arg: events.InitArg{
			Network:                 events.NetworkDevnet,
			ContractAddress:         "4Xmh3sk2pGEFw6jhrrYzJpPqszSiLEwGHUPKLRDBt5L7",
			InitialSignature:        "SIG0",
			EcdsaKeyName:            "dfx_test_key",
			LedgerID:                ledger,
			MinimumWithdrawalAmount: big.NewInt(1),
		}},
	}
}

func TestRecordAndIterate(t *testing.T) {
	store := newTestStore(t)

	want := []events.Event{
		testInitEvent(t),
		{Timestamp: 2, Payload: events.LastKnownSignature{Sig: "SIG1"}},
		{Timestamp: 3, Payload: events.NewRange{Range: events.NewSignatureRange("SIG1", "SIG0")}},
	}
	for _, ev := range want {
		if err := store.RecordEvent(ev); err != nil {
			t.Fatalf("RecordEvent error: %v", err)
		}
	}

	var got []events.Event
	if err := store.ForEachEvent(func(ev events.Event) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatalf("ForEachEvent error: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Errorf("event %d mismatch:\n got %+v\nwant %+v", i, got[i], want[i])
		}
	}
}

func TestCountEvents(t *testing.T) {
	store := newTestStore(t)

	count, err := store.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents error: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh store has %d events, want 0", count)
	}

	if err := store.RecordEvent(testInitEvent(t)); err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}
	count, err = store.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents error: %v", err)
	}
	if count != 1 {
		t.Errorf("CountEvents = %d, want 1", count)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minter.sqlite")

	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := store.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error: %v", err)
	}
	if err := store.RecordEvent(testInitEvent(t)); err != nil {
		t.Fatalf("RecordEvent error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen New() error: %v", err)
	}
	defer reopened.Close()
	if err := reopened.RunMigrations(); err != nil {
		t.Fatalf("reopen RunMigrations() error: %v", err)
	}

	all, err := reopened.AllEvents()
	if err != nil {
		t.Fatalf("AllEvents error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d events after reopen, want 1", len(all))
	}
	init, ok := all[0].Payload.(events.Init)
	if !ok {
		t.Fatalf("first event payload is %T, want events.Init", all[0].Payload)
	}
	if init.Arg.EcdsaKeyName != "dfx_test_key" {
		t.Errorf("EcdsaKeyName = %q, want %q", init.Arg.EcdsaKeyName, "dfx_test_key")
	}
}
