package state

import (
	"math/big"
	"strings"
	"testing"

	"github.com/weichain/gsol-minter/internal/coupon"
	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/principal"
)

var couponForTest = coupon.Coupon{
	Message:         `{"from_icp_address":"2vxsx-fae","to_sol_address":"SolAddrX","amount":"500","burn_id":0,"burn_timestamp":1700000000000000000,"icp_burn_block_index":7}`,
	MessageHashHex:  "00",
	SignatureHex:    "00",
	ICPPublicKeyHex: "00",
}

// memoryLog is an in-memory EventLog for tests.
type memoryLog struct {
	events []events.Event
}

func (l *memoryLog) RecordEvent(ev events.Event) error {
	l.events = append(l.events, ev)
	return nil
}

func (l *memoryLog) ForEachEvent(f func(events.Event) error) error {
	for _, ev := range l.events {
		if err := f(ev); err != nil {
			return err
		}
	}
	return nil
}

func mustPrincipal(t *testing.T, text string) principal.Principal {
	t.Helper()
	p, err := principal.FromText(text)
	if err != nil {
		t.Fatalf("FromText(%q) error: %v", text, err)
	}
	return p
}

func testInitArg(t *testing.T) events.InitArg {
	return events.InitArg{
		Network:                 events.NetworkDevnet,
		ContractAddress:         "4Xmh3sk2pGEFw6jhrrYzJpPqszSiLEwGHUPKLRDBt5L7",
		InitialSignature:        "SIG0",
		EcdsaKeyName:            "dfx_test_key",
		LedgerID:                mustPrincipal(t, "aaaaa-aa"),
		MinimumWithdrawalAmount: big.NewInt(1),
	}
}

func newTestManager(t *testing.T) (*Manager, *memoryLog) {
	t.Helper()
	log := &memoryLog{}
	m := NewManager(log, func() uint64 { return 1_700_000_000_000_000_000 })
	if err := m.Init(testInitArg(t)); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	return m, log
}

func u64Ptr(n uint64) *uint64 { return &n }

func expectPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	f()
}

func TestInit_SetsCursorAndConfig(t *testing.T) {
	m, log := newTestManager(t)

	m.MustRead(func(s *State) {
		if s.LastKnownSignature != "SIG0" {
			t.Errorf("LastKnownSignature = %q, want SIG0", s.LastKnownSignature)
		}
		if s.Network != events.NetworkDevnet {
			t.Errorf("Network = %v, want devnet", s.Network)
		}
	})

	if len(log.events) != 1 {
		t.Fatalf("log has %d events, want 1", len(log.events))
	}
	if log.events[0].Payload.EventTag() != events.TagInit {
		t.Errorf("first event tag = %d, want Init", log.events[0].Payload.EventTag())
	}
}

func TestInit_RejectsInvalidConfig(t *testing.T) {
	arg := testInitArg(t)
	arg.MinimumWithdrawalAmount = big.NewInt(0)

	m := NewManager(&memoryLog{}, nil)
	if err := m.Init(arg); err == nil {
		t.Error("Init with zero minimum succeeded, want error")
	}

	arg = testInitArg(t)
	arg.EcdsaKeyName = "  "
	if err := NewManager(&memoryLog{}, nil).Init(arg); err == nil {
		t.Error("Init with blank key name succeeded, want error")
	}

	arg = testInitArg(t)
	arg.LedgerID = principal.Anonymous
	if err := NewManager(&memoryLog{}, nil).Init(arg); err == nil {
		t.Error("Init with anonymous ledger succeeded, want error")
	}
}

func TestApply_RangeLifecycle(t *testing.T) {
	m, _ := newTestManager(t)

	r := events.NewSignatureRange("SIG1", "SIG0")
	if err := m.ProcessEvents(
		events.LastKnownSignature{Sig: "SIG1"},
		events.NewRange{Range: r},
	); err != nil {
		t.Fatalf("ProcessEvents error: %v", err)
	}

	m.MustRead(func(s *State) {
		if s.LastKnownSignature != "SIG1" {
			t.Errorf("cursor = %q, want SIG1", s.LastKnownSignature)
		}
		if _, ok := s.SignatureRanges[r.Key()]; !ok {
			t.Errorf("range %s not in pending map", r.Key())
		}
	})

	if err := m.ProcessEvent(events.RemoveRange{Range: r}); err != nil {
		t.Fatalf("ProcessEvent(RemoveRange) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if len(s.SignatureRanges) != 0 {
			t.Errorf("ranges not empty after removal: %v", s.SignatureRanges)
		}
	})
}

func TestApply_RetryRange(t *testing.T) {
	m, _ := newTestManager(t)

	r := events.NewSignatureRange("SIG1", "SIG0")
	if err := m.ProcessEvent(events.NewRange{Range: r}); err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}

	// Without a sub-range: bump retries in place.
	if err := m.ProcessEvent(events.RetryRange{Range: r, Reason: "rpc call failed"}); err != nil {
		t.Fatalf("ProcessEvent(RetryRange) error: %v", err)
	}
	m.MustRead(func(s *State) {
		got := s.SignatureRanges[r.Key()]
		if got.Retries != 1 {
			t.Errorf("retries = %d, want 1", got.Retries)
		}
	})

	// With a sub-range: replace the range, carrying the incremented counter.
	sub := events.NewSignatureRange("SIG1-b", "SIG0")
	if err := m.ProcessEvent(events.RetryRange{Range: r, FailedSubRange: &sub, Reason: "rpc call failed"}); err != nil {
		t.Fatalf("ProcessEvent(RetryRange sub) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if _, ok := s.SignatureRanges[r.Key()]; ok {
			t.Error("original range still present after sub-range replacement")
		}
		got, ok := s.SignatureRanges[sub.Key()]
		if !ok {
			t.Fatal("sub-range not inserted")
		}
		if got.Retries != 2 {
			t.Errorf("sub-range retries = %d, want 2", got.Retries)
		}
	})
}

func TestApply_SignatureTransitions(t *testing.T) {
	m, _ := newTestManager(t)

	sig := events.NewSignature("SIG1-a")
	if err := m.ProcessEvent(events.SignatureEvent{Signature: sig}); err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}
	// Second sighting increments retries.
	reason := "transaction not found"
	if err := m.ProcessEvent(events.SignatureEvent{Signature: sig, Reason: &reason}); err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}
	m.MustRead(func(s *State) {
		if s.Signatures["SIG1-a"].Retries != 1 {
			t.Errorf("retries = %d, want 1", s.Signatures["SIG1-a"].Retries)
		}
	})

	// Invalidation is terminal.
	if err := m.ProcessEvent(events.InvalidEvent{Signature: sig, Reason: "no deposit log line"}); err != nil {
		t.Fatalf("ProcessEvent(Invalid) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if _, ok := s.Signatures["SIG1-a"]; ok {
			t.Error("signature still pending after invalidation")
		}
		if s.InvalidEvents["SIG1-a"] != "no deposit log line" {
			t.Errorf("invalid reason = %q", s.InvalidEvents["SIG1-a"])
		}
	})

	// Re-discovery of a terminal signature is ignored.
	if err := m.ProcessEvent(events.SignatureEvent{Signature: sig}); err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}
	m.MustRead(func(s *State) {
		if _, ok := s.Signatures["SIG1-a"]; ok {
			t.Error("terminal signature re-entered pending set")
		}
	})
}

func TestApply_DepositLifecycle(t *testing.T) {
	m, _ := newTestManager(t)

	deposit := events.DepositEvent{
		ID:             0,
		SolSig:         "SIG1-a",
		FromSolAddress: "SenderSol11111111111111111111111111111111111",
		ToICPAddress:   mustPrincipal(t, "2vxsx-fae"),
		Amount:         big.NewInt(1000),
	}

	if err := m.ProcessEvent(events.SignatureEvent{Signature: events.NewSignature("SIG1-a")}); err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}
	if err := m.ProcessEvent(events.AcceptedEvent{Deposit: deposit}); err != nil {
		t.Fatalf("ProcessEvent(Accepted) error: %v", err)
	}

	m.MustRead(func(s *State) {
		if _, ok := s.Signatures["SIG1-a"]; ok {
			t.Error("accepted signature still pending")
		}
		if _, ok := s.AcceptedEvents["SIG1-a"]; !ok {
			t.Error("deposit not in accepted map")
		}
		if s.DepositIDCounter != 1 {
			t.Errorf("deposit counter = %d, want 1", s.DepositIDCounter)
		}
	})

	// Failed mint bumps retries.
	reason := "ledger transfer failed"
	if err := m.ProcessEvent(events.AcceptedEvent{Deposit: deposit, Reason: &reason}); err != nil {
		t.Fatalf("ProcessEvent(Accepted retry) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if s.AcceptedEvents["SIG1-a"].Retries != 1 {
			t.Errorf("retries = %d, want 1", s.AcceptedEvents["SIG1-a"].Retries)
		}
	})

	minted := deposit
	minted.MintBlockIndex = u64Ptr(42)
	if err := m.ProcessEvent(events.MintedEvent{Deposit: minted}); err != nil {
		t.Fatalf("ProcessEvent(Minted) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if _, ok := s.AcceptedEvents["SIG1-a"]; ok {
			t.Error("minted deposit still in accepted map")
		}
		got, ok := s.MintedEvents["SIG1-a"]
		if !ok {
			t.Fatal("deposit not in minted map")
		}
		if got.MintBlockIndex == nil || *got.MintBlockIndex != 42 {
			t.Errorf("mint block index = %v, want 42", got.MintBlockIndex)
		}
	})
}

func TestApply_Panics(t *testing.T) {
	m, _ := newTestManager(t)

	var st *State
	m.MustRead(func(s *State) { st = s })

	deposit := events.DepositEvent{
		ID:           0,
		SolSig:       "SIG-X",
		ToICPAddress: mustPrincipal(t, "2vxsx-fae"),
		Amount:       big.NewInt(1),
	}

	expectPanic(t, "re-init", func() {
		Apply(st, events.Init{Arg: testInitArg(t)})
	})
	expectPanic(t, "remove unknown range", func() {
		Apply(st, events.RemoveRange{Range: events.NewSignatureRange("A", "B")})
	})
	expectPanic(t, "retry unknown range", func() {
		Apply(st, events.RetryRange{Range: events.NewSignatureRange("A", "B"), Reason: "x"})
	})
	expectPanic(t, "mint before accept", func() {
		minted := deposit
		minted.MintBlockIndex = u64Ptr(1)
		Apply(st, events.MintedEvent{Deposit: minted})
	})
	expectPanic(t, "mint without block index", func() {
		Apply(st, events.AcceptedEvent{Deposit: deposit})
		Apply(st, events.MintedEvent{Deposit: deposit})
	})
	expectPanic(t, "redeem before burn", func() {
		w := events.WithdrawalEvent{BurnID: 9}
		Apply(st, events.WithdrawalRedeemedEvent{Withdrawal: w})
	})
}

func TestCounters_Monotonic(t *testing.T) {
	m, _ := newTestManager(t)

	ids := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		ids[m.NextDepositID()] = true
	}
	if len(ids) != 5 {
		t.Errorf("deposit ids not pairwise distinct: %v", ids)
	}

	if got := m.NextBurnID(); got != 0 {
		t.Errorf("first burn id = %d, want 0", got)
	}
	if got := m.NextBurnID(); got != 1 {
		t.Errorf("second burn id = %d, want 1", got)
	}
}

func TestReplay_ReproducesState(t *testing.T) {
	m, log := newTestManager(t)

	deposit := events.DepositEvent{
		ID:             0,
		SolSig:         "SIG1-a",
		FromSolAddress: "SenderSol11111111111111111111111111111111111",
		ToICPAddress:   mustPrincipal(t, "2vxsx-fae"),
		Amount:         big.NewInt(1000),
	}
	minted := deposit
	minted.MintBlockIndex = u64Ptr(42)

	payloads := []events.Payload{
		events.LastKnownSignature{Sig: "SIG1"},
		events.NewRange{Range: events.NewSignatureRange("SIG1", "SIG0")},
		events.SignatureEvent{Signature: events.NewSignature("SIG1-a")},
		events.RemoveRange{Range: events.NewSignatureRange("SIG1", "SIG0")},
		events.AcceptedEvent{Deposit: deposit},
		events.MintedEvent{Deposit: minted},
		events.LastDepositID{N: 1},
		events.LastBurnID{N: 0},
	}
	for _, p := range payloads {
		if err := m.ProcessEvent(p); err != nil {
			t.Fatalf("ProcessEvent error: %v", err)
		}
	}

	replayed := NewManager(log, nil)
	if err := replayed.Replay(); err != nil {
		t.Fatalf("Replay error: %v", err)
	}

	var want, got *State
	m.MustRead(func(s *State) { want = s })
	replayed.MustRead(func(s *State) { got = s })

	if got.LastKnownSignature != want.LastKnownSignature {
		t.Errorf("cursor = %q, want %q", got.LastKnownSignature, want.LastKnownSignature)
	}
	if len(got.MintedEvents) != 1 {
		t.Errorf("minted events = %d, want 1", len(got.MintedEvents))
	}
	if got.DepositIDCounter != want.DepositIDCounter {
		t.Errorf("deposit counter = %d, want %d", got.DepositIDCounter, want.DepositIDCounter)
	}
	if got.BurnIDCounter != want.BurnIDCounter {
		t.Errorf("burn counter = %d, want %d", got.BurnIDCounter, want.BurnIDCounter)
	}
	if len(got.ActiveTasks()) != 0 {
		t.Errorf("replayed state has active tasks: %v", got.ActiveTasks())
	}
}

func TestReplay_RequiresInitFirst(t *testing.T) {
	log := &memoryLog{}
	log.events = append(log.events, events.Event{Timestamp: 1, Payload: events.LastKnownSignature{Sig: "SIG1"}})

	m := NewManager(log, nil)
	err := m.Replay()
	if err == nil {
		t.Fatal("Replay with non-Init first event succeeded, want error")
	}
	if !strings.Contains(err.Error(), "Init") {
		t.Errorf("error %q does not mention Init", err)
	}

	empty := NewManager(&memoryLog{}, nil)
	if err := empty.Replay(); err == nil {
		t.Error("Replay of empty log succeeded, want error")
	}
}

func TestUpgrade_OverridesAndCursor(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.ProcessEvent(events.LastKnownSignature{Sig: "SIG5"}); err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}

	newSig := "SIG2"
	newMin := big.NewInt(50)
	if err := m.ProcessEvent(events.Upgrade{Arg: events.UpgradeArg{
		InitialSignature:        &newSig,
		MinimumWithdrawalAmount: newMin,
	}}); err != nil {
		t.Fatalf("ProcessEvent(Upgrade) error: %v", err)
	}

	m.MustRead(func(s *State) {
		if s.LastKnownSignature != "SIG2" {
			t.Errorf("cursor = %q, want SIG2 (moved back by upgrade)", s.LastKnownSignature)
		}
		if s.MinimumWithdrawalAmount.Cmp(newMin) != 0 {
			t.Errorf("minimum = %s, want 50", s.MinimumWithdrawalAmount)
		}
	})
}

func TestWithdrawalLifecycle(t *testing.T) {
	m, _ := newTestManager(t)

	w := events.WithdrawalEvent{
		BurnID:         0,
		FromICPAddress: mustPrincipal(t, "2vxsx-fae"),
		ToSolAddress:   "9gVndQ5SdugdFfGzyuKmePLRJZkCreKZ2iUTEg4agR5g",
		Amount:         big.NewInt(500),
		BurnTimestamp:  u64Ptr(1_700_000_000_000_000_000),
		BurnBlockIndex: u64Ptr(7),
	}
	if err := m.ProcessEvent(events.WithdrawalBurnedEvent{Withdrawal: w}); err != nil {
		t.Fatalf("ProcessEvent(Burned) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if _, ok := s.BurnedEvents[0]; !ok {
			t.Error("withdrawal not in burned map")
		}
		if s.BurnIDCounter != 1 {
			t.Errorf("burn counter = %d, want 1", s.BurnIDCounter)
		}
	})

	redeemed := w
	redeemed.Coupon = &couponForTest
	if err := m.ProcessEvent(events.WithdrawalRedeemedEvent{Withdrawal: redeemed}); err != nil {
		t.Fatalf("ProcessEvent(Redeemed) error: %v", err)
	}
	m.MustRead(func(s *State) {
		if _, ok := s.BurnedEvents[0]; ok {
			t.Error("redeemed withdrawal still in burned map")
		}
		got, ok := s.RedeemedEvents[0]
		if !ok {
			t.Fatal("withdrawal not in redeemed map")
		}
		if got.Coupon == nil {
			t.Error("redeemed withdrawal lost its coupon")
		}
	})
}
