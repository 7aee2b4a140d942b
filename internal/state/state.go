// Package state holds the canonical in-memory state of the minter and the
// audit discipline around it: every mutation of a durable entity is the
// consequence of applying an event, and the event is persisted before control
// returns to the caller.
package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/principal"
)

// TaskType names the periodic pipeline tasks for the mutual-exclusion guard.
type TaskType uint8

const (
	TaskGetLatestSignature TaskType = iota
	TaskScanSignatureRanges
	TaskScanSignatures
	TaskMintGSol
)

func (t TaskType) String() string {
	switch t {
	case TaskGetLatestSignature:
		return "get_latest_signature"
	case TaskScanSignatureRanges:
		return "scan_signature_ranges"
	case TaskScanSignatures:
		return "scan_signatures"
	case TaskMintGSol:
		return "mint_gsol"
	default:
		return fmt.Sprintf("task(%d)", uint8(t))
	}
}

// State aggregates every pipeline entity. Fields tagged for JSON feed the
// controller diagnostics; the lock sets, the cached oracle key and the HTTP
// request counter are transient and rebuilt empty after a restart.
type State struct {
	Network                 events.Network      `json:"network"`
	ContractAddress         string              `json:"contract_address"`
	InitialSignature        string              `json:"initial_signature"`
	EcdsaKeyName            string              `json:"ecdsa_key_name"`
	LedgerID                principal.Principal `json:"ledger_id"`
	MinimumWithdrawalAmount *big.Int            `json:"minimum_withdrawal_amount"`

	LastKnownSignature string                           `json:"last_known_signature"`
	SignatureRanges    map[string]events.SignatureRange `json:"signature_ranges"`
	Signatures         map[string]events.Signature      `json:"signatures"`

	InvalidEvents  map[string]string                 `json:"invalid_events"`
	AcceptedEvents map[string]events.DepositEvent    `json:"accepted_events"`
	MintedEvents   map[string]events.DepositEvent    `json:"minted_events"`
	BurnedEvents   map[uint64]events.WithdrawalEvent `json:"burned_events"`
	RedeemedEvents map[uint64]events.WithdrawalEvent `json:"redeemed_events"`

	DepositIDCounter uint64 `json:"deposit_id_counter"`
	BurnIDCounter    uint64 `json:"burn_id_counter"`

	// Transient.
	ecdsaPublicKey     []byte
	activeTasks        map[TaskType]struct{}
	withdrawPrincipals map[string]struct{}
	httpRequestCounter uint64
}

// newState constructs a validated state from the init configuration.
func newState(arg events.InitArg) (*State, error) {
	if err := ValidateInitArg(arg); err != nil {
		return nil, err
	}
	return &State{
		Network:                 arg.Network,
		ContractAddress:         arg.ContractAddress,
		InitialSignature:        arg.InitialSignature,
		EcdsaKeyName:            arg.EcdsaKeyName,
		LedgerID:                arg.LedgerID,
		MinimumWithdrawalAmount: new(big.Int).Set(arg.MinimumWithdrawalAmount),
		LastKnownSignature:      arg.InitialSignature,
		SignatureRanges:         make(map[string]events.SignatureRange),
		Signatures:              make(map[string]events.Signature),
		InvalidEvents:           make(map[string]string),
		AcceptedEvents:          make(map[string]events.DepositEvent),
		MintedEvents:            make(map[string]events.DepositEvent),
		BurnedEvents:            make(map[uint64]events.WithdrawalEvent),
		RedeemedEvents:          make(map[uint64]events.WithdrawalEvent),
		activeTasks:             make(map[TaskType]struct{}),
		withdrawPrincipals:      make(map[string]struct{}),
	}, nil
}

// ValidateInitArg checks the init configuration invariants.
func ValidateInitArg(arg events.InitArg) error {
	if arg.Network != events.NetworkMainnet && arg.Network != events.NetworkDevnet {
		return fmt.Errorf("invalid network %d", uint8(arg.Network))
	}
	if strings.TrimSpace(arg.EcdsaKeyName) == "" {
		return fmt.Errorf("ecdsa key name cannot be blank")
	}
	if arg.LedgerID.IsAnonymous() {
		return fmt.Errorf("ledger id cannot be the anonymous principal")
	}
	if strings.TrimSpace(arg.ContractAddress) == "" {
		return fmt.Errorf("contract address cannot be blank")
	}
	if strings.TrimSpace(arg.InitialSignature) == "" {
		return fmt.Errorf("initial signature cannot be blank")
	}
	if arg.MinimumWithdrawalAmount == nil || arg.MinimumWithdrawalAmount.Sign() <= 0 {
		return fmt.Errorf("minimum withdrawal amount must be positive")
	}
	return nil
}

// ValidateUpgradeArg checks the upgrade overrides.
func ValidateUpgradeArg(arg events.UpgradeArg) error {
	if arg.ContractAddress != nil && strings.TrimSpace(*arg.ContractAddress) == "" {
		return fmt.Errorf("contract address cannot be blank")
	}
	if arg.InitialSignature != nil && strings.TrimSpace(*arg.InitialSignature) == "" {
		return fmt.Errorf("initial signature cannot be blank")
	}
	if arg.EcdsaKeyName != nil && strings.TrimSpace(*arg.EcdsaKeyName) == "" {
		return fmt.Errorf("ecdsa key name cannot be blank")
	}
	if arg.MinimumWithdrawalAmount != nil && arg.MinimumWithdrawalAmount.Sign() <= 0 {
		return fmt.Errorf("minimum withdrawal amount must be positive")
	}
	return nil
}

// upgrade overwrites the provided configuration fields. The caller validates
// before recording; a recorded-but-invalid upgrade is a corrupt log.
func (s *State) upgrade(arg events.UpgradeArg) {
	if err := ValidateUpgradeArg(arg); err != nil {
		panic(fmt.Sprintf("invalid upgrade event in log: %v", err))
	}
	if arg.ContractAddress != nil {
		s.ContractAddress = *arg.ContractAddress
	}
	if arg.InitialSignature != nil {
		s.InitialSignature = *arg.InitialSignature
		// The only transition allowed to move the scanning cursor backwards.
		s.LastKnownSignature = *arg.InitialSignature
	}
	if arg.EcdsaKeyName != nil {
		s.EcdsaKeyName = *arg.EcdsaKeyName
	}
	if arg.MinimumWithdrawalAmount != nil {
		s.MinimumWithdrawalAmount = new(big.Int).Set(arg.MinimumWithdrawalAmount)
	}
}

// ActiveTasks lists the currently held task locks.
func (s *State) ActiveTasks() []string {
	names := make([]string, 0, len(s.activeTasks))
	for t := range s.activeTasks {
		names = append(names, t.String())
	}
	sort.Strings(names)
	return names
}

// EventLog is the append-only sink the state audits into.
type EventLog interface {
	RecordEvent(events.Event) error
	ForEachEvent(func(events.Event) error) error
}

// Manager owns the single State instance and serializes access to it. Task
// bodies hold the lock between suspension points only: reads and event
// processing are atomic sections, outbound calls happen outside them.
type Manager struct {
	mu    sync.Mutex
	state *State
	log   EventLog
	now   func() uint64
}

// NewManager creates a manager around an event log. The clock is injectable
// for tests; nil means wall clock in nanoseconds.
func NewManager(log EventLog, now func() uint64) *Manager {
	if now == nil {
		now = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	return &Manager{log: log, now: now}
}

// Now returns the manager's current timestamp in nanoseconds.
func (m *Manager) Now() uint64 {
	return m.now()
}

// Read runs f with the state under lock. f must not retain the pointer.
func (m *Manager) Read(f func(*State)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return fmt.Errorf("state is not initialized")
	}
	f(m.state)
	return nil
}

// MustRead is Read for callers that run strictly after initialization.
func (m *Manager) MustRead(f func(*State)) {
	if err := m.Read(f); err != nil {
		panic(err)
	}
}

// ProcessEvent applies the payload to the state and appends it to the log.
func (m *Manager) ProcessEvent(payload events.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return fmt.Errorf("state is not initialized")
	}
	return m.processEventLocked(payload)
}

// ProcessEvents applies several payloads atomically with respect to readers.
func (m *Manager) ProcessEvents(payloads ...events.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return fmt.Errorf("state is not initialized")
	}
	for _, payload := range payloads {
		if err := m.processEventLocked(payload); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) processEventLocked(payload events.Payload) error {
	Apply(m.state, payload)
	if err := m.log.RecordEvent(events.Event{Timestamp: m.now(), Payload: payload}); err != nil {
		return fmt.Errorf("failed to record event (tag %d): %w", payload.EventTag(), err)
	}
	return nil
}

// NextDepositID allocates the next monotonic deposit id.
func (m *Manager) NextDepositID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.state.DepositIDCounter
	m.state.DepositIDCounter++
	return id
}

// NextBurnID allocates the next monotonic burn id.
func (m *Manager) NextBurnID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.state.BurnIDCounter
	m.state.BurnIDCounter++
	return id
}

// NextRequestID returns the next outbound HTTP request id. Transient; used
// to correlate requests and responses in logs.
func (m *Manager) NextRequestID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.httpRequestCounter++
	return m.state.httpRequestCounter
}

// CachedPublicKey returns the cached oracle public key, or nil.
func (m *Manager) CachedPublicKey() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil || m.state.ecdsaPublicKey == nil {
		return nil
	}
	out := make([]byte, len(m.state.ecdsaPublicKey))
	copy(out, m.state.ecdsaPublicKey)
	return out
}

// SetCachedPublicKey stores the oracle public key for the process lifetime.
func (m *Manager) SetCachedPublicKey(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ecdsaPublicKey = make([]byte, len(key))
	copy(m.state.ecdsaPublicKey, key)
}
