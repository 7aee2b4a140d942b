package state

import (
	"fmt"
	"math/big"

	"github.com/weichain/gsol-minter/internal/events"
)

// Apply updates the state to reflect the given state transition. It is a pure
// function of state and event; a transition the current state cannot admit is
// a corrupt log or a programming bug and panics.
//
// Exported because replay and the tests drive it directly.
func Apply(s *State, payload events.Payload) {
	switch p := payload.(type) {
	case events.Init:
		panic(fmt.Sprintf("state re-initialization is not allowed: %+v", p.Arg))

	case events.Upgrade:
		s.upgrade(p.Arg)

	case events.LastKnownSignature:
		s.LastKnownSignature = p.Sig

	case events.LastDepositID:
		s.DepositIDCounter = p.N

	case events.LastBurnID:
		s.BurnIDCounter = p.N

	case events.NewRange:
		s.SignatureRanges[p.Range.Key()] = p.Range

	case events.RemoveRange:
		if _, ok := s.SignatureRanges[p.Range.Key()]; !ok {
			panic(fmt.Sprintf("cannot remove unknown signature range %s", p.Range.Key()))
		}
		delete(s.SignatureRanges, p.Range.Key())

	case events.RetryRange:
		existing, ok := s.SignatureRanges[p.Range.Key()]
		if !ok {
			panic(fmt.Sprintf("cannot retry unknown signature range %s", p.Range.Key()))
		}
		if p.FailedSubRange != nil {
			sub := *p.FailedSubRange
			sub.Retries = existing.Retries
			sub.Retries.Increment()
			delete(s.SignatureRanges, p.Range.Key())
			s.SignatureRanges[sub.Key()] = sub
		} else {
			existing.Retries.Increment()
			s.SignatureRanges[p.Range.Key()] = existing
		}

	case events.SignatureEvent:
		sig := p.Signature.Sig
		// A signature that already reached a later stage stays there;
		// re-discovery through an overlapping retry walk is not a transition.
		if s.isPastPending(sig) {
			return
		}
		if existing, ok := s.Signatures[sig]; ok {
			existing.Retries.Increment()
			s.Signatures[sig] = existing
		} else {
			s.Signatures[sig] = p.Signature
		}

	case events.InvalidEvent:
		sig := p.Signature.Sig
		if _, ok := s.AcceptedEvents[sig]; ok {
			panic(fmt.Sprintf("cannot invalidate accepted signature %s", sig))
		}
		if _, ok := s.MintedEvents[sig]; ok {
			panic(fmt.Sprintf("cannot invalidate minted signature %s", sig))
		}
		delete(s.Signatures, sig)
		s.InvalidEvents[sig] = p.Reason

	case events.AcceptedEvent:
		sig := p.Deposit.SolSig
		if _, ok := s.MintedEvents[sig]; ok {
			panic(fmt.Sprintf("cannot accept already-minted signature %s", sig))
		}
		if _, ok := s.InvalidEvents[sig]; ok {
			panic(fmt.Sprintf("cannot accept invalid signature %s", sig))
		}
		delete(s.Signatures, sig)
		if existing, ok := s.AcceptedEvents[sig]; ok {
			existing.Retries.Increment()
			s.AcceptedEvents[sig] = existing
		} else {
			s.AcceptedEvents[sig] = p.Deposit
		}
		if p.Deposit.ID >= s.DepositIDCounter {
			s.DepositIDCounter = p.Deposit.ID + 1
		}

	case events.MintedEvent:
		sig := p.Deposit.SolSig
		if p.Deposit.MintBlockIndex == nil {
			panic(fmt.Sprintf("minted deposit %s has no mint block index", sig))
		}
		if _, ok := s.AcceptedEvents[sig]; !ok {
			panic(fmt.Sprintf("cannot mint signature %s that was never accepted", sig))
		}
		delete(s.AcceptedEvents, sig)
		s.MintedEvents[sig] = p.Deposit

	case events.WithdrawalBurnedEvent:
		w := p.Withdrawal
		if _, ok := s.RedeemedEvents[w.BurnID]; ok {
			panic(fmt.Sprintf("cannot burn already-redeemed withdrawal %d", w.BurnID))
		}
		if w.BurnBlockIndex == nil || w.BurnTimestamp == nil {
			panic(fmt.Sprintf("burned withdrawal %d is missing burn fields", w.BurnID))
		}
		if existing, ok := s.BurnedEvents[w.BurnID]; ok {
			existing.Retries.Increment()
			s.BurnedEvents[w.BurnID] = existing
		} else {
			s.BurnedEvents[w.BurnID] = w
		}
		if w.BurnID >= s.BurnIDCounter {
			s.BurnIDCounter = w.BurnID + 1
		}

	case events.WithdrawalRedeemedEvent:
		w := p.Withdrawal
		if w.Coupon == nil {
			panic(fmt.Sprintf("redeemed withdrawal %d has no coupon", w.BurnID))
		}
		if _, ok := s.BurnedEvents[w.BurnID]; !ok {
			panic(fmt.Sprintf("cannot redeem withdrawal %d that was never burned", w.BurnID))
		}
		delete(s.BurnedEvents, w.BurnID)
		s.RedeemedEvents[w.BurnID] = w

	default:
		panic(fmt.Sprintf("unknown event payload %T", payload))
	}
}

// isPastPending reports whether the signature already left the pending stage.
func (s *State) isPastPending(sig string) bool {
	if _, ok := s.AcceptedEvents[sig]; ok {
		return true
	}
	if _, ok := s.MintedEvents[sig]; ok {
		return true
	}
	if _, ok := s.InvalidEvents[sig]; ok {
		return true
	}
	return false
}

// Init records the Init event and constructs the state. Only valid on an
// empty log.
func (m *Manager) Init(arg events.InitArg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return fmt.Errorf("state is already initialized")
	}

	st, err := newState(arg)
	if err != nil {
		return fmt.Errorf("failed to initialize state: %w", err)
	}
	if err := m.log.RecordEvent(events.Event{Timestamp: m.now(), Payload: events.Init{Arg: arg}}); err != nil {
		return fmt.Errorf("failed to record init event: %w", err)
	}
	m.state = st
	return nil
}

// Replay recomputes the state from the event log. The first event must be
// Init; every subsequent event is re-applied in order.
func (m *Manager) Replay() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return fmt.Errorf("state is already initialized")
	}

	var (
		st    *State
		count int
	)
	err := m.log.ForEachEvent(func(ev events.Event) error {
		count++
		if count == 1 {
			init, ok := ev.Payload.(events.Init)
			if !ok {
				return fmt.Errorf("the first event must be Init, got tag %d", ev.Payload.EventTag())
			}
			built, err := newState(init.Arg)
			if err != nil {
				return fmt.Errorf("failed to rebuild state from init event: %w", err)
			}
			st = built
			return nil
		}
		Apply(st, ev.Payload)
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("the event log is empty")
	}

	m.state = st
	return nil
}

// Initialized reports whether the manager holds a state.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != nil
}

// MinimumWithdrawalAmount returns a copy of the configured minimum.
func (m *Manager) MinimumWithdrawalAmount() *big.Int {
	var min *big.Int
	m.MustRead(func(s *State) {
		min = new(big.Int).Set(s.MinimumWithdrawalAmount)
	})
	return min
}
