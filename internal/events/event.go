package events

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Tag is the stable numeric variant tag of an event payload.
type Tag uint8

const (
	TagInit               Tag = 0
	TagUpgrade            Tag = 1
	TagLastKnownSignature Tag = 2
	TagLastDepositID      Tag = 3
	TagLastBurnID         Tag = 4
	TagNewRange           Tag = 5
	TagRemoveRange        Tag = 6
	TagRetryRange         Tag = 7
	TagSignature          Tag = 8
	TagInvalid            Tag = 9
	TagAccepted           Tag = 10
	TagMinted             Tag = 11
	TagWithdrawalBurned   Tag = 12
	TagWithdrawalRedeemed Tag = 13
)

// Payload is one state transition.
type Payload interface {
	EventTag() Tag
}

// Init constructs the state. Only valid as the first event in the log.
type Init struct {
	Arg InitArg `cbor:"0,keyasint"`
}

// Upgrade overwrites the provided configuration fields after validation.
type Upgrade struct {
	Arg UpgradeArg `cbor:"0,keyasint"`
}

// LastKnownSignature advances the scanning cursor.
type LastKnownSignature struct {
	Sig string `cbor:"0,keyasint"`
}

// LastDepositID pins the deposit counter; recorded on shutdown.
type LastDepositID struct {
	N uint64 `cbor:"0,keyasint"`
}

// LastBurnID pins the burn counter; recorded on shutdown.
type LastBurnID struct {
	N uint64 `cbor:"0,keyasint"`
}

// NewRange inserts a signature range into the pending-range map.
type NewRange struct {
	Range SignatureRange `cbor:"0,keyasint"`
}

// RemoveRange deletes a fully enumerated range.
type RemoveRange struct {
	Range SignatureRange `cbor:"0,keyasint"`
}

// RetryRange replaces a range with its failed sub-range, or bumps the retry
// counter when no sub-range is given.
type RetryRange struct {
	Range          SignatureRange  `cbor:"0,keyasint"`
	FailedSubRange *SignatureRange `cbor:"1,keyasint,omitempty"`
	Reason         string          `cbor:"2,keyasint"`
}

// SignatureEvent inserts a pending signature, or bumps its retry counter if
// already present.
type SignatureEvent struct {
	Signature Signature `cbor:"0,keyasint"`
	Reason    *string   `cbor:"1,keyasint,omitempty"`
}

// InvalidEvent moves a signature to the terminal invalid set.
type InvalidEvent struct {
	Signature Signature `cbor:"0,keyasint"`
	Reason    string    `cbor:"1,keyasint"`
}

// AcceptedEvent inserts a classified deposit into the accepted map, or bumps
// its retry counter after a failed mint.
type AcceptedEvent struct {
	Deposit DepositEvent `cbor:"0,keyasint"`
	Reason  *string      `cbor:"1,keyasint,omitempty"`
}

// MintedEvent moves a deposit from accepted to minted.
type MintedEvent struct {
	Deposit DepositEvent `cbor:"0,keyasint"`
}

// WithdrawalBurnedEvent inserts or updates a burned withdrawal.
type WithdrawalBurnedEvent struct {
	Withdrawal WithdrawalEvent `cbor:"0,keyasint"`
	Reason     *string         `cbor:"1,keyasint,omitempty"`
}

// WithdrawalRedeemedEvent moves a withdrawal from burned to redeemed.
type WithdrawalRedeemedEvent struct {
	Withdrawal WithdrawalEvent `cbor:"0,keyasint"`
}

func (Init) EventTag() Tag                    { return TagInit }
func (Upgrade) EventTag() Tag                 { return TagUpgrade }
func (LastKnownSignature) EventTag() Tag      { return TagLastKnownSignature }
func (LastDepositID) EventTag() Tag           { return TagLastDepositID }
func (LastBurnID) EventTag() Tag              { return TagLastBurnID }
func (NewRange) EventTag() Tag                { return TagNewRange }
func (RemoveRange) EventTag() Tag             { return TagRemoveRange }
func (RetryRange) EventTag() Tag              { return TagRetryRange }
func (SignatureEvent) EventTag() Tag          { return TagSignature }
func (InvalidEvent) EventTag() Tag            { return TagInvalid }
func (AcceptedEvent) EventTag() Tag           { return TagAccepted }
func (MintedEvent) EventTag() Tag             { return TagMinted }
func (WithdrawalBurnedEvent) EventTag() Tag   { return TagWithdrawalBurned }
func (WithdrawalRedeemedEvent) EventTag() Tag { return TagWithdrawalRedeemed }

// Event is one record of the append-only log.
type Event struct {
	Timestamp uint64 // nanoseconds
	Payload   Payload
}

// envelope is the CBOR wire form of an Event.
type envelope struct {
	Timestamp uint64          `cbor:"0,keyasint"`
	Tag       uint8           `cbor:"1,keyasint"`
	Payload   cbor.RawMessage `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Canonical encoding keeps the log byte-stable across replays.
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("event cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("event cbor dec mode: %v", err))
	}
}

// MarshalCBOR encodes the event with its stable variant tag.
func (e Event) MarshalCBOR() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event has no payload")
	}
	raw, err := encMode.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload (tag %d): %w", e.Payload.EventTag(), err)
	}
	return encMode.Marshal(envelope{
		Timestamp: e.Timestamp,
		Tag:       uint8(e.Payload.EventTag()),
		Payload:   raw,
	})
}

// UnmarshalCBOR decodes an event, dispatching on the variant tag.
func (e *Event) UnmarshalCBOR(data []byte) error {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode event envelope: %w", err)
	}

	payload, err := decodePayload(Tag(env.Tag), env.Payload)
	if err != nil {
		return err
	}

	e.Timestamp = env.Timestamp
	e.Payload = payload
	return nil
}

func decodePayload(tag Tag, raw cbor.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch tag {
	case TagInit:
		var p Init
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagUpgrade:
		var p Upgrade
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagLastKnownSignature:
		var p LastKnownSignature
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagLastDepositID:
		var p LastDepositID
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagLastBurnID:
		var p LastBurnID
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagNewRange:
		var p NewRange
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagRemoveRange:
		var p RemoveRange
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagRetryRange:
		var p RetryRange
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagSignature:
		var p SignatureEvent
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagInvalid:
		var p InvalidEvent
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagAccepted:
		var p AcceptedEvent
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagMinted:
		var p MintedEvent
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagWithdrawalBurned:
		var p WithdrawalBurnedEvent
		err = decMode.Unmarshal(raw, &p)
		payload = p
	case TagWithdrawalRedeemed:
		var p WithdrawalRedeemedEvent
		err = decMode.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event tag %d", tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload (tag %d): %w", tag, err)
	}
	return payload, nil
}
