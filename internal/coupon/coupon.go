// Package coupon implements the signed withdrawal coupon: canonical message
// construction, SHA-256 hashing, recovery-id search and verification over
// secp256k1.
package coupon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
)

// Coupon is the redeemable proof handed to a withdrawal caller. The message
// is the canonical JSON of the withdrawal; the signature binds it to the
// minter's threshold key. An on-Solana verifier recovers the signing key from
// (message, signature, recovery_id) and compares it against the embedded
// uncompressed SEC1 key.
type Coupon struct {
	Message         string `json:"message" cbor:"0,keyasint"`
	MessageHashHex  string `json:"message_hash" cbor:"1,keyasint"`
	SignatureHex    string `json:"signature_hex" cbor:"2,keyasint"`
	ICPPublicKeyHex string `json:"icp_public_key_hex" cbor:"3,keyasint"`
	RecoveryID      *uint8 `json:"recovery_id" cbor:"4,keyasint,omitempty"`
}

// CanonicalMessage emits the byte-exact coupon message. Field order and the
// absence of whitespace are part of the wire contract with the on-Solana
// verifier, so the message is written by hand instead of going through a
// generic JSON encoder.
func CanonicalMessage(fromICPAddress, toSolAddress string, amount *big.Int, burnID, burnTimestamp, burnBlockIndex uint64) string {
	var b strings.Builder
	b.WriteString(`{"from_icp_address":"`)
	b.WriteString(fromICPAddress)
	b.WriteString(`","to_sol_address":"`)
	b.WriteString(toSolAddress)
	b.WriteString(`","amount":"`)
	b.WriteString(amount.String())
	b.WriteString(`","burn_id":`)
	b.WriteString(strconv.FormatUint(burnID, 10))
	b.WriteString(`,"burn_timestamp":`)
	b.WriteString(strconv.FormatUint(burnTimestamp, 10))
	b.WriteString(`,"icp_burn_block_index":`)
	b.WriteString(strconv.FormatUint(burnBlockIndex, 10))
	b.WriteString("}")
	return b.String()
}

// MessageHash returns the SHA-256 digest of the canonical message bytes.
func MessageHash(message string) [32]byte {
	return sha256.Sum256([]byte(message))
}

// ParsePublicKey parses a SEC1 public key, compressed (33 bytes) or
// uncompressed (65 bytes).
func ParsePublicKey(sec1 []byte) (*btcec.PublicKey, error) {
	pub, err := btcec.ParsePubKey(sec1)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SEC1 public key: %w", err)
	}
	return pub, nil
}

// CompressedHex returns the 33-byte SEC1 form as hex.
func CompressedHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// UncompressedHex returns the 65-byte SEC1 form as hex.
func UncompressedHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeUncompressed())
}

// Build assembles a coupon from the canonical message, the oracle's 64-byte
// (r,s) signature and the minter public key, searching recovery_id over {0,1}.
// Exactly one candidate recovers to the minter key; finding none is a bug in
// the signer integration.
func Build(message string, signature []byte, pub *btcec.PublicKey) (*Coupon, error) {
	if len(signature) != 64 {
		return nil, &Error{Op: "build", Reason: fmt.Sprintf("signature must be 64 bytes, got %d", len(signature))}
	}

	hash := MessageHash(message)
	c := &Coupon{
		Message:         message,
		MessageHashHex:  hex.EncodeToString(hash[:]),
		SignatureHex:    hex.EncodeToString(signature),
		ICPPublicKeyHex: UncompressedHex(pub),
	}

	want := pub.SerializeUncompressed()
	for parity := uint8(0); parity <= 1; parity++ {
		recovered, err := recoverUncompressed(hash[:], signature, parity)
		if err != nil {
			continue
		}
		if bytes.Equal(recovered, want) {
			c.RecoveryID = &parity
			return c, nil
		}
	}

	return nil, &Error{Op: "recover", Reason: "no recovery id yields the minter public key"}
}

// Verify checks the coupon's signature against its embedded public key.
func (c *Coupon) Verify() (bool, error) {
	sig, err := hex.DecodeString(c.SignatureHex)
	if err != nil {
		return false, &Error{Op: "verify", Reason: fmt.Sprintf("signature is not hex: %v", err)}
	}
	if len(sig) != 64 {
		return false, &Error{Op: "verify", Reason: fmt.Sprintf("signature must be 64 bytes, got %d", len(sig))}
	}
	pubBytes, err := hex.DecodeString(c.ICPPublicKeyHex)
	if err != nil {
		return false, &Error{Op: "verify", Reason: fmt.Sprintf("public key is not hex: %v", err)}
	}
	if _, err := ParsePublicKey(pubBytes); err != nil {
		return false, &Error{Op: "verify", Reason: err.Error()}
	}

	hash := MessageHash(c.Message)
	return crypto.VerifySignature(pubBytes, hash[:], sig), nil
}

// RecoveryParity re-runs the recovery-id search against the embedded key.
// Used by verifiers that received a coupon without a recovery id.
func (c *Coupon) RecoveryParity() (uint8, error) {
	sig, err := hex.DecodeString(c.SignatureHex)
	if err != nil {
		return 0, &Error{Op: "recover", Reason: fmt.Sprintf("signature is not hex: %v", err)}
	}
	pubBytes, err := hex.DecodeString(c.ICPPublicKeyHex)
	if err != nil {
		return 0, &Error{Op: "recover", Reason: fmt.Sprintf("public key is not hex: %v", err)}
	}
	pub, err := ParsePublicKey(pubBytes)
	if err != nil {
		return 0, &Error{Op: "recover", Reason: err.Error()}
	}

	hash := MessageHash(c.Message)
	want := pub.SerializeUncompressed()
	for parity := uint8(0); parity <= 1; parity++ {
		recovered, err := recoverUncompressed(hash[:], sig, parity)
		if err != nil {
			continue
		}
		if bytes.Equal(recovered, want) {
			return parity, nil
		}
	}
	return 0, &Error{Op: "recover", Reason: "no recovery id yields the embedded public key"}
}

// recoverUncompressed recovers the uncompressed SEC1 key from a 64-byte
// signature and a parity bit.
func recoverUncompressed(hash, signature []byte, parity uint8) ([]byte, error) {
	withParity := make([]byte, 65)
	copy(withParity, signature)
	withParity[64] = parity

	pub, err := crypto.SigToPub(hash, withParity)
	if err != nil {
		return nil, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.FromECDSAPub(pub), nil
}

// Error describes a coupon construction or verification failure.
type Error struct {
	Op     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("coupon %s failed: %s", e.Op, e.Reason)
}
