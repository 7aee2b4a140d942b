// Package signer abstracts the threshold-ECDSA oracle: a public key bound to
// a derivation path and 64-byte secp256k1 signatures over 32-byte hashes.
package signer

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Signer is the signing oracle. PublicKey returns the SEC1 compressed form;
// Sign returns the 64-byte (r,s) signature over a 32-byte message hash.
type Signer interface {
	PublicKey(ctx context.Context, derivationPath [][]byte) ([]byte, error)
	Sign(ctx context.Context, messageHash []byte, derivationPath [][]byte) ([]byte, error)
}

// DefaultDerivationPath is the minter's fixed five-component path:
// purpose 44' / coin type 60' / account 0' / external 0 / index 1.
func DefaultDerivationPath() [][]byte {
	return [][]byte{
		{0x80, 44},
		{0x80, 60},
		{0x80, 0},
		{0},
		{1},
	}
}

const hardenedOffset = uint32(0x80000000)

// pathComponentToIndex maps one oracle path component to a BIP-32 child
// index. A leading 0x80 byte marks hardened derivation; the remaining bytes
// are the big-endian index.
func pathComponentToIndex(component []byte) (uint32, error) {
	if len(component) == 0 {
		return 0, fmt.Errorf("empty derivation path component")
	}
	hardened := component[0] == 0x80
	rest := component
	if hardened {
		rest = component[1:]
	}
	if len(rest) > 4 {
		return 0, fmt.Errorf("derivation path component too long: %d bytes", len(rest))
	}

	padded := make([]byte, 4)
	copy(padded[4-len(rest):], rest)
	index := binary.BigEndian.Uint32(padded)
	if index >= hardenedOffset {
		return 0, fmt.Errorf("derivation index %d out of range", index)
	}
	if hardened {
		index += hardenedOffset
	}
	return index, nil
}
