// Package principal implements the textual encoding of ledger principals:
// base32(crc32(raw) || raw), lowercase, in dash-separated groups of five.
package principal

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const maxRawLen = 29

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is a ledger principal identifier.
type Principal struct {
	raw []byte
}

// Anonymous is the anonymous principal ("2vxsx-fae").
var Anonymous = Principal{raw: []byte{0x04}}

// FromRaw constructs a principal from its raw bytes.
func FromRaw(raw []byte) (Principal, error) {
	if len(raw) > maxRawLen {
		return Principal{}, fmt.Errorf("principal too long: %d bytes", len(raw))
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return Principal{raw: out}, nil
}

// FromText parses the textual form of a principal.
func FromText(text string) (Principal, error) {
	compact := strings.ReplaceAll(strings.TrimSpace(text), "-", "")
	if compact == "" {
		return Principal{}, fmt.Errorf("empty principal text")
	}
	if compact != strings.ToLower(compact) {
		return Principal{}, fmt.Errorf("principal text must be lowercase: %q", text)
	}

	decoded, err := encoding.DecodeString(strings.ToUpper(compact))
	if err != nil {
		return Principal{}, fmt.Errorf("invalid base32 in principal %q: %w", text, err)
	}
	if len(decoded) < 4 {
		return Principal{}, fmt.Errorf("principal %q too short", text)
	}

	checksum := binary.BigEndian.Uint32(decoded[:4])
	raw := decoded[4:]
	if len(raw) > maxRawLen {
		return Principal{}, fmt.Errorf("principal %q too long: %d bytes", text, len(raw))
	}
	if checksum != crc32.ChecksumIEEE(raw) {
		return Principal{}, fmt.Errorf("principal %q has an invalid checksum", text)
	}

	p := Principal{raw: raw}
	// The grouping is part of the canonical form; reject e.g. misplaced dashes.
	if p.Text() != strings.TrimSpace(text) {
		return Principal{}, fmt.Errorf("principal %q is not in canonical textual form", text)
	}
	return p, nil
}

// Text returns the canonical textual form.
func (p Principal) Text() string {
	buf := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf[:4], crc32.ChecksumIEEE(p.raw))
	copy(buf[4:], p.raw)

	encoded := strings.ToLower(encoding.EncodeToString(buf))

	var b strings.Builder
	for i, r := range encoded {
		if i > 0 && i%5 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Raw returns a copy of the principal's raw bytes.
func (p Principal) Raw() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return len(p.raw) == 1 && p.raw[0] == 0x04
}

// Equal reports whether two principals are the same identity.
func (p Principal) Equal(other Principal) bool {
	return string(p.raw) == string(other.raw)
}

func (p Principal) String() string {
	return p.Text()
}

// MarshalCBOR encodes the principal as its raw byte string.
func (p Principal) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(p.raw)
}

// UnmarshalCBOR decodes a principal from its raw byte string.
func (p *Principal) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode principal bytes: %w", err)
	}
	if len(raw) > maxRawLen {
		return fmt.Errorf("principal too long: %d bytes", len(raw))
	}
	p.raw = raw
	return nil
}

// MarshalJSON encodes the principal in its textual form.
func (p Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Text())
}

// UnmarshalJSON decodes a principal from its textual form.
func (p *Principal) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := FromText(text)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
