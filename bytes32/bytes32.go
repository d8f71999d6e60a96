// Package bytes32 is the fixed-size value used for assertion ids, claims,
// identifiers, domain ids and request ids.
package bytes32

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ID is a 32-byte value rendered as lowercase hex.
type ID [32]byte

// Zero is the all-zero value.
var Zero ID

// FromString right-pads a short ASCII tag with zeros ("ASSERT_TRUTH").
func FromString(s string) (ID, error) {
	var id ID
	if len(s) > len(id) {
		return id, fmt.Errorf("bytes32: %q longer than 32 bytes", s)
	}
	copy(id[:], s)
	return id, nil
}

// MustFromString is FromString for constants.
func MustFromString(s string) ID {
	id, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes copies exactly 32 bytes.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != len(id) {
		return id, fmt.Errorf("bytes32: expected 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Parse accepts 64 hex characters, with or without a 0x prefix.
func Parse(s string) (ID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return Zero, fmt.Errorf("bytes32: decode %q: %w", s, err)
	}
	return FromBytes(raw)
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Bytes returns a copy suitable for a BYTEA column.
func (id ID) Bytes() []byte {
	out := make([]byte, len(id))
	copy(out, id[:])
	return out
}

func (id ID) IsZero() bool { return id == Zero }

// Tag renders the value as text when it is a zero-padded ASCII tag.
func (id ID) Tag() string {
	trimmed := strings.TrimRight(string(id[:]), "\x00")
	for _, r := range trimmed {
		if r < 0x20 || r > 0x7e {
			return id.String()
		}
	}
	return trimmed
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
