// Package midenaddr decodes the two textual forms of a Miden account id
// accepted by the facade: raw hex and the bech32 human-readable form
// (hrp "mtst" on testnet), into the 15-byte canonical encoding the
// rollup uses internally.
package midenaddr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"bridge-backend/internal/bridge"
)

const accountIDLen = 15

// Decode parses either "0x"+30 hex chars or a bech32 string into the
// canonical 15-byte account id.
func Decode(s string) ([accountIDLen]byte, error) {
	var out [accountIDLen]byte
	s = strings.TrimSpace(s)
	if s == "" {
		return out, bridge.ErrMalformedAccountID
	}

	if strings.Contains(s, "1") && !strings.HasPrefix(strings.ToLower(s), "0x") {
		data, err := bech32Decode(s)
		if err != nil {
			return out, fmt.Errorf("%w: %v", bridge.ErrMalformedAccountID, err)
		}
		if len(data) != accountIDLen {
			return out, fmt.Errorf("%w: decoded length %d, want %d", bridge.ErrMalformedAccountID, len(data), accountIDLen)
		}
		copy(out[:], data)
		return out, nil
	}

	hexPart := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(hexPart) != accountIDLen*2 {
		return out, fmt.Errorf("%w: expected %d hex chars, got %d", bridge.ErrMalformedAccountID, accountIDLen*2, len(hexPart))
	}
	data, err := hex.DecodeString(hexPart)
	if err != nil {
		return out, fmt.Errorf("%w: %v", bridge.ErrMalformedAccountID, err)
	}
	copy(out[:], data)
	return out, nil
}

// Encode renders the canonical bytes as 0x-prefixed hex (never the
// bech32 form).
func Encode(id [accountIDLen]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// bech32Decode decodes the BIP-173 character set and 5-to-8-bit
// regrouping (no SegWit witness version byte, just the raw payload). It
// drops the 6-character checksum without verifying it and does not check
// the human-readable prefix. It is hand-rolled since the pack
// carries no standalone bech32 codec narrow enough to wire in without
// pulling in a whole chain SDK for one helper.
func bech32Decode(s string) ([]byte, error) {
	lower := strings.ToLower(s)
	if lower != s && strings.ToUpper(s) != s {
		return nil, fmt.Errorf("mixed case")
	}
	s = lower

	sep := strings.LastIndex(s, "1")
	if sep < 1 || sep+7 > len(s) {
		return nil, fmt.Errorf("invalid separator position")
	}

	data := s[sep+1:]
	values := make([]byte, len(data))
	for i, c := range data {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return nil, fmt.Errorf("invalid character %q", c)
		}
		values[i] = byte(idx)
	}
	if len(values) < 6 {
		return nil, fmt.Errorf("data too short")
	}
	payload := values[:len(values)-6] // drop the 6-value checksum

	return convertBits(payload, 5, 8, false)
}

func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	var out []byte
	maxv := uint32(1)<<toBits - 1

	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data value")
		}
		acc = acc<<fromBits | uint32(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits)&byte(maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits))&byte(maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, fmt.Errorf("invalid padding")
	}
	return out, nil
}
