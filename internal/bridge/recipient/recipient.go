// Package recipient implements the recipient-hash derivation the
// deposit-hash endpoint hands to depositors:
//
//	H(encode(account_id) || secret)
//
// The same inputs always give the same 32-byte output; DeriveBytes is a
// thin wrapper over Derive, not a second variant of the hash.
package recipient

import (
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/bridge/midenaddr"
)

const SecretLen = 32

// Derive decodes accountID (bech32 or hex, per midenaddr) into its
// 15-byte canonical encoding, then returns the low-order 32 bytes of the
// 48-byte BW6-761 MiMC digest of the canonical bytes concatenated with
// secret.
func Derive(accountID string, secret [SecretLen]byte) ([32]byte, error) {
	var out [32]byte

	canonical, err := midenaddr.Decode(accountID)
	if err != nil {
		return out, err
	}

	h := mimcNative.NewMiMC()
	h.Write(canonical[:])
	h.Write(secret[:])
	sum := h.Sum(nil)
	if len(sum) < 32 {
		return out, bridge.ErrDerivationMismatch
	}
	copy(out[:], sum[len(sum)-32:])
	return out, nil
}

// DeriveBytes is the []byte-secret convenience for callers holding the
// secret as a slice; it rejects any length but SecretLen rather than
// silently zero-padding it.
func DeriveBytes(accountID string, secret []byte) ([32]byte, error) {
	var out [32]byte
	if len(secret) != SecretLen {
		return out, bridge.ErrMalformedSecret
	}
	var fixed [SecretLen]byte
	copy(fixed[:], secret)
	return Derive(accountID, fixed)
}
