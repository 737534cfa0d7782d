// Package bridge holds the sentinel error taxonomy shared by both
// relayers and the HTTP facade. Relayers compare an error directly (==)
// against these vars and branch per the policy table each group
// documents; the facade maps the same sentinels, wrapped or not, to
// status codes with errors.Is.
package bridge

import "errors"

// Transient: retry with backoff, do not advance past the affected item.
var (
	ErrNodeUnavailable = errors.New("node unavailable")
	ErrRPCTimeout      = errors.New("rpc timeout")
	ErrRateLimited     = errors.New("rate limited")
	ErrExpiryRejected  = errors.New("transaction expiry rejected")
	ErrTimeout         = errors.New("operation timed out")
)

// Policy violation: log, advance past the item, leave it for an operator.
var (
	ErrMalformedMemo      = errors.New("malformed deposit memo")
	ErrUnexpectedAmount   = errors.New("unexpected amount")
	ErrUnclaimableDeposit = errors.New("unclaimable deposit")
	ErrInsufficientFunds  = errors.New("insufficient pool funds")
)

// State conflict: treat as success-equivalent, do not retry.
var (
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrCursorRegression = errors.New("cursor regression")
)

// Cryptographic/domain: surface to the facade, never let a relayer see these.
var (
	ErrMalformedAccountID = errors.New("malformed account id")
	ErrMalformedSecret    = errors.New("malformed secret")
	ErrDerivationMismatch = errors.New("derivation mismatch")
)

// Fatal: log and exit the process non-zero.
var (
	ErrStoreCorrupt  = errors.New("store corrupt")
	ErrConfigMissing = errors.New("config missing")
)
