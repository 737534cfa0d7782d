// Package models holds the bridge store's GORM-mapped row types.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DepositIntentStatus tracks a Zcash-to-Miden deposit through the relayer.
type DepositIntentStatus string

const (
	DepositIntentOpen        DepositIntentStatus = "Open"
	DepositIntentObserved    DepositIntentStatus = "Observed"
	DepositIntentMinted      DepositIntentStatus = "Minted"
	DepositIntentSettled     DepositIntentStatus = "Settled"
	DepositIntentUnclaimable DepositIntentStatus = "Unclaimable"
	DepositIntentQuarantined DepositIntentStatus = "Quarantined"
)

// DepositIntent is created either when the facade issues a recipient hash
// to a depositor, or (back-filled) when the Zcash relayer observes a memo
// whose hash has no prior row. One row per recipient_hash (I1).
type DepositIntent struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	AccountID     string `gorm:"index;not null"`
	RecipientHash string `gorm:"uniqueIndex;size:64;not null"` // idx_recipient_hash (uniqueness enforces I1)
	SourceTxID    string `gorm:"index"`
	AmountBase    string `gorm:"not null;default:'0'"`
	MintNoteID    string
	Status        DepositIntentStatus `gorm:"index;not null;default:'Open'"`
	MintAttempts  int                 `gorm:"not null;default:0"`
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewDepositIntent(accountID, recipientHash string) *DepositIntent {
	return &DepositIntent{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		RecipientHash: recipientHash,
		Status:        DepositIntentOpen,
	}
}

// WithdrawalStatus tracks a Miden-to-Zcash withdrawal through the relayer.
type WithdrawalStatus string

const (
	WithdrawalOpen     WithdrawalStatus = "Open"
	WithdrawalConsumed WithdrawalStatus = "Consumed"
	WithdrawalPaid     WithdrawalStatus = "Paid"
	WithdrawalSettled  WithdrawalStatus = "Settled"
	WithdrawalFailed   WithdrawalStatus = "Failed"
)

// Withdrawal is created by the Miden relayer when it observes an exit
// note with no prior row; the facade's /withdrawal/create submits the
// exit transfer but writes no row. One row per source note (I1).
type Withdrawal struct {
	ID                      string `gorm:"type:uuid;primaryKey"`
	OriginAccountID         string `gorm:"index;not null"`
	DestinationZcashAddress string `gorm:"not null"`
	AmountBase              string `gorm:"not null;default:'0'"`
	SourceNoteID            string `gorm:"uniqueIndex;not null"` // idx_source_note_id (uniqueness enforces I1)
	TargetTxID              string
	Status                  WithdrawalStatus `gorm:"index;not null;default:'Open'"`
	ConsumeAttempts         int              `gorm:"not null;default:0"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func NewWithdrawal(originAccountID, zcashAddress string, amountBase string, sourceNoteID string) *Withdrawal {
	return &Withdrawal{
		ID:                      uuid.NewString(),
		OriginAccountID:         originAccountID,
		DestinationZcashAddress: zcashAddress,
		AmountBase:              amountBase,
		SourceNoteID:            sourceNoteID,
		Status:                  WithdrawalOpen,
	}
}

// ScanCursor is the single-row-per-chain watermark the Zcash relayer
// advances monotonically (I4).
type ScanCursor struct {
	Chain            string `gorm:"primaryKey;size:32"`
	LastScannedBlock uint64 `gorm:"not null;default:0"`
	LastScannedTxPos uint32 `gorm:"not null;default:0"`
	UpdatedAt        time.Time
}

// IdempotencyKey is the at-most-once claim row keyed by (source_chain,
// source_id); its unique index is the sole enforcement point for I2/I5.
type IdempotencyKey struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SourceChain string `gorm:"uniqueIndex:idx_source;size:16;not null"`
	SourceID    string `gorm:"uniqueIndex:idx_source;not null"`
	Outcome     string
	CreatedAt   time.Time
}

// Faucet is one wrapped-asset faucet row, grounded on the original Rust
// implementation's faucet registry (db/faucets.rs). The configured
// FAUCET_ID is seeded as a row on startup. Deposit mints use the
// configured faucet id directly; they do not read these rows.
type Faucet struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	FaucetID   string `gorm:"uniqueIndex;not null"`
	Symbol     string `gorm:"not null;default:'wTAZ'"`
	DecimalsOf uint8  `gorm:"not null;default:8"`
	Enabled    bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
}
