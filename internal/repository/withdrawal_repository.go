package repository

import (
	"context"
	"fmt"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithdrawalRepository is the Bridge Store's view onto exits from Miden
// back to Zcash.
type WithdrawalRepository interface {
	CreateWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
	GetBySourceNoteID(ctx context.Context, sourceNoteID string) (*models.Withdrawal, error)
	GetByID(ctx context.Context, id string) (*models.Withdrawal, error)
	FindByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error)
	// FindStuckConsumed returns withdrawals whose note was consumed but
	// whose Zcash payout never landed a target_txid, the set the Miden
	// relayer's payout pass retries every tick.
	FindStuckConsumed(ctx context.Context, limit int) ([]*models.Withdrawal, error)

	// ClaimWithdrawal flips Open -> Consumed; a zero RowsAffected means
	// another pass already claimed it and the caller should treat the
	// note as handled rather than retry.
	ClaimWithdrawal(ctx context.Context, id string) error
	// MarkPaid persists target_txid and the Paid status together so a
	// crash between the two writes can never happen.
	MarkPaid(ctx context.Context, id, targetTxID string) error
	MarkSettled(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// ReleaseWithdrawal reverts a Consumed row back to Open when the
	// Miden relayer's ConsumeNote call fails after the row was claimed,
	// so the next pass claims and consumes the same note again.
	ReleaseWithdrawal(ctx context.Context, id string) error
	BumpConsumeAttempt(ctx context.Context, id string) error
}

type withdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) CreateWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_note_id"}}, DoNothing: true}).
		Create(withdrawal).Error
}

func (r *withdrawalRepository) GetBySourceNoteID(ctx context.Context, sourceNoteID string) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	err := r.db.WithContext(ctx).Where("source_note_id = ?", sourceNoteID).First(&withdrawal).Error
	if err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

func (r *withdrawalRepository) GetByID(ctx context.Context, id string) (*models.Withdrawal, error) {
	var withdrawal models.Withdrawal
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&withdrawal).Error; err != nil {
		return nil, err
	}
	return &withdrawal, nil
}

func (r *withdrawalRepository) FindByStatus(ctx context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error) {
	var withdrawals []*models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&withdrawals).Error
	return withdrawals, err
}

func (r *withdrawalRepository) FindStuckConsumed(ctx context.Context, limit int) ([]*models.Withdrawal, error) {
	var withdrawals []*models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ? AND target_tx_id = ''", models.WithdrawalConsumed).
		Order("created_at ASC").
		Limit(limit).
		Find(&withdrawals).Error
	return withdrawals, err
}

func (r *withdrawalRepository) ClaimWithdrawal(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, models.WithdrawalOpen).
		Update("status", models.WithdrawalConsumed)
	if result.Error != nil {
		return fmt.Errorf("claim withdrawal: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return bridge.ErrAlreadyClaimed
	}
	return nil
}

func (r *withdrawalRepository) MarkPaid(ctx context.Context, id, targetTxID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, models.WithdrawalConsumed).
		Updates(map[string]interface{}{
			"status":       models.WithdrawalPaid,
			"target_tx_id": targetTxID,
		})
	if result.Error != nil {
		return fmt.Errorf("mark paid: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return bridge.ErrAlreadyClaimed
	}
	return nil
}

func (r *withdrawalRepository) MarkSettled(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ?", id).
		Update("status", models.WithdrawalSettled).Error
}

func (r *withdrawalRepository) MarkFailed(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ?", id).
		Update("status", models.WithdrawalFailed).Error
}

func (r *withdrawalRepository) ReleaseWithdrawal(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, models.WithdrawalConsumed).
		Update("status", models.WithdrawalOpen).Error
}

func (r *withdrawalRepository) BumpConsumeAttempt(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Withdrawal{}).
		Where("id = ?", id).
		UpdateColumn("consume_attempts", gorm.Expr("consume_attempts + 1")).Error
}
