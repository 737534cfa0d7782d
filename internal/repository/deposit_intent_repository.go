package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositIntentRepository is the Bridge Store's view onto deposit intents.
type DepositIntentRepository interface {
	// UpsertIntent inserts a new Open intent for recipientHash, or is a
	// no-op if one already exists (I1 enforced by the unique index, not
	// by a pre-check).
	UpsertIntent(ctx context.Context, intent *models.DepositIntent) error
	GetByRecipientHash(ctx context.Context, recipientHash string) (*models.DepositIntent, error)
	GetByID(ctx context.Context, id string) (*models.DepositIntent, error)
	FindByStatus(ctx context.Context, status models.DepositIntentStatus, limit int) ([]*models.DepositIntent, error)
	FindDueForMintRetry(ctx context.Context, limit int) ([]*models.DepositIntent, error)

	// MarkObserved records the source deposit once the Zcash relayer has
	// matched a scanned output to an intent's recipient hash.
	MarkObserved(ctx context.Context, id, sourceTxID, amountBase string) error
	// MarkMinted persists the mint note id in the same write as the
	// status flip, so a crash between the two can never happen.
	MarkMinted(ctx context.Context, id, mintNoteID string) error
	MarkSettled(ctx context.Context, id string) error
	MarkUnclaimable(ctx context.Context, id string) error
	// BumpMintAttempt increments the attempt counter and sets the next
	// eligible retry time; it quarantines the row itself once attempts
	// reaches maxAttempts.
	BumpMintAttempt(ctx context.Context, id string, nextAttemptAt time.Time, maxAttempts int) error
	FindQuarantined(ctx context.Context) ([]*models.DepositIntent, error)
	RequeueFromQuarantine(ctx context.Context, id string) error
}

type depositIntentRepository struct {
	db *gorm.DB
}

func NewDepositIntentRepository(db *gorm.DB) DepositIntentRepository {
	return &depositIntentRepository{db: db}
}

func (r *depositIntentRepository) UpsertIntent(ctx context.Context, intent *models.DepositIntent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "recipient_hash"}}, DoNothing: true}).
		Create(intent).Error
}

func (r *depositIntentRepository) GetByRecipientHash(ctx context.Context, recipientHash string) (*models.DepositIntent, error) {
	var intent models.DepositIntent
	err := r.db.WithContext(ctx).Where("recipient_hash = ?", recipientHash).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *depositIntentRepository) GetByID(ctx context.Context, id string) (*models.DepositIntent, error) {
	var intent models.DepositIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *depositIntentRepository) FindByStatus(ctx context.Context, status models.DepositIntentStatus, limit int) ([]*models.DepositIntent, error) {
	var intents []*models.DepositIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *depositIntentRepository) FindDueForMintRetry(ctx context.Context, limit int) ([]*models.DepositIntent, error) {
	var intents []*models.DepositIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.DepositIntentObserved, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

func (r *depositIntentRepository) MarkObserved(ctx context.Context, id, sourceTxID, amountBase string) error {
	result := r.db.WithContext(ctx).
		Model(&models.DepositIntent{}).
		Where("id = ? AND status = ?", id, models.DepositIntentOpen).
		Updates(map[string]interface{}{
			"status":       models.DepositIntentObserved,
			"source_tx_id": sourceTxID,
			"amount_base":  amountBase,
		})
	if result.Error != nil {
		return fmt.Errorf("mark observed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return bridge.ErrAlreadyClaimed
	}
	return nil
}

func (r *depositIntentRepository) MarkMinted(ctx context.Context, id, mintNoteID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.DepositIntent{}).
		Where("id = ? AND status = ?", id, models.DepositIntentObserved).
		Updates(map[string]interface{}{
			"status":       models.DepositIntentMinted,
			"mint_note_id": mintNoteID,
		})
	if result.Error != nil {
		return fmt.Errorf("mark minted: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return bridge.ErrAlreadyClaimed
	}
	return nil
}

func (r *depositIntentRepository) MarkSettled(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositIntent{}).
		Where("id = ?", id).
		Update("status", models.DepositIntentSettled).Error
}

func (r *depositIntentRepository) MarkUnclaimable(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositIntent{}).
		Where("id = ?", id).
		Update("status", models.DepositIntentUnclaimable).Error
}

func (r *depositIntentRepository) BumpMintAttempt(ctx context.Context, id string, nextAttemptAt time.Time, maxAttempts int) error {
	var intent models.DepositIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return err
	}

	attempts := intent.MintAttempts + 1
	updates := map[string]interface{}{
		"mint_attempts":   attempts,
		"next_attempt_at": nextAttemptAt,
	}
	if attempts >= maxAttempts {
		updates["status"] = models.DepositIntentQuarantined
	}

	return r.db.WithContext(ctx).
		Model(&models.DepositIntent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *depositIntentRepository) FindQuarantined(ctx context.Context) ([]*models.DepositIntent, error) {
	var intents []*models.DepositIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.DepositIntentQuarantined).
		Order("updated_at DESC").
		Find(&intents).Error
	return intents, err
}

func (r *depositIntentRepository) RequeueFromQuarantine(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.DepositIntent{}).
		Where("id = ? AND status = ?", id, models.DepositIntentQuarantined).
		Updates(map[string]interface{}{
			"status":        models.DepositIntentObserved,
			"mint_attempts": 0,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("deposit intent not in quarantine")
	}
	return nil
}
