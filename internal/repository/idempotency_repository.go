package repository

import (
	"context"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyRepository is the at-most-once claim log keyed by
// (source_chain, source_id) that both relayers insert into before acting
// on an externally observed event (I2/I5).
type IdempotencyRepository interface {
	// Claim inserts a (sourceChain, sourceID) row. ErrAlreadyClaimed if
	// one already exists; the caller must treat that as success-
	// equivalent, not as a failure to retry.
	Claim(ctx context.Context, sourceChain, sourceID, outcome string) error
	WasClaimed(ctx context.Context, sourceChain, sourceID string) (bool, error)
}

type idempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Claim(ctx context.Context, sourceChain, sourceID, outcome string) error {
	key := &models.IdempotencyKey{SourceChain: sourceChain, SourceID: sourceID, Outcome: outcome}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(key)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bridge.ErrAlreadyClaimed
	}
	return nil
}

func (r *idempotencyRepository) WasClaimed(ctx context.Context, sourceChain, sourceID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.IdempotencyKey{}).
		Where("source_chain = ? AND source_id = ?", sourceChain, sourceID).
		Count(&count).Error
	return count > 0, err
}
