package repository

import (
	"context"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScanCursorRepository tracks each chain's scan watermark (I4: strictly
// monotonic, never goes backwards).
type ScanCursorRepository interface {
	Get(ctx context.Context, chain string) (*models.ScanCursor, error)
	// AdvanceCursor writes the new position only if it is strictly ahead
	// of the stored one; ErrCursorRegression otherwise.
	AdvanceCursor(ctx context.Context, chain string, block uint64, txPos uint32) error
}

type scanCursorRepository struct {
	db *gorm.DB
}

func NewScanCursorRepository(db *gorm.DB) ScanCursorRepository {
	return &scanCursorRepository{db: db}
}

func (r *scanCursorRepository) Get(ctx context.Context, chain string) (*models.ScanCursor, error) {
	var cursor models.ScanCursor
	err := r.db.WithContext(ctx).Where("chain = ?", chain).First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		return &models.ScanCursor{Chain: chain}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (r *scanCursorRepository) AdvanceCursor(ctx context.Context, chain string, block uint64, txPos uint32) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cursor models.ScanCursor
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("chain = ?", chain).First(&cursor).Error
		if err == gorm.ErrRecordNotFound {
			return tx.Create(&models.ScanCursor{Chain: chain, LastScannedBlock: block, LastScannedTxPos: txPos}).Error
		}
		if err != nil {
			return err
		}

		if block < cursor.LastScannedBlock ||
			(block == cursor.LastScannedBlock && txPos <= cursor.LastScannedTxPos) {
			return bridge.ErrCursorRegression
		}

		return tx.Model(&cursor).Updates(map[string]interface{}{
			"last_scanned_block":  block,
			"last_scanned_tx_pos": txPos,
		}).Error
	})
}
