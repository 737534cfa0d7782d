package repository

import (
	"context"

	"bridge-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FaucetRepository manages the registry of wrapped-asset faucets the
// bridge mints deposit notes against.
type FaucetRepository interface {
	EnsureSeeded(ctx context.Context, faucetID string) error
	ListEnabled(ctx context.Context) ([]*models.Faucet, error)
	GetByFaucetID(ctx context.Context, faucetID string) (*models.Faucet, error)
	SetEnabled(ctx context.Context, faucetID string, enabled bool) error
}

type faucetRepository struct {
	db *gorm.DB
}

func NewFaucetRepository(db *gorm.DB) FaucetRepository {
	return &faucetRepository{db: db}
}

// EnsureSeeded inserts the configured faucet id as a row if the table is
// otherwise unseeded for it; a no-op on every restart after the first.
func (r *faucetRepository) EnsureSeeded(ctx context.Context, faucetID string) error {
	if faucetID == "" {
		return nil
	}
	faucet := &models.Faucet{ID: uuid.NewString(), FaucetID: faucetID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "faucet_id"}}, DoNothing: true}).
		Create(faucet).Error
}

func (r *faucetRepository) ListEnabled(ctx context.Context) ([]*models.Faucet, error) {
	var faucets []*models.Faucet
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&faucets).Error
	return faucets, err
}

func (r *faucetRepository) GetByFaucetID(ctx context.Context, faucetID string) (*models.Faucet, error) {
	var faucet models.Faucet
	if err := r.db.WithContext(ctx).Where("faucet_id = ?", faucetID).First(&faucet).Error; err != nil {
		return nil, err
	}
	return &faucet, nil
}

func (r *faucetRepository) SetEnabled(ctx context.Context, faucetID string, enabled bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Faucet{}).
		Where("faucet_id = ?", faucetID).
		Update("enabled", enabled).Error
}
