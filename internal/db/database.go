package db

import (
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bridge-backend/internal/config"
	"bridge-backend/internal/models"
)

var DB *gorm.DB

// InitDB opens the bridge store's Postgres connection and migrates its
// schema, in the teacher's GORM-tuning style: prepared statements on and
// automatic transaction wrapping disabled (no pool limits are set), since every
// write path below already wraps its own invariant-sensitive statements
// explicitly (clause.OnConflict, row-level locking, RowsAffected checks).
func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN
	log.Printf("connecting to bridge store: %s", dsn)

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		DisableAutomaticPing:                     true,
		PrepareStmt:                              true,
		CreateBatchSize:                          1000,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect to bridge store: %v", err)
	}
	log.Println("✅ bridge store connected")

	if err := DB.AutoMigrate(
		&models.DepositIntent{},
		&models.Withdrawal{},
		&models.ScanCursor{},
		&models.IdempotencyKey{},
		&models.Faucet{},
	); err != nil {
		log.Fatalf("automigrate failed: %v", err)
	}
	log.Println("✅ bridge store schema migrated")
}
