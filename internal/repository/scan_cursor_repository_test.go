package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// AdvanceCursor takes a row lock via clause.Locking, which SQLite's
// query grammar has no equivalent for, so this package tests against a
// mocked Postgres connection instead of the in-memory SQLite db the
// other repository tests share.
func newMockedPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return gdb, mock
}

func TestAdvanceCursorCreatesRowOnFirstCall(t *testing.T) {
	db, mock := newMockedPostgres(t)
	repo := NewScanCursorRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "scan_cursors" WHERE chain = \$1 ORDER BY "scan_cursors"\."chain" LIMIT \$2 FOR UPDATE`).
		WithArgs("zcash", 1).
		WillReturnRows(sqlmock.NewRows([]string{"chain"}))
	mock.ExpectExec(`INSERT INTO "scan_cursors"`).
		WithArgs("zcash", uint64(100), uint32(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.AdvanceCursor(context.Background(), "zcash", 100, 2); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdvanceCursorRejectsRegression(t *testing.T) {
	db, mock := newMockedPostgres(t)
	repo := NewScanCursorRepository(db)

	updated := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "scan_cursors" WHERE chain = \$1 ORDER BY "scan_cursors"\."chain" LIMIT \$2 FOR UPDATE`).
		WithArgs("zcash", 1).
		WillReturnRows(sqlmock.NewRows([]string{"chain", "last_scanned_block", "last_scanned_tx_pos", "updated_at"}).
			AddRow("zcash", 100, 2, updated))
	mock.ExpectRollback()

	err := repo.AdvanceCursor(context.Background(), "zcash", 99, 0)
	if !errors.Is(err, bridge.ErrCursorRegression) {
		t.Fatalf("got err=%v, want ErrCursorRegression", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdvanceCursorAcceptsStrictAdvance(t *testing.T) {
	db, mock := newMockedPostgres(t)
	repo := NewScanCursorRepository(db)

	updated := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "scan_cursors" WHERE chain = \$1 ORDER BY "scan_cursors"\."chain" LIMIT \$2 FOR UPDATE`).
		WithArgs("zcash", 1).
		WillReturnRows(sqlmock.NewRows([]string{"chain", "last_scanned_block", "last_scanned_tx_pos", "updated_at"}).
			AddRow("zcash", 100, 2, updated))
	mock.ExpectExec(`UPDATE "scan_cursors" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.AdvanceCursor(context.Background(), "zcash", 101, 0); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetReturnsZeroValueCursorWhenMissing(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&models.ScanCursor{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	repo := NewScanCursorRepository(db)

	cursor, err := repo.Get(context.Background(), "zcash")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cursor.Chain != "zcash" || cursor.LastScannedBlock != 0 {
		t.Fatalf("got %+v, want zero-value cursor for chain zcash", cursor)
	}
}
