package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
)

func newMidenRelayerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Withdrawal{}, &models.IdempotencyKey{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newMidenRelayerUnderTest(t *testing.T, midenSrv, zcashSrv *httptest.Server) (*MidenRelayer, repository.WithdrawalRepository) {
	t.Helper()
	db := newMidenRelayerTestDB(t)
	withdrawals := repository.NewWithdrawalRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	logger := testLogger()
	midenClient := clients.NewMidenClient(midenSrv.URL, 5*time.Second, logger)
	zcashClient := clients.NewZcashClient(zcashSrv.URL, 5*time.Second, logger)

	relayer := NewMidenRelayer(midenClient, zcashClient, withdrawals, idempotency, MidenRelayerConfig{
		PoolAddr:        "ztestpool",
		BridgeAccountID: "0xbridge",
		ExitTag:         42,
		FanOut:          2,
		RPCTimeout:      5 * time.Second,
	}, logger)
	return relayer, withdrawals
}

func TestConsumeExitNotesPaysOutOnHappyPath(t *testing.T) {
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/consumable": func(body map[string]interface{}) interface{} {
			return []map[string]interface{}{
				{"note_id": "exit-1", "zcash_address": "ztestdest", "amount": 4000, "since_block": 1},
			}
		},
		"/notes/consume": func(body map[string]interface{}) interface{} {
			if body["note_id"] != "exit-1" {
				t.Fatalf("consume called with note_id=%v, want exit-1", body["note_id"])
			}
			return map[string]interface{}{"accepted": true}
		},
	})
	defer midenSrv.Close()

	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_sendmany":            "opid-1",
		"z_getoperationstatus": []map[string]interface{}{{"id": "opid-1", "status": "success", "result": map[string]interface{}{"txid": "payout-tx"}}},
	})
	defer zcashSrv.Close()

	relayer, withdrawals := newMidenRelayerUnderTest(t, midenSrv, zcashSrv)
	ctx := context.Background()

	if err := relayer.consumeExitNotes(ctx); err != nil {
		t.Fatalf("consumeExitNotes: %v", err)
	}

	withdrawal, err := withdrawals.GetBySourceNoteID(ctx, "exit-1")
	if err != nil {
		t.Fatalf("GetBySourceNoteID: %v", err)
	}
	if withdrawal.Status != models.WithdrawalConsumed {
		t.Fatalf("got status=%q, want Consumed", withdrawal.Status)
	}

	relayer.payoutPending()

	withdrawal, err = withdrawals.GetBySourceNoteID(ctx, "exit-1")
	if err != nil {
		t.Fatalf("GetBySourceNoteID after payout: %v", err)
	}
	if withdrawal.Status != models.WithdrawalPaid || withdrawal.TargetTxID != "payout-tx" {
		t.Fatalf("got status=%q targetTxID=%q, want Paid/payout-tx", withdrawal.Status, withdrawal.TargetTxID)
	}
}

func TestConsumeExitNotesClaimsEachNoteOnce(t *testing.T) {
	consumeCalls := 0
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/consumable": func(body map[string]interface{}) interface{} {
			return []map[string]interface{}{
				{"note_id": "exit-dup", "zcash_address": "ztestdest", "amount": 1000, "since_block": 1},
			}
		},
		"/notes/consume": func(body map[string]interface{}) interface{} {
			consumeCalls++
			return map[string]interface{}{"accepted": true}
		},
	})
	defer midenSrv.Close()
	zcashSrv := newFakeZcashServer(t, map[string]interface{}{})
	defer zcashSrv.Close()

	relayer, _ := newMidenRelayerUnderTest(t, midenSrv, zcashSrv)
	ctx := context.Background()

	if err := relayer.consumeExitNotes(ctx); err != nil {
		t.Fatalf("first consumeExitNotes: %v", err)
	}
	if err := relayer.consumeExitNotes(ctx); err != nil {
		t.Fatalf("second consumeExitNotes: %v", err)
	}
	if consumeCalls != 1 {
		t.Fatalf("got %d consume calls across two identical passes, want exactly 1", consumeCalls)
	}
}

func TestConsumeExitNotesReleasesWithdrawalOnConsumeFailureAndRetries(t *testing.T) {
	consumeCalls := 0
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/consumable": func(body map[string]interface{}) interface{} {
			return []map[string]interface{}{
				{"note_id": "exit-flaky", "zcash_address": "ztestdest", "amount": 2500, "since_block": 1},
			}
		},
		"/notes/consume": func(body map[string]interface{}) interface{} {
			consumeCalls++
			if consumeCalls == 1 {
				return map[string]interface{}{"error": "rollup temporarily unavailable"}
			}
			return map[string]interface{}{"accepted": true}
		},
	})
	defer midenSrv.Close()
	zcashSrv := newFakeZcashServer(t, map[string]interface{}{})
	defer zcashSrv.Close()

	relayer, withdrawals := newMidenRelayerUnderTest(t, midenSrv, zcashSrv)
	ctx := context.Background()

	if err := relayer.consumeExitNotes(ctx); err != nil {
		t.Fatalf("first consumeExitNotes: %v", err)
	}

	withdrawal, err := withdrawals.GetBySourceNoteID(ctx, "exit-flaky")
	if err != nil {
		t.Fatalf("GetBySourceNoteID: %v", err)
	}
	if withdrawal.Status != models.WithdrawalOpen {
		t.Fatalf("got status=%q after failed consume, want Open (released for retry)", withdrawal.Status)
	}
	if withdrawal.ConsumeAttempts != 1 {
		t.Fatalf("got ConsumeAttempts=%d after one failed consume, want 1", withdrawal.ConsumeAttempts)
	}

	if err := relayer.consumeExitNotes(ctx); err != nil {
		t.Fatalf("second consumeExitNotes: %v", err)
	}

	withdrawal, err = withdrawals.GetBySourceNoteID(ctx, "exit-flaky")
	if err != nil {
		t.Fatalf("GetBySourceNoteID after retry: %v", err)
	}
	if withdrawal.Status != models.WithdrawalConsumed {
		t.Fatalf("got status=%q after successful retry, want Consumed", withdrawal.Status)
	}
	if consumeCalls != 2 {
		t.Fatalf("got %d consume calls, want exactly 2 (one failure, one successful retry)", consumeCalls)
	}
}

func TestPayoutPendingRetriesStuckConsumedWithdrawal(t *testing.T) {
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{})
	defer midenSrv.Close()

	var sendAttempts int
	zcashSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sendAttempts++
		var call rpcCall
		json.NewDecoder(req.Body).Decode(&call)
		w.Header().Set("Content-Type", "application/json")
		switch call.Method {
		case "z_sendmany":
			w.Write([]byte(`{"result":"opid-retry"}`))
		case "z_getoperationstatus":
			w.Write([]byte(`{"result":[{"id":"opid-retry","status":"success","result":{"txid":"retry-tx"}}]}`))
		default:
			t.Fatalf("unexpected rpc method %q", call.Method)
		}
	}))
	defer zcashSrv.Close()

	relayer, withdrawals := newMidenRelayerUnderTest(t, midenSrv, zcashSrv)
	ctx := context.Background()

	withdrawal := models.NewWithdrawal("", "ztestdest", "500", "exit-stuck")
	if err := withdrawals.CreateWithdrawal(ctx, withdrawal); err != nil {
		t.Fatalf("CreateWithdrawal: %v", err)
	}
	if err := withdrawals.ClaimWithdrawal(ctx, withdrawal.ID); err != nil {
		t.Fatalf("ClaimWithdrawal: %v", err)
	}

	stuck, err := withdrawals.FindStuckConsumed(ctx, -1)
	if err != nil {
		t.Fatalf("FindStuckConsumed: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("got %d stuck withdrawals, want 1", len(stuck))
	}

	relayer.payoutOne(stuck[0])

	if sendAttempts == 0 {
		t.Fatalf("payoutOne never attempted a send for the stuck withdrawal")
	}
}
