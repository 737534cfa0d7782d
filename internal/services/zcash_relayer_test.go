package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
)

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newFakeZcashServer answers zcashd JSON-RPC calls from a small
// per-method table; the scan/mint loop only needs a handful of methods,
// so this stands in for a real zcashd instead of an interface mock
// since ZcashClient is a concrete struct that speaks raw JSON-RPC.
func newFakeZcashServer(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(req.Body).Decode(&call); err != nil {
			t.Fatalf("decode rpc call: %v", err)
		}
		result, ok := results[call.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %q", call.Method)
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			t.Fatalf("marshal fake result: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"result": json.RawMessage(resultJSON)})
	}))
}

func newFakeMidenServer(t *testing.T, handlers map[string]func(body map[string]interface{}) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handler, ok := handlers[req.URL.Path]
		if !ok {
			t.Fatalf("unexpected miden path %q", req.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(req.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(handler(body))
	}))
}

func newRelayerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.DepositIntent{}, &models.Withdrawal{}, &models.ScanCursor{}, &models.IdempotencyKey{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newZcashRelayerUnderTest(t *testing.T, zcashSrv, midenSrv *httptest.Server) (*ZcashRelayer, repository.DepositIntentRepository) {
	t.Helper()
	db := newRelayerTestDB(t)
	intents := repository.NewDepositIntentRepository(db)
	cursors := repository.NewScanCursorRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	logger := testLogger()
	zcashClient := clients.NewZcashClient(zcashSrv.URL, 5*time.Second, logger)
	midenClient := clients.NewMidenClient(midenSrv.URL, 5*time.Second, logger)

	relayer := NewZcashRelayer(zcashClient, midenClient, intents, cursors, idempotency, ZcashRelayerConfig{
		PoolAddr:        "ztestpool",
		FaucetID:        "faucet-1",
		BridgeAccountID: "0xbridge",
		ScanBatchBlocks: 1000,
		MaxMintAttempts: 3,
		FanOut:          2,
		RPCTimeout:      5 * time.Second,
	}, logger)
	return relayer, intents
}

func recipientHashHex(seed byte) string {
	h := make([]byte, 32)
	h[0] = seed
	return hex.EncodeToString(h)
}

func newZcashRelayerWithDustThreshold(t *testing.T, zcashSrv, midenSrv *httptest.Server, dustThresholdBase uint64) (*ZcashRelayer, repository.DepositIntentRepository) {
	t.Helper()
	db := newRelayerTestDB(t)
	intents := repository.NewDepositIntentRepository(db)
	cursors := repository.NewScanCursorRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	logger := testLogger()
	zcashClient := clients.NewZcashClient(zcashSrv.URL, 5*time.Second, logger)
	midenClient := clients.NewMidenClient(midenSrv.URL, 5*time.Second, logger)

	relayer := NewZcashRelayer(zcashClient, midenClient, intents, cursors, idempotency, ZcashRelayerConfig{
		PoolAddr:          "ztestpool",
		FaucetID:          "faucet-1",
		BridgeAccountID:   "0xbridge",
		ScanBatchBlocks:   1000,
		MaxMintAttempts:   3,
		FanOut:            2,
		DustThresholdBase: dustThresholdBase,
		RPCTimeout:        5 * time.Second,
	}, logger)
	return relayer, intents
}

func TestScanDepositsMintsOnHappyPath(t *testing.T) {
	hash := recipientHashHex(1)

	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_listreceivedbyaddress_range": []map[string]interface{}{
			{"txid": "tx1", "height": 10, "outindex": 0, "memo": hash, "amount": 5000},
		},
	})
	defer zcashSrv.Close()

	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/mint": func(body map[string]interface{}) interface{} {
			if body["recipient_hash"] != hash {
				t.Fatalf("mint called with recipient_hash=%v, want %v", body["recipient_hash"], hash)
			}
			return map[string]interface{}{"note_id": "note-1"}
		},
	})
	defer midenSrv.Close()

	relayer, intents := newZcashRelayerUnderTest(t, zcashSrv, midenSrv)
	ctx := context.Background()

	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("scanDeposits: %v", err)
	}

	intent, err := intents.GetByRecipientHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByRecipientHash: %v", err)
	}
	if intent.Status != models.DepositIntentObserved {
		t.Fatalf("got status=%q, want Observed", intent.Status)
	}

	if err := relayer.mintPending(ctx); err != nil {
		t.Fatalf("mintPending: %v", err)
	}

	intent, err = intents.GetByRecipientHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByRecipientHash after mint: %v", err)
	}
	if intent.Status != models.DepositIntentMinted || intent.MintNoteID != "note-1" {
		t.Fatalf("got status=%q noteID=%q, want Minted/note-1", intent.Status, intent.MintNoteID)
	}
}

func TestScanDepositsMarksMalformedMemoUnclaimable(t *testing.T) {
	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_listreceivedbyaddress_range": []map[string]interface{}{
			{"txid": "tx-bad", "height": 11, "outindex": 0, "memo": "not-hex-and-not-32-bytes", "amount": 1000},
		},
	})
	defer zcashSrv.Close()
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{})
	defer midenSrv.Close()

	relayer, intents := newZcashRelayerUnderTest(t, zcashSrv, midenSrv)
	ctx := context.Background()

	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("scanDeposits: %v", err)
	}

	quarantinedOrUnclaimable, err := intents.FindByStatus(ctx, models.DepositIntentUnclaimable, -1)
	if err != nil {
		t.Fatalf("FindByStatus: %v", err)
	}
	if len(quarantinedOrUnclaimable) != 1 {
		t.Fatalf("got %d Unclaimable intents, want 1", len(quarantinedOrUnclaimable))
	}
	if !strings.EqualFold(quarantinedOrUnclaimable[0].SourceTxID, "") {
		t.Fatalf("malformed-memo intent unexpectedly carries a source tx id: %q", quarantinedOrUnclaimable[0].SourceTxID)
	}
}

func TestScanDepositsAdvancesCursorPastMalformedMemo(t *testing.T) {
	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_listreceivedbyaddress_range": []map[string]interface{}{
			{"txid": "tx-bad", "height": 20, "outindex": 3, "memo": "zz", "amount": 1000},
		},
	})
	defer zcashSrv.Close()
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{})
	defer midenSrv.Close()

	relayer, _ := newZcashRelayerUnderTest(t, zcashSrv, midenSrv)
	ctx := context.Background()

	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("scanDeposits: %v", err)
	}

	cursor, err := relayer.cursors.Get(ctx, "zcash")
	if err != nil {
		t.Fatalf("Get cursor: %v", err)
	}
	if cursor.LastScannedBlock != 20 || cursor.LastScannedTxPos != 3 {
		t.Fatalf("cursor did not advance past the malformed-memo output: got block=%d pos=%d", cursor.LastScannedBlock, cursor.LastScannedTxPos)
	}
}

func TestScanDepositsMarksSubDustDepositUnclaimable(t *testing.T) {
	hash := recipientHashHex(3)

	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_listreceivedbyaddress_range": []map[string]interface{}{
			{"txid": "tx-dust", "height": 12, "outindex": 0, "memo": hash, "amount": 50},
		},
	})
	defer zcashSrv.Close()
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/mint": func(body map[string]interface{}) interface{} {
			t.Fatalf("mint should not be called for a sub-dust deposit")
			return nil
		},
	})
	defer midenSrv.Close()

	relayer, intents := newZcashRelayerWithDustThreshold(t, zcashSrv, midenSrv, 1000)
	ctx := context.Background()

	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("scanDeposits: %v", err)
	}

	intent, err := intents.GetByRecipientHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByRecipientHash: %v", err)
	}
	if intent.Status != models.DepositIntentUnclaimable {
		t.Fatalf("got status=%q, want Unclaimable for a deposit below the dust threshold", intent.Status)
	}

	if err := relayer.mintPending(ctx); err != nil {
		t.Fatalf("mintPending: %v", err)
	}
}

func TestScanDepositsAggregatesMultipleOutputsInOneTx(t *testing.T) {
	hash := recipientHashHex(4)
	mintCalls := 0
	var mintedAmount string

	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_listreceivedbyaddress_range": []map[string]interface{}{
			{"txid": "tx-multi", "height": 7, "outindex": 0, "memo": hash, "amount": 1000},
			{"txid": "tx-multi", "height": 7, "outindex": 1, "memo": "", "amount": 500},
		},
	})
	defer zcashSrv.Close()

	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/mint": func(body map[string]interface{}) interface{} {
			mintCalls++
			mintedAmount = fmt.Sprintf("%v", body["amount"])
			return map[string]interface{}{"note_id": "note-multi"}
		},
	})
	defer midenSrv.Close()

	relayer, intents := newZcashRelayerUnderTest(t, zcashSrv, midenSrv)
	ctx := context.Background()

	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("scanDeposits: %v", err)
	}

	intent, err := intents.GetByRecipientHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetByRecipientHash: %v", err)
	}
	if intent.Status != models.DepositIntentObserved || intent.AmountBase != "1500" {
		t.Fatalf("got status=%q amountBase=%q, want Observed/1500 (aggregated across both outputs)", intent.Status, intent.AmountBase)
	}

	if err := relayer.mintPending(ctx); err != nil {
		t.Fatalf("mintPending: %v", err)
	}
	if mintCalls != 1 {
		t.Fatalf("got %d mint calls for a single multi-output tx, want exactly 1", mintCalls)
	}
	if mintedAmount != "1500" {
		t.Fatalf("got minted amount=%q, want 1500 (sum of both outputs)", mintedAmount)
	}
}

func TestScanDepositsClaimsEachOutputOnce(t *testing.T) {
	hash := recipientHashHex(2)
	calls := 0

	zcashSrv := newFakeZcashServer(t, map[string]interface{}{
		"z_listreceivedbyaddress_range": []map[string]interface{}{
			{"txid": "tx-dup", "height": 5, "outindex": 0, "memo": hash, "amount": 2000},
		},
	})
	defer zcashSrv.Close()
	midenSrv := newFakeMidenServer(t, map[string]func(map[string]interface{}) interface{}{
		"/notes/mint": func(body map[string]interface{}) interface{} {
			calls++
			return map[string]interface{}{"note_id": "note-x"}
		},
	})
	defer midenSrv.Close()

	relayer, _ := newZcashRelayerUnderTest(t, zcashSrv, midenSrv)
	ctx := context.Background()

	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("first scanDeposits: %v", err)
	}
	if err := relayer.scanDeposits(ctx); err != nil {
		t.Fatalf("second scanDeposits: %v", err)
	}

	if err := relayer.mintPending(ctx); err != nil {
		t.Fatalf("mintPending: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d mint calls across two identical scans, want exactly 1", calls)
	}
}
