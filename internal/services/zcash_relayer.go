// ZcashRelayer watches the shielded pool for deposits and mints the
// corresponding notes on Miden.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
)

// ZcashRelayer drives the Zcash-to-Miden leg: scan deposits, claim them
// idempotently, and mint a hash-locked note for each.
type ZcashRelayer struct {
	zcash *clients.ZcashClient
	miden *clients.MidenClient

	intents     repository.DepositIntentRepository
	cursors     repository.ScanCursorRepository
	idempotency repository.IdempotencyRepository

	poolAddr          string
	faucetID          string
	bridgeAccountID   string
	scanBatchBlocks   uint64
	maxMintAttempts   int
	fanOut            int
	dustThresholdBase uint64
	rpcTimeout        time.Duration

	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   *logrus.Logger
}

// ZcashRelayerConfig bundles the relayer's tunables so NewZcashRelayer
// doesn't grow an unbounded positional argument list as the bridge
// config gains fields.
type ZcashRelayerConfig struct {
	PoolAddr        string
	FaucetID        string
	BridgeAccountID string
	ScanBatchBlocks uint64
	MaxMintAttempts int
	FanOut          int
	// DustThresholdBase is the minimum zatoshi amount a deposit tx (its
	// bridge-addressed outputs summed) must carry to be minted; zero
	// disables the check, matching the original source's unconditional
	// mint. Below it, the intent is flipped straight to Unclaimable
	// rather than retried or refunded.
	DustThresholdBase uint64
	RPCTimeout        time.Duration
	Interval          time.Duration
}

func NewZcashRelayer(
	zcash *clients.ZcashClient,
	miden *clients.MidenClient,
	intents repository.DepositIntentRepository,
	cursors repository.ScanCursorRepository,
	idempotency repository.IdempotencyRepository,
	cfg ZcashRelayerConfig,
	logger *logrus.Logger,
) *ZcashRelayer {
	return &ZcashRelayer{
		zcash:             zcash,
		miden:             miden,
		intents:           intents,
		cursors:           cursors,
		idempotency:       idempotency,
		poolAddr:          cfg.PoolAddr,
		faucetID:          cfg.FaucetID,
		bridgeAccountID:   cfg.BridgeAccountID,
		scanBatchBlocks:   cfg.ScanBatchBlocks,
		maxMintAttempts:   cfg.MaxMintAttempts,
		fanOut:            cfg.FanOut,
		dustThresholdBase: cfg.DustThresholdBase,
		rpcTimeout:        cfg.RPCTimeout,
		interval:          cfg.Interval,
		stopChan:          make(chan struct{}),
		logger:            logger,
	}
}

// Start runs the scan-and-mint loop until Stop is called.
func (r *ZcashRelayer) Start() {
	r.logger.Info("🚀 Zcash relayer starting...")
	r.wg.Add(1)
	go r.run()
}

// Stop signals the loop to exit and blocks until it does.
func (r *ZcashRelayer) Stop() {
	r.logger.Info("🛑 Stopping Zcash relayer...")
	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("✅ Zcash relayer stopped")
}

func (r *ZcashRelayer) run() {
	defer r.wg.Done()

	r.tick()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopChan:
			return
		}
	}
}

func (r *ZcashRelayer) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.rpcTimeout)
	defer cancel()

	if err := r.scanDeposits(ctx); err != nil {
		r.logger.WithError(err).Error("❌ deposit scan failed")
		metrics.ZcashRelayerTickErrors.Inc()
	}

	if err := r.mintPending(ctx); err != nil {
		r.logger.WithError(err).Error("❌ mint pass failed")
		metrics.ZcashRelayerTickErrors.Inc()
	}
}

// scannedTx aggregates every bridge-addressed output belonging to one
// Zcash transaction. Spec policy sums amount_base across outputs in a
// tx rather than minting once per output, and claims are keyed by txid
// alone (§4.4 step 2b/2c), matching the original source's one-tuple-
// per-transaction processing.
type scannedTx struct {
	TxID        string
	BlockHeight uint64
	TxPos       uint32 // highest out index seen in the tx, for cursor advance
	Memo        string
	AmountBase  uint64
}

// groupOutputsByTx sums AmountBase across every output sharing a TxID,
// preserving scan order, and takes the first non-empty memo as the tx's
// deposit memo — the bridge-addressed outputs of one deposit share a
// single recipient_hash in practice.
func groupOutputsByTx(outputs []clients.ScannedOutput) []scannedTx {
	order := make([]string, 0, len(outputs))
	byTx := make(map[string]*scannedTx)
	for _, out := range outputs {
		tx, ok := byTx[out.TxID]
		if !ok {
			tx = &scannedTx{TxID: out.TxID, BlockHeight: out.BlockHeight}
			byTx[out.TxID] = tx
			order = append(order, out.TxID)
		}
		tx.AmountBase += out.AmountBase
		if out.TxPos > tx.TxPos {
			tx.TxPos = out.TxPos
		}
		if tx.Memo == "" && out.Memo != "" {
			tx.Memo = out.Memo
		}
	}

	grouped := make([]scannedTx, 0, len(order))
	for _, txid := range order {
		grouped = append(grouped, *byTx[txid])
	}
	return grouped
}

// scanDeposits advances the scan cursor over new shielded outputs,
// claims each deposit tx by its txid (I2), and back-creates or observes
// the matching deposit intent with the tx's aggregated amount.
func (r *ZcashRelayer) scanDeposits(ctx context.Context) error {
	cursor, err := r.cursors.Get(ctx, "zcash")
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	outputs, err := r.zcash.ScanFrom(ctx, r.poolAddr, cursor.LastScannedBlock, r.scanBatchBlocks)
	if err != nil {
		return fmt.Errorf("%w", err)
	}

	var lastBlock uint64 = cursor.LastScannedBlock
	var lastTxPos uint32 = cursor.LastScannedTxPos

	for _, tx := range groupOutputsByTx(outputs) {
		if err := r.idempotency.Claim(ctx, "zcash", tx.TxID, ""); err != nil {
			if err == bridge.ErrAlreadyClaimed {
				continue
			}
			return fmt.Errorf("claim deposit %s: %w", tx.TxID, err)
		}

		if err := r.handleScannedTx(ctx, tx); err != nil {
			r.logger.WithError(err).WithField("source_id", tx.TxID).Warn("⚠️ deposit not claimable")
		}

		if tx.BlockHeight > lastBlock || (tx.BlockHeight == lastBlock && tx.TxPos > lastTxPos) {
			lastBlock, lastTxPos = tx.BlockHeight, tx.TxPos
		}
	}

	if lastBlock > cursor.LastScannedBlock || (lastBlock == cursor.LastScannedBlock && lastTxPos > cursor.LastScannedTxPos) {
		if err := r.cursors.AdvanceCursor(ctx, "zcash", lastBlock, lastTxPos); err != nil && err != bridge.ErrCursorRegression {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}

func (r *ZcashRelayer) handleScannedTx(ctx context.Context, tx scannedTx) error {
	recipientHash, err := hex.DecodeString(strings.TrimPrefix(tx.Memo, "0x"))
	if err != nil || len(recipientHash) != 32 {
		return r.markUnclaimable(ctx, tx)
	}
	recipientHashHex := hex.EncodeToString(recipientHash)

	intent, err := r.intents.GetByRecipientHash(ctx, recipientHashHex)
	if err != nil {
		// No facade-issued intent exists; back-create one so this deposit
		// is still tracked even though the depositor's account id is
		// unknown until they later claim it out-of-band.
		intent = models.NewDepositIntent("", recipientHashHex)
		if err := r.intents.UpsertIntent(ctx, intent); err != nil {
			return fmt.Errorf("back-create intent: %w", err)
		}
		intent, err = r.intents.GetByRecipientHash(ctx, recipientHashHex)
		if err != nil {
			return fmt.Errorf("reload back-created intent: %w", err)
		}
	}

	if r.dustThresholdBase > 0 && tx.AmountBase < r.dustThresholdBase {
		return r.intents.MarkUnclaimable(ctx, intent.ID)
	}

	return r.intents.MarkObserved(ctx, intent.ID, tx.TxID, fmt.Sprintf("%d", tx.AmountBase))
}

// markUnclaimable back-creates (or reuses) a row for a tx whose memo
// didn't decode to a 32-byte recipient hash and flips it straight to
// Unclaimable, keyed off a hash of the tx's own identity since there is
// no recipient hash to key it by. Cursor advance is never blocked on
// this — the policy-violation table in errors.go says log and move on,
// not retry.
func (r *ZcashRelayer) markUnclaimable(ctx context.Context, tx scannedTx) error {
	sum := sha256.Sum256([]byte(fmt.Sprintf("unclaimable:%s", tx.TxID)))
	fallbackHash := hex.EncodeToString(sum[:])

	intent := models.NewDepositIntent("", fallbackHash)
	if err := r.intents.UpsertIntent(ctx, intent); err != nil {
		return fmt.Errorf("back-create unclaimable intent: %w", err)
	}
	stored, err := r.intents.GetByRecipientHash(ctx, fallbackHash)
	if err != nil {
		return fmt.Errorf("reload unclaimable intent: %w", err)
	}
	if err := r.intents.MarkUnclaimable(ctx, stored.ID); err != nil {
		return fmt.Errorf("mark unclaimable: %w", err)
	}
	return bridge.ErrMalformedMemo
}

// mintPending mints notes for every Observed intent whose next_attempt_at
// has passed (a fresh intent's zero value always has), so a failed mint
// waits out its backoff; it fans out up to r.fanOut mints at once.
func (r *ZcashRelayer) mintPending(ctx context.Context) error {
	observed, err := r.intents.FindByStatus(ctx, models.DepositIntentObserved, -1)
	if err != nil {
		return fmt.Errorf("find observed intents: %w", err)
	}
	due, err := r.intents.FindDueForMintRetry(ctx, -1)
	if err != nil {
		return fmt.Errorf("find retry-due intents: %w", err)
	}

	pending := dedupeIntents(observed, due)

	now := time.Now()
	sem := make(chan struct{}, r.fanOut)
	var wg sync.WaitGroup
	for _, intent := range pending {
		intent := intent
		if intent.NextAttemptAt.After(now) {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.mintOne(intent)
		}()
	}
	wg.Wait()
	return nil
}

func dedupeIntents(lists ...[]*models.DepositIntent) []*models.DepositIntent {
	seen := make(map[string]struct{})
	var out []*models.DepositIntent
	for _, list := range lists {
		for _, intent := range list {
			if _, ok := seen[intent.ID]; ok {
				continue
			}
			seen[intent.ID] = struct{}{}
			out = append(out, intent)
		}
	}
	return out
}

// mintOne mints a single intent's note, using a context independent of
// the tick's deadline so a slow-but-successful mint is never marked as
// failed purely because the outer scan timed out first. An intent that
// already records a mint note id is not minted again; only its status is
// brought up to Minted.
func (r *ZcashRelayer) mintOne(intent *models.DepositIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.rpcTimeout)
	defer cancel()

	if intent.MintNoteID != "" {
		if err := r.intents.MarkMinted(ctx, intent.ID, intent.MintNoteID); err != nil && err != bridge.ErrAlreadyClaimed {
			r.logger.WithError(err).WithField("intent_id", intent.ID).Error("❌ failed to persist mint result")
		}
		return
	}

	noteID, err := r.miden.MintP2IDH(ctx, clients.MintP2IDHRequest{
		FaucetID:      r.faucetID,
		BridgeAccount: r.bridgeAccountID,
		RecipientHash: intent.RecipientHash,
		AmountBase:    parseUint64(intent.AmountBase),
		Tag:           0,
	})
	if err != nil {
		r.logger.WithError(err).WithField("intent_id", intent.ID).Warn("⚠️ mint attempt failed")
		backoff := time.Duration(math.Pow(2, float64(intent.MintAttempts))) * time.Second
		if bumpErr := r.intents.BumpMintAttempt(ctx, intent.ID, time.Now().Add(backoff), r.maxMintAttempts); bumpErr != nil {
			r.logger.WithError(bumpErr).Error("❌ failed to record mint attempt")
		}
		metrics.DepositMintFailures.Inc()
		return
	}

	if err := r.intents.MarkMinted(ctx, intent.ID, noteID); err != nil && err != bridge.ErrAlreadyClaimed {
		r.logger.WithError(err).WithField("intent_id", intent.ID).Error("❌ failed to persist mint result")
		return
	}
	metrics.DepositMintSuccesses.Inc()
}

func parseUint64(s string) uint64 {
	var v uint64
	fmt.Sscanf(s, "%d", &v)
	return v
}
