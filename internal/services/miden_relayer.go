// MidenRelayer watches the bridge account's vault for exit notes and
// pays the corresponding amount out on Zcash.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bridge-backend/internal/bridge"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
)

// MidenRelayer drives the Miden-to-Zcash leg: consume exit notes
// idempotently, then pay out shielded Zcash, retrying any withdrawal
// that was consumed but never confirmed paid.
type MidenRelayer struct {
	miden *clients.MidenClient
	zcash *clients.ZcashClient

	withdrawals repository.WithdrawalRepository
	idempotency repository.IdempotencyRepository

	poolAddr        string
	bridgeAccountID string
	exitTag         uint16
	fanOut          int
	rpcTimeout      time.Duration

	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   *logrus.Logger
}

type MidenRelayerConfig struct {
	PoolAddr        string
	BridgeAccountID string
	ExitTag         uint16
	FanOut          int
	RPCTimeout      time.Duration
	Interval        time.Duration
}

func NewMidenRelayer(
	miden *clients.MidenClient,
	zcash *clients.ZcashClient,
	withdrawals repository.WithdrawalRepository,
	idempotency repository.IdempotencyRepository,
	cfg MidenRelayerConfig,
	logger *logrus.Logger,
) *MidenRelayer {
	return &MidenRelayer{
		miden:           miden,
		zcash:           zcash,
		withdrawals:     withdrawals,
		idempotency:     idempotency,
		poolAddr:        cfg.PoolAddr,
		bridgeAccountID: cfg.BridgeAccountID,
		exitTag:         cfg.ExitTag,
		fanOut:          cfg.FanOut,
		rpcTimeout:      cfg.RPCTimeout,
		interval:        cfg.Interval,
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

func (r *MidenRelayer) Start() {
	r.logger.Info("🚀 Miden relayer starting...")
	r.wg.Add(1)
	go r.run()
}

func (r *MidenRelayer) Stop() {
	r.logger.Info("🛑 Stopping Miden relayer...")
	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("✅ Miden relayer stopped")
}

func (r *MidenRelayer) run() {
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

func (r *MidenRelayer) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.rpcTimeout)
	defer cancel()

	if _, err := r.miden.Sync(ctx); err != nil {
		r.logger.WithError(err).Error("❌ miden sync failed")
		metrics.MidenRelayerTickErrors.Inc()
		return
	}

	if err := r.consumeExitNotes(ctx); err != nil {
		r.logger.WithError(err).Error("❌ exit note consumption failed")
		metrics.MidenRelayerTickErrors.Inc()
	}

	r.payoutPending()
}

// consumeExitNotes claims each consumable exit note exactly once (I5)
// and records a Withdrawal row for it. The withdrawal is claimed
// (Open -> Consumed) before miden.ConsumeNote is called, matching the
// claim-then-consume ordering in spec.md §4.5; if ConsumeNote fails the
// claim is released (compensating write) so a later tick retries the
// same note instead of orphaning it. The idempotency claim on the note
// id is only taken once consumption actually succeeds, since it has no
// release path of its own.
func (r *MidenRelayer) consumeExitNotes(ctx context.Context) error {
	notes, err := r.miden.ListConsumableExitNotes(ctx, r.bridgeAccountID, r.exitTag)
	if err != nil {
		return fmt.Errorf("list consumable exit notes: %w", err)
	}

	for _, note := range notes {
		withdrawal, err := r.withdrawals.GetBySourceNoteID(ctx, note.NoteID)
		if err != nil {
			withdrawal = models.NewWithdrawal("", note.ZcashAddress, fmt.Sprintf("%d", note.AmountBase), note.NoteID)
			if err := r.withdrawals.CreateWithdrawal(ctx, withdrawal); err != nil {
				r.logger.WithError(err).WithField("note_id", note.NoteID).Error("❌ failed to create withdrawal row")
				continue
			}
			if withdrawal, err = r.withdrawals.GetBySourceNoteID(ctx, note.NoteID); err != nil {
				r.logger.WithError(err).WithField("note_id", note.NoteID).Error("❌ failed to reload withdrawal row")
				continue
			}
		}

		if withdrawal.Status != models.WithdrawalOpen {
			continue
		}

		if err := r.withdrawals.ClaimWithdrawal(ctx, withdrawal.ID); err != nil {
			if err == bridge.ErrAlreadyClaimed {
				continue
			}
			return fmt.Errorf("claim withdrawal %s: %w", withdrawal.ID, err)
		}

		if err := r.miden.ConsumeNote(ctx, r.bridgeAccountID, note.NoteID); err != nil {
			r.logger.WithError(err).WithField("note_id", note.NoteID).Warn("⚠️ failed to consume exit note, releasing for retry")
			if relErr := r.withdrawals.ReleaseWithdrawal(ctx, withdrawal.ID); relErr != nil {
				r.logger.WithError(relErr).WithField("withdrawal_id", withdrawal.ID).Error("❌ failed to release withdrawal after consume failure")
			}
			if bumpErr := r.withdrawals.BumpConsumeAttempt(ctx, withdrawal.ID); bumpErr != nil {
				r.logger.WithError(bumpErr).WithField("withdrawal_id", withdrawal.ID).Error("❌ failed to bump consume attempt count")
			}
			continue
		}

		if err := r.idempotency.Claim(ctx, "miden", note.NoteID, "consumed"); err != nil && err != bridge.ErrAlreadyClaimed {
			r.logger.WithError(err).WithField("note_id", note.NoteID).Error("❌ failed to record exit note claim")
		}
	}
	return nil
}

// payoutPending pays every Consumed-but-unpaid withdrawal, including
// ones stuck from a prior crash between consume and payout, fanning out
// up to r.fanOut payouts at once.
func (r *MidenRelayer) payoutPending() {
	ctx, cancel := context.WithTimeout(context.Background(), r.rpcTimeout)
	defer cancel()

	stuck, err := r.withdrawals.FindStuckConsumed(ctx, -1)
	if err != nil {
		r.logger.WithError(err).Error("❌ failed to list withdrawals due for payout")
		return
	}

	sem := make(chan struct{}, r.fanOut)
	var wg sync.WaitGroup
	for _, w := range stuck {
		w := w
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.payoutOne(w)
		}()
	}
	wg.Wait()
}

// payoutOne sends a withdrawal's payout on an independent context so a
// slow-but-successful send is never abandoned because the caller's
// deadline expired first; mark_paid runs after the send completes, not
// under the send's own context.
func (r *MidenRelayer) payoutOne(w *models.Withdrawal) {
	ctx, cancel := context.WithTimeout(context.Background(), r.rpcTimeout)
	defer cancel()

	amountBase := parseUint64(w.AmountBase)
	txID, err := r.zcash.SendShielded(ctx, r.poolAddr, w.DestinationZcashAddress, amountBase)
	if err != nil {
		r.logger.WithError(err).WithField("withdrawal_id", w.ID).Warn("⚠️ payout send failed")
		metrics.WithdrawalPayoutFailures.Inc()
		if err == bridge.ErrInsufficientFunds {
			// Compensate: the note is already consumed but we could not
			// pay. Leave status Consumed so the next pass retries the
			// send instead of treating this as a permanent failure.
			return
		}
		return
	}

	markCtx, markCancel := context.WithTimeout(context.Background(), r.rpcTimeout)
	defer markCancel()
	if err := r.withdrawals.MarkPaid(markCtx, w.ID, txID); err != nil && err != bridge.ErrAlreadyClaimed {
		r.logger.WithError(err).WithField("withdrawal_id", w.ID).Error("❌ failed to persist payout result")
		return
	}
	metrics.WithdrawalPayoutSuccesses.Inc()
}
