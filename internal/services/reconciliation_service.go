package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tourneypay/backend/internal/config"
	"github.com/tourneypay/backend/internal/models"
	"github.com/tourneypay/backend/internal/store"
)

// ReconciliationService sweeps abandoned pending transactions (e.g. a
// deposit intent the user never paid) to failed on a cron schedule. The
// ledger itself runs no timers; this job is its external reconciler.
type ReconciliationService struct {
	store *store.LedgerStore
	cfg   *config.LedgerConfig
	cron  *cron.Cron
}

func NewReconciliationService(ledgerStore *store.LedgerStore, cfg *config.LedgerConfig) *ReconciliationService {
	return &ReconciliationService{
		store: ledgerStore,
		cfg:   cfg,
		cron:  cron.New(),
	}
}

// Start schedules the sweep. The schedule and pending TTL come from config.
func (s *ReconciliationService) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() {
		swept, err := s.SweepStalePending(ctx)
		if err != nil {
			log.Printf("[SWEEP] sweep run failed: %v", err)
			return
		}
		if swept > 0 {
			log.Printf("[SWEEP] expired %d stale pending transactions", swept)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[SWEEP] reconciliation scheduled (%s, ttl %s)", s.cfg.SweepSchedule, s.cfg.PendingTTL)
	return nil
}

func (s *ReconciliationService) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// SweepStalePending fails every pending transaction older than the
// configured TTL. Withdrawals swept this way release their reservation.
// A version conflict on one record just leaves it for the next run.
func (s *ReconciliationService) SweepStalePending(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.PendingTTL)
	stale, err := s.store.StalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, record := range stale {
		balance, err := s.store.GetBalance(ctx, record.UserID)
		if err != nil {
			log.Printf("[SWEEP] balance read for %s failed: %v", record.UserID, err)
			continue
		}
		_, err = s.store.Finalize(ctx, record.ID, models.StatusFailed, balance.Version, "expired by reconciliation sweep")
		if err != nil {
			if errors.Is(err, models.ErrVersionConflict) || errors.Is(err, models.ErrAlreadyFinalized) || errors.Is(err, models.ErrAlreadyFinalizing) {
				continue
			}
			log.Printf("[SWEEP] finalize %s failed: %v", record.ID, err)
			continue
		}
		swept++
	}
	return swept, nil
}
