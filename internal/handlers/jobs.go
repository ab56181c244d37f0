package handlers

import (
	"context"
	"database/sql"
	"time"

	"bizworks/api_bursar/pkg/config"
	"bizworks/api_bursar/pkg/logging"

	"bizworks/api_bursar/internal/ledger"
)

// JobManager handles background token maintenance jobs
type JobManager struct {
	db           *sql.DB
	logger       logging.Logger
	emailService *EmailService
	store        *ledger.Store
	stopCh       chan struct{}

	lastDailyReset string
}

// NewJobManager creates a new job manager
func NewJobManager(database *sql.DB, log logging.Logger, store *ledger.Store) *JobManager {
	return &JobManager{
		db:           database,
		logger:       log,
		emailService: NewEmailService(log),
		store:        store,
		stopCh:       make(chan struct{}),
		// Seed with today so a restart mid-day does not reset counters early.
		lastDailyReset: time.Now().UTC().Format("2006-01-02"),
	}
}

// Start begins all background jobs
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting token job manager")

	// Start daily counter reset job
	go jm.runDailyReset(ctx)

	// Start monthly usage reset job
	go jm.runMonthlyReset(ctx)

	// Start low balance notification sweep
	go jm.runLowBalanceSweep(ctx)
}

// Stop stops all background jobs
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping token job manager")
	close(jm.stopCh)
}

// runDailyReset zeroes daily usage counters once per UTC day
func (jm *JobManager) runDailyReset(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	jm.logger.Info("Starting daily token reset job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.resetDailyCounters(ctx)
		}
	}
}

func (jm *JobManager) resetDailyCounters(ctx context.Context) {
	today := time.Now().UTC().Format("2006-01-02")
	if today == jm.lastDailyReset {
		return
	}

	count, err := jm.store.ResetDaily(ctx)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to reset daily token counters")
		return
	}

	jm.lastDailyReset = today
	jm.logger.WithFields(logging.Fields{
		"accounts": count,
		"date":     today,
	}).Info("Daily token counters reset")
}

// runMonthlyReset runs the monthly usage reset on the first of each month
func (jm *JobManager) runMonthlyReset(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	jm.logger.Info("Starting monthly token reset job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.runMonthlyResetOnce(ctx)
		}
	}
}

func (jm *JobManager) runMonthlyResetOnce(ctx context.Context) {
	now := time.Now().UTC()

	// Only run on the first day of the month
	if now.Day() != 1 {
		return
	}

	count, err := jm.store.ResetMonthly(ctx)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to run monthly token reset")
		return
	}

	jm.logger.WithFields(logging.Fields{
		"accounts": count,
		"month":    now.Format("2006-01"),
	}).Info("Monthly token reset complete")
}

// runLowBalanceSweep notifies users who are running out of tokens
func (jm *JobManager) runLowBalanceSweep(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	jm.logger.Info("Starting low balance notification job")

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.notifyLowBalances(ctx)
		}
	}
}

func (jm *JobManager) notifyLowBalances(ctx context.Context) {
	if jm.emailService == nil || !jm.emailService.IsConfigured() {
		return
	}

	threshold := int64(config.GetEnvInt("LOW_BALANCE_THRESHOLD", 10))

	rows, err := jm.db.QueryContext(ctx, `
		SELECT user_id, email, GREATEST(total_tokens - used_tokens, 0) AS available
		FROM bursar.user_tokens
		WHERE email <> ''
		  AND GREATEST(total_tokens - used_tokens, 0) < $1
		  AND (low_balance_notified_at IS NULL OR low_balance_notified_at < NOW() - INTERVAL '7 days')
	`, threshold)

	if err != nil {
		jm.logger.WithError(err).Error("Failed to query low balance accounts")
		return
	}
	defer rows.Close()

	type lowBalanceAccount struct {
		userID    string
		email     string
		available int64
	}

	var accounts []lowBalanceAccount
	for rows.Next() {
		var acc lowBalanceAccount
		if err := rows.Scan(&acc.userID, &acc.email, &acc.available); err != nil {
			jm.logger.WithError(err).Error("Error scanning low balance account")
			continue
		}
		accounts = append(accounts, acc)
	}

	for _, acc := range accounts {
		if err := jm.emailService.SendLowBalanceEmail(acc.email, acc.available); err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{
				"user_id": acc.userID,
			}).Warn("Failed to send low balance email")
			continue
		}

		if _, err := jm.db.ExecContext(ctx, `
			UPDATE bursar.user_tokens SET low_balance_notified_at = NOW() WHERE user_id = $1
		`, acc.userID); err != nil {
			jm.logger.WithError(err).WithFields(logging.Fields{
				"user_id": acc.userID,
			}).Warn("Failed to stamp low balance notification")
		}
	}

	if len(accounts) > 0 {
		jm.logger.WithFields(logging.Fields{
			"notified": len(accounts),
		}).Info("Low balance sweep complete")
	}
}
