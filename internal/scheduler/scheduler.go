// Package scheduler runs the periodic jobs: telephony usage refresh and the
// monthly billing rollup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/usage"
)

const (
	// usageRefreshSpec refreshes usage rollups every six hours.
	usageRefreshSpec = "0 */6 * * *"
	// monthlyRollupSpec closes the billing month on the 1st at 02:00.
	monthlyRollupSpec = "0 2 1 * *"

	jobTimeout = 10 * time.Minute
)

// Scheduler owns the cron runner.
type Scheduler struct {
	db       *gorm.DB
	recorder *usage.Recorder
	rates    config.BillingRates
	cron     *cron.Cron
}

// New constructs a Scheduler.
func New(db *gorm.DB, recorder *usage.Recorder, rates config.BillingRates) *Scheduler {
	return &Scheduler{
		db:       db,
		recorder: recorder,
		rates:    rates,
		cron:     cron.New(),
	}
}

// Start registers the jobs and launches the runner.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(usageRefreshSpec, s.runUsageRefresh); err != nil {
		return fmt.Errorf("scheduler: register usage refresh: %w", err)
	}
	if _, err := s.cron.AddFunc(monthlyRollupSpec, s.runMonthlyRollup); err != nil {
		return fmt.Errorf("scheduler: register monthly rollup: %w", err)
	}
	s.cron.Start()
	log.Info("scheduler started")
	return nil
}

// Stop halts the runner and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("scheduler stopped")
}

func (s *Scheduler) runUsageRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.recorder.RefreshAll(ctx, s.rates); err != nil {
		log.WithError(err).Error("scheduler: usage refresh failed")
		return
	}
	log.Debug("scheduler: usage refresh complete")
}

// runMonthlyRollup freezes every tracked user's running bill. Usage is
// refreshed first so the frozen amount covers the full month.
func (s *Scheduler) runMonthlyRollup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.recorder.RefreshAll(ctx, s.rates); err != nil {
		log.WithError(err).Error("scheduler: pre-rollup refresh failed")
	}

	var userIDs []uint64
	if err := s.db.WithContext(ctx).
		Model(&models.SMSUsage{}).
		Pluck("user_id", &userIDs).Error; err != nil {
		log.WithError(err).Error("scheduler: list rollup users failed")
		return
	}

	for _, id := range userIDs {
		if err := s.recorder.CloseBillingMonth(ctx, id); err != nil {
			log.WithError(err).WithField("user", id).Error("scheduler: close month failed")
		}
	}
	log.WithField("users", len(userIDs)).Info("scheduler: monthly rollup complete")
}
