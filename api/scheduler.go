/*
scheduler.go - Scheduled balance reconciliation

PURPOSE:
  Periodically recomputes every cached balance from the ledger and rewrites
  the ones that drifted. The approval workflow keeps balances exact; this
  sweep repairs anything written outside it (manual SQL, restored backups).

DESIGN:
  - robfig/cron drives the schedule ("@every 10m" by default)
  - Runs never overlap: a tick that finds a sweep in progress is skipped
  - Every correction is audited as balance_corrected by the calculator

USAGE:
  scheduler := NewReconciliationScheduler(services.Balances, metrics, "@every 10m")
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual run)
  - loyalty/balance.go: BalanceCalculator.Reconcile
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// ReconciliationScheduler runs BalanceCalculator.Reconcile on a cron schedule.
type ReconciliationScheduler struct {
	Balances *loyalty.BalanceCalculator
	Metrics  *Metrics
	Schedule string

	cron    *cron.Cron
	entry   cron.EntryID
	running sync.Mutex
}

func NewReconciliationScheduler(balances *loyalty.BalanceCalculator, metrics *Metrics, schedule string) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Balances: balances,
		Metrics:  metrics,
		Schedule: schedule,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the sweep and starts the cron loop. Sweeps run with ctx
// so cancelling it aborts one in progress.
func (rs *ReconciliationScheduler) Start(ctx context.Context) error {
	id, err := rs.cron.AddFunc(rs.Schedule, func() {
		if _, err := rs.RunNow(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("[Scheduler] Reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", rs.Schedule, err)
	}
	rs.entry = id
	rs.cron.Start()

	log.WithField("schedule", rs.Schedule).Info("[Scheduler] Started")
	return nil
}

// Stop waits for a running sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	<-rs.cron.Stop().Done()
	log.Info("[Scheduler] Stopped")
}

// RunNow reconciles immediately. A sweep already in progress makes it a
// no-op returning an empty report.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (loyalty.ReconcileReport, error) {
	if !rs.running.TryLock() {
		log.Debug("[Scheduler] Sweep already running, skipped")
		return loyalty.ReconcileReport{}, nil
	}
	defer rs.running.Unlock()

	start := time.Now()
	report, err := rs.Balances.Reconcile(ctx)
	rs.Metrics.corrected(len(report.Corrected))

	entry := log.WithFields(log.Fields{
		"checked":   report.Checked,
		"corrected": len(report.Corrected),
		"duration":  time.Since(start).String(),
	})
	if len(report.Corrected) > 0 {
		entry.Warn("[Scheduler] Balances corrected")
	} else {
		entry.Debug("[Scheduler] Balances consistent")
	}
	return report, err
}

// NextRun returns when the next sweep will occur, zero before Start.
func (rs *ReconciliationScheduler) NextRun() time.Time {
	if rs.entry == 0 {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entry).Next
}
