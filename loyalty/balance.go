/*
balance.go - Stamp balance derivation

PURPOSE:
  The cached currentStamps on a user's profile is derived data. This file
  is the single place that derives it:

    currentStamps = count(approved visits) - Σ requiredStamps(approved redemptions)

  Nobody increments or decrements the cached value. Every writer goes
  through Recompute, so ledger truth and cache cannot drift apart.

WHEN IT RUNS:
  - Inside the transaction of every transition to or from approved
    (workflow.go), so the cache commits together with the ledger change
  - Periodically through Reconcile (api/scheduler.go) as a safety net

IDEMPOTENCE:
  Recompute twice with no ledger change in between writes the same number.

SEE ALSO:
  - workflow.go: callers inside transitions
  - store.go:    CountVisits, SumApprovedRedemptionCost, SetBalance
*/
package loyalty

import (
	"context"
	"fmt"
)

// Compute is the balance formula. Pure.
func Compute(approvedVisits, approvedRedemptionCost int) int {
	return approvedVisits - approvedRedemptionCost
}

// BalanceCalculator owns the cached balance.
type BalanceCalculator struct {
	Store TxStore
	Clock Clock
}

// Recompute derives the balance of userID from s and persists it.
// Pass the transactional Store when called from inside WithTx.
//
// The balance lock is taken before counting so two transactions touching
// the same user cannot both count before either commits.
func (b *BalanceCalculator) Recompute(ctx context.Context, s Store, userID UserID) (int, error) {
	if err := s.LockBalance(ctx, userID); err != nil {
		return 0, err
	}
	visits, err := s.CountVisits(ctx, userID, StatusApproved)
	if err != nil {
		return 0, fmt.Errorf("count approved visits: %w", err)
	}
	cost, err := s.SumApprovedRedemptionCost(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum approved redemptions: %w", err)
	}

	stamps := Compute(visits, cost)
	if err := s.SetBalance(ctx, UserBalance{
		UserID:        userID,
		CurrentStamps: stamps,
		UpdatedAt:     b.Clock.Now(),
	}); err != nil {
		return 0, fmt.Errorf("persist balance: %w", err)
	}
	return stamps, nil
}

// RecomputeBalance runs Recompute in its own transaction.
func (b *BalanceCalculator) RecomputeBalance(ctx context.Context, userID UserID) (int, error) {
	var stamps int
	err := b.Store.WithTx(ctx, func(s Store) error {
		n, err := b.Recompute(ctx, s, userID)
		stamps = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return stamps, nil
}

// Balance returns the cached balance, the only balance surfaced to callers.
func (b *BalanceCalculator) Balance(ctx context.Context, userID UserID) (UserBalance, error) {
	if userID == "" {
		return UserBalance{}, &ValidationError{Field: "user_id", Message: "required"}
	}
	return b.Store.GetBalance(ctx, userID)
}

// =============================================================================
// RECONCILIATION - Scheduled safety net
// =============================================================================

// Drift records a cached balance that disagreed with the ledger.
type Drift struct {
	UserID   UserID
	Cached   int
	Computed int
}

// ReconcileReport summarises one Reconcile run.
type ReconcileReport struct {
	Checked   int
	Corrected []Drift
	Revision  int64 // revision after the run, 0 when nothing changed
}

// Reconcile recomputes every known user. A corrected balance is audited
// and bumps the ledger revision so live views refresh.
func (b *BalanceCalculator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	users, err := b.Store.ListUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var (
			drift *Drift
			rev   int64
		)
		err := b.Store.WithTx(ctx, func(s Store) error {
			drift, rev = nil, 0
			if err := s.LockBalance(ctx, userID); err != nil {
				return err
			}
			cached, err := s.GetBalance(ctx, userID)
			if err != nil {
				return err
			}
			computed, err := b.Recompute(ctx, s, userID)
			if err != nil {
				return err
			}
			if cached.CurrentStamps == computed {
				return nil
			}

			entry := newAudit(b.Clock.Now(), "system", AuditBalanceCorrected, "", "", userID, "", "")
			entry.Reason = fmt.Sprintf("cached %d, ledger %d", cached.CurrentStamps, computed)
			if err := s.AppendAudit(ctx, entry); err != nil {
				return err
			}
			if rev, err = s.BumpRevision(ctx); err != nil {
				return err
			}
			drift = &Drift{UserID: userID, Cached: cached.CurrentStamps, Computed: computed}
			return nil
		})
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", userID, err)
		}
		// Only committed corrections are reported.
		if drift != nil {
			report.Corrected = append(report.Corrected, *drift)
			report.Revision = rev
		}
		report.Checked++
	}
	return report, nil
}
