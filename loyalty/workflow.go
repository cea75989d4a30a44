/*
workflow.go - Approval state machine for visits and redemptions

PURPOSE:
  Staff move ledger entries out of pending. Several staff devices work the
  same queue, so every transition is a conditional update: the store
  applies it only if the row is still in the expected status.

TRANSITION FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  read entry ──▶ status == pending? ──no──▶ AlreadyProcessedError │
  │                        │                                         │
  │                       yes                                        │
  │                        ▼                                         │
  │  UPDATE ... WHERE id = ? AND status = 'pending'                  │
  │                        │                                         │
  │           0 rows ──────┴────── 1 row                             │
  │             │                    │                               │
  │   AlreadyProcessedError   recompute balance, audit,              │
  │                           bump revision, commit, publish         │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

REDEMPTION APPROVAL:
  The balance can change between request and approval (another reward
  approved, a visit overridden). ApproveRedemption applies the transition
  under the user's balance lock and recomputes from the ledger. A negative
  result rolls everything back with InsufficientBalanceError and the entry
  stays pending.

OVERRIDES:
  OverrideVisit is the single sanctioned way out of a terminal state:
  approved <-> rejected, admin only, reason required, audited, balance
  recomputed. It refuses to push a balance below zero.

FAILURE SEMANTICS:
  - AlreadyProcessedError: lost race. Caller refreshes, nothing to retry.
  - StoreError: reported as is, never retried here.

SEE ALSO:
  - balance.go: Recompute
  - store.go:   TransitionVisit, TransitionRedemption, LockBalance
*/
package loyalty

import (
	"context"
	"strings"
)

// Workflow applies staff decisions to pending entries.
type Workflow struct {
	Store    TxStore
	Balances *BalanceCalculator
	Events   Publisher
	Clock    Clock
}

// =============================================================================
// VISITS
// =============================================================================

// ApproveVisit moves a pending visit to approved and recomputes the balance.
func (w *Workflow) ApproveVisit(ctx context.Context, id VisitID, staffID string) (*VisitClaim, error) {
	return w.decideVisit(ctx, id, staffID, StatusApproved, AuditVisitApproved)
}

// RejectVisit moves a pending visit to rejected. The balance is untouched.
func (w *Workflow) RejectVisit(ctx context.Context, id VisitID, staffID string) (*VisitClaim, error) {
	return w.decideVisit(ctx, id, staffID, StatusRejected, AuditVisitRejected)
}

func (w *Workflow) decideVisit(ctx context.Context, id VisitID, staffID string, to Status, action AuditAction) (*VisitClaim, error) {
	if err := requireActor("staff_id", staffID); err != nil {
		return nil, err
	}

	var (
		out *VisitClaim
		rev int64
	)
	err := w.Store.WithTx(ctx, func(s Store) error {
		visit, err := s.GetVisit(ctx, id)
		if err != nil {
			return err
		}
		if visit.Status != StatusPending {
			return &AlreadyProcessedError{Kind: KindVisit, ID: string(id), Status: visit.Status}
		}

		won, err := s.TransitionVisit(ctx, id, StatusPending, to, staffID)
		if err != nil {
			return err
		}
		if !won {
			return w.lostVisit(ctx, s, id)
		}
		visit.Status = to
		visit.CollectedBy = &staffID

		if to == StatusApproved {
			if _, err := w.Balances.Recompute(ctx, s, visit.UserID); err != nil {
				return err
			}
		}

		entry := newAudit(w.Clock.Now(), staffID, action, KindVisit, string(id), visit.UserID, StatusPending, to)
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		rev, err = s.BumpRevision(ctx)
		out = visit
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, w.Events, Change{Kind: KindVisit, ClaimID: string(id), UserID: out.UserID, Status: to, Revision: rev})
	return out, nil
}

// OverrideVisit flips a processed visit between approved and rejected.
func (w *Workflow) OverrideVisit(ctx context.Context, id VisitID, adminID string, to Status, reason string) (*VisitClaim, error) {
	if err := requireActor("admin_id", adminID); err != nil {
		return nil, err
	}
	if !to.IsTerminal() {
		return nil, &ValidationError{Field: "status", Message: "override target must be approved or rejected"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required for overrides"}
	}

	var (
		out *VisitClaim
		rev int64
	)
	err := w.Store.WithTx(ctx, func(s Store) error {
		visit, err := s.GetVisit(ctx, id)
		if err != nil {
			return err
		}
		from := visit.Status
		if from == StatusPending {
			return &ValidationError{Field: "status", Message: "pending visits are approved or rejected, not overridden"}
		}
		if from == to {
			return &AlreadyProcessedError{Kind: KindVisit, ID: string(id), Status: from}
		}

		if err := s.LockBalance(ctx, visit.UserID); err != nil {
			return err
		}
		won, err := s.TransitionVisit(ctx, id, from, to, adminID)
		if err != nil {
			return err
		}
		if !won {
			return w.lostVisit(ctx, s, id)
		}
		visit.Status = to
		visit.CollectedBy = &adminID

		stamps, err := w.Balances.Recompute(ctx, s, visit.UserID)
		if err != nil {
			return err
		}
		if stamps < 0 {
			// The stamp was already spent on a reward.
			return &InsufficientBalanceError{UserID: visit.UserID, Available: stamps + 1, Required: 1}
		}

		entry := newAudit(w.Clock.Now(), adminID, AuditVisitOverridden, KindVisit, string(id), visit.UserID, from, to)
		entry.Reason = reason
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		rev, err = s.BumpRevision(ctx)
		out = visit
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, w.Events, Change{Kind: KindVisit, ClaimID: string(id), UserID: out.UserID, Status: to, Revision: rev})
	return out, nil
}

func (w *Workflow) lostVisit(ctx context.Context, s Store, id VisitID) error {
	lost := &AlreadyProcessedError{Kind: KindVisit, ID: string(id)}
	if current, err := s.GetVisit(ctx, id); err == nil {
		lost.Status = current.Status
	}
	return lost
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// ApproveRedemption consumes the reward's stamps.
func (w *Workflow) ApproveRedemption(ctx context.Context, id RedemptionID, staffID string) (*RedemptionClaim, error) {
	if err := requireActor("staff_id", staffID); err != nil {
		return nil, err
	}

	var (
		out *RedemptionClaim
		rev int64
	)
	err := w.Store.WithTx(ctx, func(s Store) error {
		claim, err := s.GetRedemption(ctx, id)
		if err != nil {
			return err
		}
		if claim.Status != StatusPending {
			return &AlreadyProcessedError{Kind: KindRedemption, ID: string(id), Status: claim.Status}
		}
		reward, err := s.GetReward(ctx, claim.RewardID)
		if err != nil {
			return err
		}

		if err := s.LockBalance(ctx, claim.UserID); err != nil {
			return err
		}

		now := w.Clock.Now()
		won, err := s.TransitionRedemption(ctx, id, StatusPending, StatusApproved, staffID, &now)
		if err != nil {
			return err
		}
		if !won {
			return w.lostRedemption(ctx, s, id)
		}
		claim.Status = StatusApproved
		claim.ProcessedBy = &staffID
		claim.RedeemedAt = &now

		// A negative result means the balance before approval did not
		// cover the reward. Returning rolls the transition back.
		remaining, err := w.Balances.Recompute(ctx, s, claim.UserID)
		if err != nil {
			return err
		}
		if remaining < 0 {
			return &InsufficientBalanceError{
				UserID:    claim.UserID,
				RewardID:  reward.ID,
				Available: remaining + reward.RequiredStamps,
				Required:  reward.RequiredStamps,
			}
		}

		entry := newAudit(now, staffID, AuditRedemptionApproved, KindRedemption, string(id), claim.UserID, StatusPending, StatusApproved)
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		rev, err = s.BumpRevision(ctx)
		out = claim
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, w.Events, Change{Kind: KindRedemption, ClaimID: string(id), UserID: out.UserID, Status: StatusApproved, Revision: rev})
	return out, nil
}

// RejectRedemption closes the claim without consuming stamps.
func (w *Workflow) RejectRedemption(ctx context.Context, id RedemptionID, staffID string) (*RedemptionClaim, error) {
	if err := requireActor("staff_id", staffID); err != nil {
		return nil, err
	}

	var (
		out *RedemptionClaim
		rev int64
	)
	err := w.Store.WithTx(ctx, func(s Store) error {
		claim, err := s.GetRedemption(ctx, id)
		if err != nil {
			return err
		}
		if claim.Status != StatusPending {
			return &AlreadyProcessedError{Kind: KindRedemption, ID: string(id), Status: claim.Status}
		}

		won, err := s.TransitionRedemption(ctx, id, StatusPending, StatusRejected, staffID, nil)
		if err != nil {
			return err
		}
		if !won {
			return w.lostRedemption(ctx, s, id)
		}
		claim.Status = StatusRejected
		claim.ProcessedBy = &staffID

		entry := newAudit(w.Clock.Now(), staffID, AuditRedemptionRejected, KindRedemption, string(id), claim.UserID, StatusPending, StatusRejected)
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		rev, err = s.BumpRevision(ctx)
		out = claim
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, w.Events, Change{Kind: KindRedemption, ClaimID: string(id), UserID: out.UserID, Status: StatusRejected, Revision: rev})
	return out, nil
}

func (w *Workflow) lostRedemption(ctx context.Context, s Store, id RedemptionID) error {
	lost := &AlreadyProcessedError{Kind: KindRedemption, ID: string(id)}
	if current, err := s.GetRedemption(ctx, id); err == nil {
		lost.Status = current.Status
	}
	return lost
}

func requireActor(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: field, Message: "required"}
	}
	return nil
}
