package loyalty

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultHistoryLimit caps history listings when the caller passes no limit.
const DefaultHistoryLimit = 50

// VisitService is the customer-facing side of the visit ledger.
// Transitions out of pending live in Workflow.
type VisitService struct {
	Store    TxStore
	Policy   AmountPolicy
	Balances *BalanceCalculator
	Events   Publisher
	Clock    Clock
}

// CreateVisit records a pending visit claim.
func (vs *VisitService) CreateVisit(ctx context.Context, userID UserID, amount decimal.Decimal, locationCode string) (*VisitClaim, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	location := NormalizeLocation(locationCode)
	if location == "" {
		return nil, &ValidationError{Field: "location_code", Message: "required"}
	}
	if err := vs.Policy.Validate(amount, location); err != nil {
		return nil, err
	}

	visit := VisitClaim{
		ID:           VisitID(newID()),
		UserID:       userID,
		Amount:       amount,
		LocationCode: location,
		Status:       StatusPending,
		CreatedAt:    vs.Clock.Now(),
	}

	var rev int64
	err := vs.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertVisit(ctx, visit); err != nil {
			return err
		}
		entry := newAudit(visit.CreatedAt, string(userID), AuditVisitCreated, KindVisit, string(visit.ID), userID, "", StatusPending)
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		var err error
		rev, err = s.BumpRevision(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, vs.Events, Change{Kind: KindVisit, ClaimID: string(visit.ID), UserID: userID, Status: StatusPending, Revision: rev})
	return &visit, nil
}

// GrantVisit records a visit collected in person by staff. It is created
// approved and the balance is recomputed in the same transaction.
func (vs *VisitService) GrantVisit(ctx context.Context, userID UserID, staffID, locationCode string) (*VisitClaim, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	if strings.TrimSpace(staffID) == "" {
		return nil, &ValidationError{Field: "staff_id", Message: "required"}
	}

	collector := staffID
	visit := VisitClaim{
		ID:           VisitID(newID()),
		UserID:       userID,
		Amount:       decimal.Zero,
		LocationCode: NormalizeLocation(locationCode),
		Status:       StatusApproved,
		CollectedBy:  &collector,
		CreatedAt:    vs.Clock.Now(),
	}

	var rev int64
	err := vs.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertVisit(ctx, visit); err != nil {
			return err
		}
		if _, err := vs.Balances.Recompute(ctx, s, userID); err != nil {
			return err
		}
		entry := newAudit(visit.CreatedAt, staffID, AuditVisitGranted, KindVisit, string(visit.ID), userID, "", StatusApproved)
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		var err error
		rev, err = s.BumpRevision(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, vs.Events, Change{Kind: KindVisit, ClaimID: string(visit.ID), UserID: userID, Status: StatusApproved, Revision: rev})
	return &visit, nil
}

// ListPending returns the staff queue, oldest first.
func (vs *VisitService) ListPending(ctx context.Context) ([]VisitClaim, error) {
	return vs.Store.ListVisits(ctx, VisitFilter{Statuses: []Status{StatusPending}})
}

// ListHistory returns processed visits, newest first.
func (vs *VisitService) ListHistory(ctx context.Context, limit int) ([]VisitClaim, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return vs.Store.ListVisits(ctx, VisitFilter{
		Statuses: []Status{StatusApproved, StatusRejected},
		Newest:   true,
		Limit:    limit,
	})
}

// ListForUser returns every visit of a user, newest first.
func (vs *VisitService) ListForUser(ctx context.Context, userID UserID) ([]VisitClaim, error) {
	return vs.Store.ListVisits(ctx, VisitFilter{UserID: userID, Newest: true})
}

// Get returns one visit.
func (vs *VisitService) Get(ctx context.Context, id VisitID) (*VisitClaim, error) {
	return vs.Store.GetVisit(ctx, id)
}
