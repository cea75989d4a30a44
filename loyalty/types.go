/*
Package loyalty provides the stamp ledger and approval engine.

PURPOSE:
  Customers claim stamps for purchase visits and exchange accumulated
  stamps for catalog rewards. Staff approve or reject both kinds of claim.
  This package owns the data model, the approval state machine and the
  balance calculation. HTTP, auth and presentation live elsewhere.

KEY CONCEPTS IN THIS FILE (types.go):
  - VisitClaim:       one purchase visit ("stamp"), pending until staff act on it
  - RedemptionClaim:  a request to exchange stamps for a reward
  - RewardDefinition: a catalog entry with its cost in stamps
  - UserBalance:      the cached, derived stamp count of a user
  - Status:           pending -> approved | rejected

LIFECYCLE:
  ┌─────────┐  approve  ┌──────────┐
  │ pending │ ────────▶ │ approved │
  └─────────┘           └──────────┘
       │      reject    ┌──────────┐
       └──────────────▶ │ rejected │
                        └──────────┘

  approved and rejected are terminal. The only way out of a terminal
  state is an audited admin override on visits (see workflow.go).

SEE ALSO:
  - store.go:    persistence interface
  - workflow.go: transitions
  - balance.go:  balance derivation
*/
package loyalty

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	UserID       string
	VisitID      string
	RedemptionID string
	RewardID     string
)

func newID() string {
	return uuid.NewString()
}

// =============================================================================
// STATUS - Claim lifecycle
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether s can no longer be changed by approve/reject.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ClaimKind names the collection a claim belongs to.
type ClaimKind string

const (
	KindVisit      ClaimKind = "visit"
	KindRedemption ClaimKind = "redemption"
	KindReward     ClaimKind = "reward"
)

// =============================================================================
// CATALOG
// =============================================================================

// RewardDefinition is a catalog entry. Owned by admin tooling.
type RewardDefinition struct {
	ID             RewardID
	Name           string
	Description    string
	RequiredStamps int
	Icon           string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// VisitClaim is a customer's claim of a qualifying purchase.
// Only Status and CollectedBy ever change after creation.
type VisitClaim struct {
	ID           VisitID
	UserID       UserID
	Amount       decimal.Decimal // purchase value, informational only
	LocationCode string
	Status       Status
	CollectedBy  *string // staff/admin who moved it out of pending
	CreatedAt    time.Time
}

// RedemptionClaim is a customer's request to exchange stamps for a reward.
type RedemptionClaim struct {
	ID          RedemptionID
	UserID      UserID
	RewardID    RewardID
	Status      Status
	ProcessedBy *string
	CreatedAt   time.Time
	RedeemedAt  *time.Time // set only on approval
}

// UserBalance is the cached stamp count on the user's profile.
//
// INVARIANT:
//
//	CurrentStamps == approved visits - Σ requiredStamps(approved redemptions)
//
// Only BalanceCalculator writes it.
type UserBalance struct {
	UserID        UserID
	CurrentStamps int
	UpdatedAt     time.Time
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. A nil Clock uses time.Now in UTC.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}
