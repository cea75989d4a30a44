/*
store.go - Persistence interface for the stamp ledger

PURPOSE:
  Defines the boundary between the engine and the relational store.
  Implementations: SQLite, PostgreSQL and an in-memory store for tests.

KEY INTERFACES:
  Store:   CRUD + conditional updates over rewards, visits, redemptions,
           balances, the audit log and the ledger revision counter
  TxStore: Store plus WithTx for atomic multi-step transitions

CONDITIONAL UPDATES:
  TransitionVisit / TransitionRedemption are the only concurrency
  primitive the engine needs:

    UPDATE visits SET status = ?, collected_by = ?
    WHERE id = ? AND status = ?

  The affected-row count (0 or 1) decides which concurrent caller won.
  Implementations MUST NOT read-then-write here.

BALANCE LOCK:
  LockBalance serializes balance checks for one user inside a transaction
  (SELECT ... FOR UPDATE on Postgres). Stores that already serialize
  writers may implement it as a no-op.

ERRORS:
  Get* return *NotFoundError for missing rows. Driver failures come back
  wrapped in *StoreError.

SEE ALSO:
  - loyalty/store/memory.go: in-memory implementation
  - store/sqlite/sqlite.go:  SQLite implementation
  - store/postgres/postgres.go: PostgreSQL implementation
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// VisitFilter narrows ListVisits. Zero values mean "no constraint".
type VisitFilter struct {
	UserID   UserID
	Statuses []Status
	Since    time.Time // createdAt >= Since
	Newest   bool      // createdAt descending; default is oldest first
	Limit    int
}

// RedemptionFilter narrows ListRedemptions and CountRedemptions.
type RedemptionFilter struct {
	UserID   UserID
	RewardID RewardID
	Statuses []Status
	Newest   bool
	Limit    int
}

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of the ledger collections.
type Store interface {
	// Catalog
	InsertReward(ctx context.Context, r RewardDefinition) error
	UpdateReward(ctx context.Context, r RewardDefinition) error
	GetReward(ctx context.Context, id RewardID) (*RewardDefinition, error)
	ListRewards(ctx context.Context, activeOnly bool) ([]RewardDefinition, error)
	DeleteReward(ctx context.Context, id RewardID) error

	// Visits
	InsertVisit(ctx context.Context, v VisitClaim) error
	GetVisit(ctx context.Context, id VisitID) (*VisitClaim, error)
	ListVisits(ctx context.Context, f VisitFilter) ([]VisitClaim, error)
	CountVisits(ctx context.Context, userID UserID, status Status) (int, error)
	// TransitionVisit sets status=to, collected_by=actor WHERE id AND status=from.
	TransitionVisit(ctx context.Context, id VisitID, from, to Status, actor string) (bool, error)

	// Redemptions
	InsertRedemption(ctx context.Context, r RedemptionClaim) error
	GetRedemption(ctx context.Context, id RedemptionID) (*RedemptionClaim, error)
	ListRedemptions(ctx context.Context, f RedemptionFilter) ([]RedemptionClaim, error)
	CountRedemptions(ctx context.Context, f RedemptionFilter) (int, error)
	// SumApprovedRedemptionCost is Σ requiredStamps over approved redemptions of the user.
	SumApprovedRedemptionCost(ctx context.Context, userID UserID) (int, error)
	// TransitionRedemption sets status=to, processed_by=actor, redeemed_at WHERE id AND status=from.
	TransitionRedemption(ctx context.Context, id RedemptionID, from, to Status, actor string, redeemedAt *time.Time) (bool, error)

	// Balances
	LockBalance(ctx context.Context, userID UserID) error
	// GetBalance returns a zero balance for users never recomputed.
	GetBalance(ctx context.Context, userID UserID) (UserBalance, error)
	SetBalance(ctx context.Context, b UserBalance) error
	// ListUsers returns every user with a ledger entry or a cached balance.
	ListUsers(ctx context.Context) ([]UserID, error)

	// Revision is the ledger-wide change counter used by live sync.
	Revision(ctx context.Context) (int64, error)
	BumpRevision(ctx context.Context) (int64, error)

	// Audit
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Who moved which claim, when
// =============================================================================

type AuditAction string

const (
	AuditVisitCreated        AuditAction = "visit_created"
	AuditVisitGranted        AuditAction = "visit_granted"
	AuditVisitApproved       AuditAction = "visit_approved"
	AuditVisitRejected       AuditAction = "visit_rejected"
	AuditVisitOverridden     AuditAction = "visit_overridden"
	AuditRedemptionRequested AuditAction = "redemption_requested"
	AuditRedemptionApproved  AuditAction = "redemption_approved"
	AuditRedemptionRejected  AuditAction = "redemption_rejected"
	AuditBalanceCorrected    AuditAction = "balance_corrected"
)

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID      string
	At      time.Time
	ActorID string
	Action  AuditAction
	Kind    ClaimKind
	ClaimID string
	UserID  UserID
	From    Status
	To      Status
	Reason  string
}

type AuditFilter struct {
	UserID  UserID
	ClaimID string
	Actions []AuditAction
	Limit   int
}

func newAudit(at time.Time, actor string, action AuditAction, kind ClaimKind, claimID string, user UserID, from, to Status) AuditEntry {
	return AuditEntry{
		ID:      newID(),
		At:      at,
		ActorID: actor,
		Action:  action,
		Kind:    kind,
		ClaimID: claimID,
		UserID:  user,
		From:    from,
		To:      to,
	}
}
