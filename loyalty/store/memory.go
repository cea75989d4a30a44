// Package store provides an in-memory loyalty.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every collection in maps guarded by one mutex.
// Listing order falls back to insertion order when createdAt ties.
type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	rewards     map[loyalty.RewardID]loyalty.RewardDefinition
	visits      map[loyalty.VisitID]loyalty.VisitClaim
	visitSeq    map[loyalty.VisitID]int
	redemptions map[loyalty.RedemptionID]loyalty.RedemptionClaim
	redeemSeq   map[loyalty.RedemptionID]int
	balances    map[loyalty.UserID]loyalty.UserBalance
	audit       []loyalty.AuditEntry
	revision    int64
	seq         int
}

func NewMemory() *Memory {
	return &Memory{state: state{
		rewards:     make(map[loyalty.RewardID]loyalty.RewardDefinition),
		visits:      make(map[loyalty.VisitID]loyalty.VisitClaim),
		visitSeq:    make(map[loyalty.VisitID]int),
		redemptions: make(map[loyalty.RedemptionID]loyalty.RedemptionClaim),
		redeemSeq:   make(map[loyalty.RedemptionID]int),
		balances:    make(map[loyalty.UserID]loyalty.UserBalance),
	}}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized, so LockBalance is a no-op.
func (m *Memory) WithTx(ctx context.Context, fn func(loyalty.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{st: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// The non-transactional methods take the lock and delegate to a view.

func (m *Memory) read() *txView  { m.mu.RLock(); return &txView{st: &m.state} }
func (m *Memory) write() *txView { m.mu.Lock(); return &txView{st: &m.state} }

func (m *Memory) InsertReward(ctx context.Context, r loyalty.RewardDefinition) error {
	defer m.mu.Unlock()
	return m.write().InsertReward(ctx, r)
}

func (m *Memory) UpdateReward(ctx context.Context, r loyalty.RewardDefinition) error {
	defer m.mu.Unlock()
	return m.write().UpdateReward(ctx, r)
}

func (m *Memory) GetReward(ctx context.Context, id loyalty.RewardID) (*loyalty.RewardDefinition, error) {
	defer m.mu.RUnlock()
	return m.read().GetReward(ctx, id)
}

func (m *Memory) ListRewards(ctx context.Context, activeOnly bool) ([]loyalty.RewardDefinition, error) {
	defer m.mu.RUnlock()
	return m.read().ListRewards(ctx, activeOnly)
}

func (m *Memory) DeleteReward(ctx context.Context, id loyalty.RewardID) error {
	defer m.mu.Unlock()
	return m.write().DeleteReward(ctx, id)
}

func (m *Memory) InsertVisit(ctx context.Context, v loyalty.VisitClaim) error {
	defer m.mu.Unlock()
	return m.write().InsertVisit(ctx, v)
}

func (m *Memory) GetVisit(ctx context.Context, id loyalty.VisitID) (*loyalty.VisitClaim, error) {
	defer m.mu.RUnlock()
	return m.read().GetVisit(ctx, id)
}

func (m *Memory) ListVisits(ctx context.Context, f loyalty.VisitFilter) ([]loyalty.VisitClaim, error) {
	defer m.mu.RUnlock()
	return m.read().ListVisits(ctx, f)
}

func (m *Memory) CountVisits(ctx context.Context, userID loyalty.UserID, status loyalty.Status) (int, error) {
	defer m.mu.RUnlock()
	return m.read().CountVisits(ctx, userID, status)
}

func (m *Memory) TransitionVisit(ctx context.Context, id loyalty.VisitID, from, to loyalty.Status, actor string) (bool, error) {
	defer m.mu.Unlock()
	return m.write().TransitionVisit(ctx, id, from, to, actor)
}

func (m *Memory) InsertRedemption(ctx context.Context, r loyalty.RedemptionClaim) error {
	defer m.mu.Unlock()
	return m.write().InsertRedemption(ctx, r)
}

func (m *Memory) GetRedemption(ctx context.Context, id loyalty.RedemptionID) (*loyalty.RedemptionClaim, error) {
	defer m.mu.RUnlock()
	return m.read().GetRedemption(ctx, id)
}

func (m *Memory) ListRedemptions(ctx context.Context, f loyalty.RedemptionFilter) ([]loyalty.RedemptionClaim, error) {
	defer m.mu.RUnlock()
	return m.read().ListRedemptions(ctx, f)
}

func (m *Memory) CountRedemptions(ctx context.Context, f loyalty.RedemptionFilter) (int, error) {
	defer m.mu.RUnlock()
	return m.read().CountRedemptions(ctx, f)
}

func (m *Memory) SumApprovedRedemptionCost(ctx context.Context, userID loyalty.UserID) (int, error) {
	defer m.mu.RUnlock()
	return m.read().SumApprovedRedemptionCost(ctx, userID)
}

func (m *Memory) TransitionRedemption(ctx context.Context, id loyalty.RedemptionID, from, to loyalty.Status, actor string, redeemedAt *time.Time) (bool, error) {
	defer m.mu.Unlock()
	return m.write().TransitionRedemption(ctx, id, from, to, actor, redeemedAt)
}

func (m *Memory) LockBalance(context.Context, loyalty.UserID) error { return nil }

func (m *Memory) GetBalance(ctx context.Context, userID loyalty.UserID) (loyalty.UserBalance, error) {
	defer m.mu.RUnlock()
	return m.read().GetBalance(ctx, userID)
}

func (m *Memory) SetBalance(ctx context.Context, b loyalty.UserBalance) error {
	defer m.mu.Unlock()
	return m.write().SetBalance(ctx, b)
}

func (m *Memory) ListUsers(ctx context.Context) ([]loyalty.UserID, error) {
	defer m.mu.RUnlock()
	return m.read().ListUsers(ctx)
}

func (m *Memory) Revision(ctx context.Context) (int64, error) {
	defer m.mu.RUnlock()
	return m.read().Revision(ctx)
}

func (m *Memory) BumpRevision(ctx context.Context) (int64, error) {
	defer m.mu.Unlock()
	return m.write().BumpRevision(ctx)
}

func (m *Memory) AppendAudit(ctx context.Context, e loyalty.AuditEntry) error {
	defer m.mu.Unlock()
	return m.write().AppendAudit(ctx, e)
}

func (m *Memory) ListAudit(ctx context.Context, f loyalty.AuditFilter) ([]loyalty.AuditEntry, error) {
	defer m.mu.RUnlock()
	return m.read().ListAudit(ctx, f)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (s *state) clone() state {
	out := state{
		rewards:     make(map[loyalty.RewardID]loyalty.RewardDefinition, len(s.rewards)),
		visits:      make(map[loyalty.VisitID]loyalty.VisitClaim, len(s.visits)),
		visitSeq:    make(map[loyalty.VisitID]int, len(s.visitSeq)),
		redemptions: make(map[loyalty.RedemptionID]loyalty.RedemptionClaim, len(s.redemptions)),
		redeemSeq:   make(map[loyalty.RedemptionID]int, len(s.redeemSeq)),
		balances:    make(map[loyalty.UserID]loyalty.UserBalance, len(s.balances)),
		audit:       append([]loyalty.AuditEntry(nil), s.audit...),
		revision:    s.revision,
		seq:         s.seq,
	}
	for k, v := range s.rewards {
		out.rewards[k] = v
	}
	for k, v := range s.visits {
		out.visits[k] = v
	}
	for k, v := range s.visitSeq {
		out.visitSeq[k] = v
	}
	for k, v := range s.redemptions {
		out.redemptions[k] = v
	}
	for k, v := range s.redeemSeq {
		out.redeemSeq[k] = v
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	return out
}

// =============================================================================
// VIEW - Lock-free access, caller holds the mutex
// =============================================================================

type txView struct {
	st *state
}

func (v *txView) InsertReward(_ context.Context, r loyalty.RewardDefinition) error {
	if _, ok := v.st.rewards[r.ID]; ok {
		return &loyalty.StoreError{Op: "insert reward", Err: errDuplicateKey(string(r.ID))}
	}
	v.st.rewards[r.ID] = r
	return nil
}

func (v *txView) UpdateReward(_ context.Context, r loyalty.RewardDefinition) error {
	if _, ok := v.st.rewards[r.ID]; !ok {
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(r.ID)}
	}
	v.st.rewards[r.ID] = r
	return nil
}

func (v *txView) GetReward(_ context.Context, id loyalty.RewardID) (*loyalty.RewardDefinition, error) {
	r, ok := v.st.rewards[id]
	if !ok {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(id)}
	}
	return &r, nil
}

func (v *txView) ListRewards(_ context.Context, activeOnly bool) ([]loyalty.RewardDefinition, error) {
	out := make([]loyalty.RewardDefinition, 0, len(v.st.rewards))
	for _, r := range v.st.rewards {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequiredStamps != out[j].RequiredStamps {
			return out[i].RequiredStamps < out[j].RequiredStamps
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (v *txView) DeleteReward(_ context.Context, id loyalty.RewardID) error {
	if _, ok := v.st.rewards[id]; !ok {
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(id)}
	}
	delete(v.st.rewards, id)
	return nil
}

func (v *txView) InsertVisit(_ context.Context, visit loyalty.VisitClaim) error {
	if _, ok := v.st.visits[visit.ID]; ok {
		return &loyalty.StoreError{Op: "insert visit", Err: errDuplicateKey(string(visit.ID))}
	}
	v.st.seq++
	v.st.visits[visit.ID] = visit
	v.st.visitSeq[visit.ID] = v.st.seq
	return nil
}

func (v *txView) GetVisit(_ context.Context, id loyalty.VisitID) (*loyalty.VisitClaim, error) {
	visit, ok := v.st.visits[id]
	if !ok {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindVisit, ID: string(id)}
	}
	return &visit, nil
}

func (v *txView) ListVisits(_ context.Context, f loyalty.VisitFilter) ([]loyalty.VisitClaim, error) {
	var out []loyalty.VisitClaim
	for _, visit := range v.st.visits {
		if f.UserID != "" && visit.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, visit.Status) {
			continue
		}
		if !f.Since.IsZero() && visit.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, visit)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) != f.Newest
		}
		return (v.st.visitSeq[a.ID] < v.st.visitSeq[b.ID]) != f.Newest
	})
	return limit(out, f.Limit), nil
}

func (v *txView) CountVisits(_ context.Context, userID loyalty.UserID, status loyalty.Status) (int, error) {
	n := 0
	for _, visit := range v.st.visits {
		if visit.UserID == userID && visit.Status == status {
			n++
		}
	}
	return n, nil
}

func (v *txView) TransitionVisit(_ context.Context, id loyalty.VisitID, from, to loyalty.Status, actor string) (bool, error) {
	visit, ok := v.st.visits[id]
	if !ok || visit.Status != from {
		return false, nil
	}
	visit.Status = to
	visit.CollectedBy = &actor
	v.st.visits[id] = visit
	return true, nil
}

func (v *txView) InsertRedemption(_ context.Context, r loyalty.RedemptionClaim) error {
	if _, ok := v.st.redemptions[r.ID]; ok {
		return &loyalty.StoreError{Op: "insert redemption", Err: errDuplicateKey(string(r.ID))}
	}
	if r.Status == loyalty.StatusPending {
		for _, other := range v.st.redemptions {
			if other.UserID == r.UserID && other.RewardID == r.RewardID && other.Status == loyalty.StatusPending {
				return &loyalty.DuplicateRequestError{UserID: r.UserID, RewardID: r.RewardID, ExistingID: other.ID}
			}
		}
	}
	v.st.seq++
	v.st.redemptions[r.ID] = r
	v.st.redeemSeq[r.ID] = v.st.seq
	return nil
}

func (v *txView) GetRedemption(_ context.Context, id loyalty.RedemptionID) (*loyalty.RedemptionClaim, error) {
	r, ok := v.st.redemptions[id]
	if !ok {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindRedemption, ID: string(id)}
	}
	return &r, nil
}

func (v *txView) ListRedemptions(_ context.Context, f loyalty.RedemptionFilter) ([]loyalty.RedemptionClaim, error) {
	out := v.matchRedemptions(f)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) != f.Newest
		}
		return (v.st.redeemSeq[a.ID] < v.st.redeemSeq[b.ID]) != f.Newest
	})
	return limit(out, f.Limit), nil
}

func (v *txView) CountRedemptions(_ context.Context, f loyalty.RedemptionFilter) (int, error) {
	return len(v.matchRedemptions(f)), nil
}

func (v *txView) matchRedemptions(f loyalty.RedemptionFilter) []loyalty.RedemptionClaim {
	var out []loyalty.RedemptionClaim
	for _, r := range v.st.redemptions {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.RewardID != "" && r.RewardID != f.RewardID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (v *txView) SumApprovedRedemptionCost(_ context.Context, userID loyalty.UserID) (int, error) {
	sum := 0
	for _, r := range v.st.redemptions {
		if r.UserID != userID || r.Status != loyalty.StatusApproved {
			continue
		}
		reward, ok := v.st.rewards[r.RewardID]
		if !ok {
			return 0, &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(r.RewardID)}
		}
		sum += reward.RequiredStamps
	}
	return sum, nil
}

func (v *txView) TransitionRedemption(_ context.Context, id loyalty.RedemptionID, from, to loyalty.Status, actor string, redeemedAt *time.Time) (bool, error) {
	r, ok := v.st.redemptions[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.ProcessedBy = &actor
	if redeemedAt != nil {
		at := *redeemedAt
		r.RedeemedAt = &at
	}
	v.st.redemptions[id] = r
	return true, nil
}

func (v *txView) LockBalance(context.Context, loyalty.UserID) error { return nil }

func (v *txView) GetBalance(_ context.Context, userID loyalty.UserID) (loyalty.UserBalance, error) {
	if b, ok := v.st.balances[userID]; ok {
		return b, nil
	}
	return loyalty.UserBalance{UserID: userID}, nil
}

func (v *txView) SetBalance(_ context.Context, b loyalty.UserBalance) error {
	v.st.balances[b.UserID] = b
	return nil
}

func (v *txView) ListUsers(context.Context) ([]loyalty.UserID, error) {
	seen := make(map[loyalty.UserID]struct{})
	for _, visit := range v.st.visits {
		seen[visit.UserID] = struct{}{}
	}
	for _, r := range v.st.redemptions {
		seen[r.UserID] = struct{}{}
	}
	for id := range v.st.balances {
		seen[id] = struct{}{}
	}
	out := make([]loyalty.UserID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (v *txView) Revision(context.Context) (int64, error) {
	return v.st.revision, nil
}

func (v *txView) BumpRevision(context.Context) (int64, error) {
	v.st.revision++
	return v.st.revision, nil
}

func (v *txView) AppendAudit(_ context.Context, e loyalty.AuditEntry) error {
	v.st.audit = append(v.st.audit, e)
	return nil
}

// ListAudit returns matching entries, newest first.
func (v *txView) ListAudit(_ context.Context, f loyalty.AuditFilter) ([]loyalty.AuditEntry, error) {
	var out []loyalty.AuditEntry
	for i := len(v.st.audit) - 1; i >= 0; i-- {
		e := v.st.audit[i]
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.ClaimID != "" && e.ClaimID != f.ClaimID {
			continue
		}
		if len(f.Actions) > 0 && !hasAction(f.Actions, e.Action) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type errDuplicateKey string

func (e errDuplicateKey) Error() string { return "duplicate key " + string(e) }

func hasStatus(set []loyalty.Status, s loyalty.Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func hasAction(set []loyalty.AuditAction, a loyalty.AuditAction) bool {
	for _, x := range set {
		if x == a {
			return true
		}
	}
	return false
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
