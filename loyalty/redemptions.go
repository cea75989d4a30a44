package loyalty

import (
	"context"
	"strings"
)

// RedemptionService is the customer-facing side of the redemption ledger.
type RedemptionService struct {
	Store  TxStore
	Events Publisher
	Clock  Clock
}

// RequestRedemption opens a pending claim for rewardID.
//
// Preconditions, checked in one transaction under the user's balance lock:
//   - the reward exists and is active
//   - the user has no pending claim for the same reward
//   - the cached balance covers requiredStamps
//
// The balance check is soft: ApproveRedemption checks again.
func (rs *RedemptionService) RequestRedemption(ctx context.Context, userID UserID, rewardID RewardID) (*RedemptionClaim, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	if strings.TrimSpace(string(rewardID)) == "" {
		return nil, &ValidationError{Field: "reward_id", Message: "required"}
	}

	claim := RedemptionClaim{
		ID:        RedemptionID(newID()),
		UserID:    userID,
		RewardID:  rewardID,
		Status:    StatusPending,
		CreatedAt: rs.Clock.Now(),
	}

	var rev int64
	err := rs.Store.WithTx(ctx, func(s Store) error {
		reward, err := s.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.Active {
			return &ValidationError{Field: "reward_id", Message: "reward is not active"}
		}

		if err := s.LockBalance(ctx, userID); err != nil {
			return err
		}

		existing, err := s.ListRedemptions(ctx, RedemptionFilter{
			UserID:   userID,
			RewardID: rewardID,
			Statuses: []Status{StatusPending},
			Limit:    1,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &DuplicateRequestError{UserID: userID, RewardID: rewardID, ExistingID: existing[0].ID}
		}

		balance, err := s.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		if balance.CurrentStamps < reward.RequiredStamps {
			return &InsufficientBalanceError{
				UserID:    userID,
				RewardID:  rewardID,
				Available: balance.CurrentStamps,
				Required:  reward.RequiredStamps,
			}
		}

		if err := s.InsertRedemption(ctx, claim); err != nil {
			return err
		}
		entry := newAudit(claim.CreatedAt, string(userID), AuditRedemptionRequested, KindRedemption, string(claim.ID), userID, "", StatusPending)
		if err := s.AppendAudit(ctx, entry); err != nil {
			return err
		}
		rev, err = s.BumpRevision(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, rs.Events, Change{Kind: KindRedemption, ClaimID: string(claim.ID), UserID: userID, Status: StatusPending, Revision: rev})
	return &claim, nil
}

// ListPending returns pending redemptions, oldest first.
func (rs *RedemptionService) ListPending(ctx context.Context) ([]RedemptionClaim, error) {
	return rs.Store.ListRedemptions(ctx, RedemptionFilter{Statuses: []Status{StatusPending}})
}

// ListApprovedHistory returns approved redemptions, newest first.
func (rs *RedemptionService) ListApprovedHistory(ctx context.Context, limit int) ([]RedemptionClaim, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return rs.Store.ListRedemptions(ctx, RedemptionFilter{
		Statuses: []Status{StatusApproved},
		Newest:   true,
		Limit:    limit,
	})
}

// ListForUser returns every redemption of a user, newest first.
func (rs *RedemptionService) ListForUser(ctx context.Context, userID UserID) ([]RedemptionClaim, error) {
	return rs.Store.ListRedemptions(ctx, RedemptionFilter{UserID: userID, Newest: true})
}

// Get returns one redemption.
func (rs *RedemptionService) Get(ctx context.Context, id RedemptionID) (*RedemptionClaim, error) {
	return rs.Store.GetRedemption(ctx, id)
}
