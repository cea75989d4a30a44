package loyalty

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultRewardIcon is used when a reward is created without an icon.
const DefaultRewardIcon = "redeem"

// RewardInput carries the admin-editable fields of a reward.
type RewardInput struct {
	Name           string
	Description    string
	RequiredStamps int
	Icon           string
	Active         bool
}

func (in RewardInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "required"}
	}
	if in.RequiredStamps <= 0 {
		return &ValidationError{Field: "required_stamps", Message: "must be a positive integer"}
	}
	return nil
}

// Catalog manages reward definitions.
type Catalog struct {
	Store    TxStore
	Balances *BalanceCalculator
	Clock    Clock
}

// CreateReward adds a reward to the catalog.
func (c *Catalog) CreateReward(ctx context.Context, in RewardInput) (*RewardDefinition, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := c.Clock.Now()
	reward := RewardDefinition{
		ID:             RewardID(newID()),
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		RequiredStamps: in.RequiredStamps,
		Icon:           iconOrDefault(in.Icon),
		Active:         in.Active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := c.Store.WithTx(ctx, func(s Store) error {
		if err := s.InsertReward(ctx, reward); err != nil {
			return err
		}
		_, err := s.BumpRevision(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// UpdateReward replaces the editable fields of a reward.
// Pending redemptions are re-validated against the new cost on approval.
// Approved redemptions are charged at the current cost, so a price change
// recomputes every customer holding one. A price that would leave any of
// them negative is refused.
func (c *Catalog) UpdateReward(ctx context.Context, id RewardID, in RewardInput) (*RewardDefinition, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *RewardDefinition
	err := c.Store.WithTx(ctx, func(s Store) error {
		reward, err := s.GetReward(ctx, id)
		if err != nil {
			return err
		}
		repriced := reward.RequiredStamps != in.RequiredStamps
		reward.Name = strings.TrimSpace(in.Name)
		reward.Description = strings.TrimSpace(in.Description)
		reward.RequiredStamps = in.RequiredStamps
		reward.Icon = iconOrDefault(in.Icon)
		reward.Active = in.Active
		reward.UpdatedAt = c.Clock.Now()
		if err := s.UpdateReward(ctx, *reward); err != nil {
			return err
		}
		if repriced {
			if err := c.recomputeHolders(ctx, s, id); err != nil {
				return err
			}
		}
		out = reward
		_, err = s.BumpRevision(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// recomputeHolders recomputes every user with an approved redemption of id.
func (c *Catalog) recomputeHolders(ctx context.Context, s Store, id RewardID) error {
	approved, err := s.ListRedemptions(ctx, RedemptionFilter{
		RewardID: id,
		Statuses: []Status{StatusApproved},
	})
	if err != nil {
		return err
	}
	seen := make(map[UserID]bool)
	var users []UserID
	for _, r := range approved {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			users = append(users, r.UserID)
		}
	}
	// Fixed lock order across concurrent reprices.
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	for _, user := range users {
		stamps, err := c.Balances.Recompute(ctx, s, user)
		if err != nil {
			return err
		}
		if stamps < 0 {
			return &ValidationError{
				Field:   "required_stamps",
				Message: fmt.Sprintf("would leave user %s with %d stamps", user, stamps),
			}
		}
	}
	return nil
}

// SetActive toggles whether customers can request the reward.
func (c *Catalog) SetActive(ctx context.Context, id RewardID, active bool) (*RewardDefinition, error) {
	var out *RewardDefinition
	err := c.Store.WithTx(ctx, func(s Store) error {
		reward, err := s.GetReward(ctx, id)
		if err != nil {
			return err
		}
		if reward.Active == active {
			out = reward
			return nil
		}
		reward.Active = active
		reward.UpdatedAt = c.Clock.Now()
		if err := s.UpdateReward(ctx, *reward); err != nil {
			return err
		}
		out = reward
		_, err = s.BumpRevision(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteReward removes a reward nobody ever tried to redeem.
// Referenced rewards are kept; callers deactivate them instead.
func (c *Catalog) DeleteReward(ctx context.Context, id RewardID) error {
	return c.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetReward(ctx, id); err != nil {
			return err
		}
		refs, err := s.CountRedemptions(ctx, RedemptionFilter{RewardID: id})
		if err != nil {
			return err
		}
		if refs > 0 {
			return &RewardInUseError{RewardID: id, Redemptions: refs}
		}
		if err := s.DeleteReward(ctx, id); err != nil {
			return err
		}
		_, err = s.BumpRevision(ctx)
		return err
	})
}

// GetReward returns one reward.
func (c *Catalog) GetReward(ctx context.Context, id RewardID) (*RewardDefinition, error) {
	return c.Store.GetReward(ctx, id)
}

// ListRewards returns the catalog ordered by cost, cheapest first.
func (c *Catalog) ListRewards(ctx context.Context, activeOnly bool) ([]RewardDefinition, error) {
	return c.Store.ListRewards(ctx, activeOnly)
}

func iconOrDefault(icon string) string {
	if icon = strings.TrimSpace(icon); icon == "" {
		return DefaultRewardIcon
	}
	return icon
}
