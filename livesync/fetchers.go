package livesync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// Queue is the staff view: everything waiting for a decision.
type Queue struct {
	Visits      []loyalty.VisitClaim
	Redemptions []loyalty.RedemptionClaim
}

// Depth is the number of entries waiting.
func (q Queue) Depth() int {
	return len(q.Visits) + len(q.Redemptions)
}

// QueueFetcher loads both pending lists concurrently.
func QueueFetcher(svc *loyalty.Services) FetchFunc[Queue] {
	return func(ctx context.Context) (int64, Queue, error) {
		var q Queue
		rev, err := svc.Store.Revision(ctx)
		if err != nil {
			return 0, q, err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			visits, err := svc.Visits.ListPending(gctx)
			q.Visits = visits
			return err
		})
		g.Go(func() error {
			redemptions, err := svc.Redemptions.ListPending(gctx)
			q.Redemptions = redemptions
			return err
		})
		if err := g.Wait(); err != nil {
			return 0, Queue{}, err
		}
		return rev, q, nil
	}
}

// BalanceFetcher loads one customer's cached balance.
func BalanceFetcher(svc *loyalty.Services, userID loyalty.UserID) FetchFunc[loyalty.UserBalance] {
	return func(ctx context.Context) (int64, loyalty.UserBalance, error) {
		rev, err := svc.Store.Revision(ctx)
		if err != nil {
			return 0, loyalty.UserBalance{}, err
		}
		b, err := svc.Balances.Balance(ctx, userID)
		return rev, b, err
	}
}
