package loyalty

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Change is published after a ledger mutation commits. It carries no
// state a consumer should trust: receivers re-fetch. Delivery may be
// missed or duplicated.
type Change struct {
	Kind     ClaimKind `json:"kind"`
	ClaimID  string    `json:"claim_id"`
	UserID   UserID    `json:"user_id"`
	Status   Status    `json:"status"`
	Revision int64     `json:"revision"`
}

// Publisher fans ledger changes out to live views.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// publish is best effort: the transition already committed and polling
// covers anything a subscriber misses.
func publish(ctx context.Context, p Publisher, c Change) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, c); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"kind":     c.Kind,
			"claim_id": c.ClaimID,
			"revision": c.Revision,
		}).Warn("publish ledger change")
	}
}
