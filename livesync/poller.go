/*
Package livesync keeps staff and customer views close to the ledger.

PURPOSE:
  Views poll. A Poller fetches immediately, then on a fixed interval,
  and stops when its context is cancelled. Change events from a Broker
  only make the poller fetch early; they never carry state a view trusts.

STALENESS:
  Every fetch reads the ledger revision first and stamps the snapshot
  with it. A consumer that already rendered revision N skips a snapshot
  with revision N, so re-renders are idempotent. Reading the revision
  before the data means a snapshot may be newer than its stamp, never
  older: the next fetch sees a higher revision and delivers again.

LIFECYCLE:

  Run(ctx) ──▶ fetch ──▶ publish if revision changed
                 ▲                │
                 │                ▼
        ticker / Kick() ◀──── wait ──── ctx.Done() ──▶ return

SEE ALSO:
  - broker.go:   in-memory change fan-out
  - redis.go:    Redis pub/sub fan-out across instances
  - fetchers.go: staff queue and customer balance fetchers
*/
package livesync

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultInterval is how often views refresh without events.
const DefaultInterval = 5 * time.Second

// Snapshot is one fetched view. Treat Data as read-only.
type Snapshot[T any] struct {
	Revision  int64
	FetchedAt time.Time
	Data      T
}

// FetchFunc loads a view and the ledger revision it reflects.
type FetchFunc[T any] func(ctx context.Context) (revision int64, data T, err error)

// Poller refreshes one view.
type Poller[T any] struct {
	Name     string
	Fetch    FetchFunc[T]
	Interval time.Duration
	// OnChange runs on the poller goroutine for every new revision.
	OnChange func(Snapshot[T])
	// OnError runs after a failed fetch. The poller keeps going.
	OnError func(error)

	once   sync.Once
	kick   chan struct{}
	mu     sync.RWMutex
	latest *Snapshot[T]
}

func NewPoller[T any](name string, fetch FetchFunc[T]) *Poller[T] {
	return &Poller[T]{Name: name, Fetch: fetch, Interval: DefaultInterval}
}

func (p *Poller[T]) kicks() chan struct{} {
	p.once.Do(func() { p.kick = make(chan struct{}, 1) })
	return p.kick
}

// Kick asks for a fetch before the next tick. Never blocks; kicks
// arriving while one is queued collapse into it.
func (p *Poller[T]) Kick() {
	select {
	case p.kicks() <- struct{}{}:
	default:
	}
}

// Latest returns the newest snapshot, false before the first fetch succeeds.
func (p *Poller[T]) Latest() (Snapshot[T], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Snapshot[T]{}, false
	}
	return *p.latest, true
}

// Run fetches immediately and then every Interval until ctx is done.
func (p *Poller[T]) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithField("poller", p.Name)
	logger.WithField("interval", interval).Debug("poller started")

	p.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-p.kicks():
		}
		p.Refresh(ctx)
	}
}

// Refresh fetches once and reports whether the revision changed.
func (p *Poller[T]) Refresh(ctx context.Context) bool {
	rev, data, err := p.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).WithField("poller", p.Name).Warn("fetch failed")
			if p.OnError != nil {
				p.OnError(err)
			}
		}
		return false
	}

	p.mu.Lock()
	if p.latest != nil && p.latest.Revision == rev {
		p.mu.Unlock()
		return false
	}
	snap := Snapshot[T]{Revision: rev, FetchedAt: time.Now().UTC(), Data: data}
	p.latest = &snap
	p.mu.Unlock()

	if p.OnChange != nil {
		p.OnChange(snap)
	}
	return true
}
