package livesync

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// TopicStaff carries every change. Customer views listen on UserTopic.
const TopicStaff = "staff"

// UserTopic is the topic of changes touching one user's ledger.
func UserTopic(id loyalty.UserID) string {
	return "user:" + string(id)
}

// Broker fans ledger changes out to live views. Delivery is best effort:
// events may be missed or repeated, and subscribers must re-fetch.
type Broker interface {
	loyalty.Publisher
	// Subscribe delivers changes on topic until ctx is done, then closes
	// the channel.
	Subscribe(ctx context.Context, topic string) (<-chan loyalty.Change, error)
	Close() error
}

// topicsFor lists the topics a change is published on.
func topicsFor(c loyalty.Change) []string {
	if c.UserID == "" {
		return []string{TopicStaff}
	}
	return []string{TopicStaff, UserTopic(c.UserID)}
}

// =============================================================================
// MEMORY BROKER - Single process
// =============================================================================

const subscriberBuffer = 16

// MemoryBroker delivers within one process. A slow subscriber loses
// events instead of blocking publishers.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan loyalty.Change]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[chan loyalty.Change]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, c loyalty.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, topic := range topicsFor(c) {
		for ch := range b.subs[topic] {
			select {
			case ch <- c:
			default:
				log.WithFields(log.Fields{"topic": topic, "revision": c.Revision}).Debug("subscriber full, event dropped")
			}
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (<-chan loyalty.Change, error) {
	ch := make(chan loyalty.Change, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, nil
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan loyalty.Change]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[topic][ch]; ok {
			delete(b.subs[topic], ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close ends every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for topic, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

// =============================================================================
// WIRING
// =============================================================================

// Kicker is anything that can be asked to refresh early.
type Kicker interface {
	Kick()
}

// Follow kicks k for every change on topic until ctx is done.
func Follow(ctx context.Context, b Broker, topic string, k Kicker) error {
	events, err := b.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			k.Kick()
		}
	}
}
