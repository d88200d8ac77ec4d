package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber matches everything under a fixed subscription id and records
// deliveries.
type fakeSubscriber struct {
	id    string
	subID string

	mu        sync.Mutex
	delivered []string
}

func newFakeSubscriber(id, subID string) *fakeSubscriber {
	return &fakeSubscriber{id: id, subID: subID}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) MatchSubscriptions(event *nostr.Event) []string {
	if f.subID == "" {
		return nil
	}
	return []string{f.subID}
}

func (f *fakeSubscriber) Deliver(subID string, event *nostr.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, event.ID)
}

func (f *fakeSubscriber) deliveredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestShardDeliversToMatchingSessions(t *testing.T) {
	b := New([]string{"enam"}, 0)
	defer b.Close()

	shard, ok := b.Shard("enam")
	require.True(t, ok)

	matching := newFakeSubscriber("s1", "sub1")
	silent := newFakeSubscriber("s2", "")
	require.NoError(t, shard.Attach(matching))
	require.NoError(t, shard.Attach(silent))

	event := &nostr.Event{ID: "evt1", Kind: 1}
	b.Publish(event, "enam")

	waitFor(t, func() bool { return len(matching.deliveredIDs()) == 1 })
	assert.Equal(t, []string{"evt1"}, matching.deliveredIDs())
	assert.Empty(t, silent.deliveredIDs())
}

func TestPublishReachesEveryShardOnce(t *testing.T) {
	b := New([]string{"wnam", "enam", "weur"}, 0)
	defer b.Close()

	var subs []*fakeSubscriber
	for i, id := range b.ShardIDs() {
		shard, ok := b.Shard(id)
		require.True(t, ok)
		sub := newFakeSubscriber(string(rune('a'+i)), "live")
		require.NoError(t, shard.Attach(sub))
		subs = append(subs, sub)
	}

	// Published from wnam; sessions on every shard including the source
	// must see it exactly once.
	b.Publish(&nostr.Event{ID: "cross", Kind: 1}, "wnam")

	for _, sub := range subs {
		sub := sub
		waitFor(t, func() bool { return len(sub.deliveredIDs()) == 1 })
		assert.Equal(t, []string{"cross"}, sub.deliveredIDs())
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	b := New([]string{"enam"}, 0)
	defer b.Close()

	shard, _ := b.Shard("enam")
	sub := newFakeSubscriber("s1", "sub1")
	require.NoError(t, shard.Attach(sub))

	b.Publish(&nostr.Event{ID: "before", Kind: 1}, "enam")
	waitFor(t, func() bool { return len(sub.deliveredIDs()) == 1 })

	shard.Detach("s1")
	b.Publish(&nostr.Event{ID: "after", Kind: 1}, "enam")

	// Give the actor time to process; the second event must never arrive.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"before"}, sub.deliveredIDs())
}

func TestAttachRespectsCapacity(t *testing.T) {
	b := New([]string{"enam"}, 1)
	defer b.Close()

	shard, _ := b.Shard("enam")
	require.NoError(t, shard.Attach(newFakeSubscriber("s1", "")))

	err := shard.Attach(newFakeSubscriber("s2", ""))
	assert.ErrorIs(t, err, ErrShardFull)

	// Detaching frees the slot.
	shard.Detach("s1")
	waitFor(t, func() bool {
		return shard.Attach(newFakeSubscriber("s3", "")) == nil
	})
}

func TestBrokerDedupesShardIDs(t *testing.T) {
	b := New([]string{"enam", "enam", "weur"}, 0)
	defer b.Close()

	assert.Equal(t, []string{"enam", "weur"}, b.ShardIDs())
}
