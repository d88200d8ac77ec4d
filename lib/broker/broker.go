package broker

import (
	"github.com/nbd-wtf/go-nostr"
)

// Broker owns the fixed set of regional shards. Accepted events enter through
// Publish and fan out to every shard exactly once, so a shard never
// re-broadcasts what it receives.
type Broker struct {
	shards map[string]*Shard
	order  []string
}

// New starts one actor per shard id. capacity bounds sessions per shard; 0
// means unbounded.
func New(shardIDs []string, capacity int) *Broker {
	b := &Broker{shards: make(map[string]*Shard, len(shardIDs))}
	for _, id := range shardIDs {
		if _, ok := b.shards[id]; ok {
			continue
		}
		b.shards[id] = newShard(id, capacity)
		b.order = append(b.order, id)
	}
	return b
}

// Shard returns the named shard.
func (b *Broker) Shard(id string) (*Shard, bool) {
	s, ok := b.shards[id]
	return s, ok
}

// ShardIDs returns the shard ids in configuration order.
func (b *Broker) ShardIDs() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Publish broadcasts an accepted event: the source shard's local fan-out plus
// one delivery to every sibling. Unordered and best-effort; persistence
// already happened before this call.
func (b *Broker) Publish(event *nostr.Event, sourceShard string) {
	for _, id := range b.order {
		b.shards[id].Deliver(event, sourceShard)
	}
}

// Close stops every shard actor, draining each mailbox first.
func (b *Broker) Close() {
	for _, id := range b.order {
		b.shards[id].stop()
	}
}
