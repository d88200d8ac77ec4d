package websocket

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/broker"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
)

// Session is one WebSocket connection homed on a broker shard. The write
// mutex serializes frames between the read-loop goroutine and shard
// deliveries; subscription state lives in a concurrent map because the shard
// actor reads it while the read loop mutates it.
type Session struct {
	id     string
	conn   *websocket.Conn
	shard  *broker.Shard
	region string

	writeMu       sync.Mutex
	subscriptions *xsync.MapOf[string, []*query.Filter]

	eventBucket  *rate.Limiter
	reqBucket    *rate.Limiter
	sortedBucket *rate.Limiter
}

func newSession(conn *websocket.Conn, shard *broker.Shard, region string, limits types.RateLimitSettings) *Session {
	return &Session{
		id:            uuid.NewString(),
		conn:          conn,
		shard:         shard,
		region:        region,
		subscriptions: xsync.NewMapOf[string, []*query.Filter](),
		eventBucket:   newBucket(limits.EventRate, limits.EventBurst),
		reqBucket:     newBucket(limits.ReqRate, limits.ReqBurst),
		sortedBucket:  newBucket(limits.SortedQueryRate, limits.SortedQueryBurst),
	}
}

// newBucket builds a token bucket; a non-positive rate disables the limit.
func newBucket(r float64, burst int) *rate.Limiter {
	if r <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(r), burst)
}

// ID implements broker.Subscriber.
func (s *Session) ID() string { return s.id }

// MatchSubscriptions returns the subscription ids whose filter list matches
// the event. Called from the shard actor.
func (s *Session) MatchSubscriptions(event *nostr.Event) []string {
	var matched []string
	s.subscriptions.Range(func(subID string, filters []*query.Filter) bool {
		if query.MatchesAny(filters, event) {
			matched = append(matched, subID)
		}
		return true
	})
	return matched
}

// Deliver sends a live EVENT frame. Write errors are left for the read loop
// to notice; a dying connection tears the whole session down there.
func (s *Session) Deliver(subID string, event *nostr.Event) {
	s.writeFrame("EVENT", subID, event)
}

func (s *Session) setSubscription(subID string, filters []*query.Filter) {
	s.subscriptions.Store(subID, filters)
}

func (s *Session) removeSubscription(subID string) bool {
	_, ok := s.subscriptions.LoadAndDelete(subID)
	return ok
}

// writeFrame marshals and writes one relay-to-client array frame under the
// session write lock.
func (s *Session) writeFrame(messageType string, params ...interface{}) {
	data := buildFrame(messageType, params...)
	if data == nil {
		return
	}
	s.writeRaw(data)
}

func (s *Session) writeRaw(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Debugf("Error writing to session %s: %v", s.id, err)
	}
}

func buildFrame(messageType string, params ...interface{}) []byte {
	message := append([]interface{}{messageType}, params...)
	data, err := jsonFast.Marshal(message)
	if err != nil {
		logging.Errorf("Error marshaling frame: %v", err)
		return nil
	}
	return data
}

// close detaches the session from its shard and drops all subscriptions.
func (s *Session) close() {
	s.shard.Detach(s.id)
	s.subscriptions.Clear()
}
