package broker

import (
	"errors"

	"github.com/nbd-wtf/go-nostr"

	"github.com/rabble/nosflare-sub000/lib/logging"
)

// Subscriber is a live session homed on a shard. Implementations serialize
// their own subscription state; the shard only asks which subscriptions match
// and hands the event over.
type Subscriber interface {
	ID() string
	MatchSubscriptions(event *nostr.Event) []string
	Deliver(subID string, event *nostr.Event)
}

var ErrShardFull = errors.New("shard at capacity")

const mailboxSize = 1024

type shardMsg interface{ isShardMsg() }

type attachMsg struct {
	sub   Subscriber
	reply chan error
}

type detachMsg struct {
	id string
}

type deliverMsg struct {
	event       *nostr.Event
	sourceShard string
}

type stopMsg struct {
	done chan struct{}
}

func (attachMsg) isShardMsg()  {}
func (detachMsg) isShardMsg()  {}
func (deliverMsg) isShardMsg() {}
func (stopMsg) isShardMsg()    {}

// Shard is one regional broker actor. A single goroutine owns the session
// map; everything reaches it through the mailbox, so no locking and clear
// per-shard ordering.
type Shard struct {
	id       string
	capacity int
	mailbox  chan shardMsg
}

func newShard(id string, capacity int) *Shard {
	s := &Shard{
		id:       id,
		capacity: capacity,
		mailbox:  make(chan shardMsg, mailboxSize),
	}
	go s.run()
	return s
}

func (s *Shard) ID() string { return s.id }

func (s *Shard) run() {
	sessions := make(map[string]Subscriber)

	for raw := range s.mailbox {
		switch msg := raw.(type) {
		case attachMsg:
			if s.capacity > 0 && len(sessions) >= s.capacity {
				msg.reply <- ErrShardFull
				continue
			}
			sessions[msg.sub.ID()] = msg.sub
			msg.reply <- nil
		case detachMsg:
			delete(sessions, msg.id)
		case deliverMsg:
			delivered := 0
			for _, sub := range sessions {
				for _, subID := range sub.MatchSubscriptions(msg.event) {
					sub.Deliver(subID, msg.event)
					delivered++
				}
			}
			if delivered > 0 {
				logging.Debugf("Shard %s delivered %s (published on %s) to %d subscriptions",
					s.id, msg.event.ID, msg.sourceShard, delivered)
			}
		case stopMsg:
			close(msg.done)
			return
		}
	}
}

// Attach homes a session on this shard, failing when the shard is at
// capacity so the router can try the next candidate.
func (s *Shard) Attach(sub Subscriber) error {
	reply := make(chan error, 1)
	s.mailbox <- attachMsg{sub: sub, reply: reply}
	return <-reply
}

// Detach removes a session. Pending deliveries to it are skipped once the
// message is processed.
func (s *Shard) Detach(sessionID string) {
	s.mailbox <- detachMsg{id: sessionID}
}

// Deliver fans an event out to this shard's matching subscriptions.
// Best-effort: a full mailbox drops the broadcast rather than blocking the
// publisher.
func (s *Shard) Deliver(event *nostr.Event, sourceShard string) {
	select {
	case s.mailbox <- deliverMsg{event: event, sourceShard: sourceShard}:
	default:
		logging.Warnf("Shard %s mailbox full, dropping broadcast of %s", s.id, event.ID)
	}
}

func (s *Shard) stop() {
	done := make(chan struct{})
	s.mailbox <- stopMsg{done: done}
	<-done
}
