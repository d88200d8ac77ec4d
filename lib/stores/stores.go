package stores

import (
	"errors"

	"github.com/nbd-wtf/go-nostr"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/cursor"
	"github.com/rabble/nosflare-sub000/lib/query"
)

// Write-path outcomes the handlers translate into OK reasons.
var (
	ErrDuplicate        = errors.New("duplicate: already have this event")
	ErrDuplicateNewer   = errors.New("duplicate: newer event already exists")
	ErrDuplicateContent = errors.New("duplicate: content already exists")
	ErrNotFound         = errors.New("event not found")
)

// KindClass partitions event kinds into the storage classes the write entry
// point dispatches on.
type KindClass int

const (
	KindRegular KindClass = iota
	KindRegularReplaceable
	KindParameterizedReplaceable
	KindEphemeral
	KindDeletion
)

// ClassifyKind returns the storage class for a kind.
func ClassifyKind(kind int) KindClass {
	switch {
	case kind == 5:
		return KindDeletion
	case kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000):
		return KindRegularReplaceable
	case kind >= 20000 && kind < 30000:
		return KindEphemeral
	case kind >= 30000 && kind < 40000:
		return KindParameterizedReplaceable
	default:
		return KindRegular
	}
}

// VideoPage is one page of a vendor-sorted video query.
type VideoPage struct {
	Events  []*nostr.Event
	HasMore bool
	// Last is the keyset position of the final returned event, used to
	// mint the continuation cursor when HasMore is set.
	Last *cursor.Position
}

// SearchResult is one full-text hit with its relevance score and snippet.
type SearchResult struct {
	Event   *nostr.Event
	Entity  string
	Score   float64
	Snippet string
}

// Store is the hot relational store: events with their tag rows, the video
// projection, the full-text indexes and the pay-to-relay ledger.
type Store interface {
	// Events
	StoreEvent(event *nostr.Event) error
	DeleteEvent(eventID string) error
	HasEvent(eventID string) (bool, error)
	GetEventAuthor(eventID string) (string, error)
	QueryEvents(filter *query.Filter) ([]*nostr.Event, error)

	// Profiles
	ResolveProfileName(name string) (string, error)

	// Video projection
	QueryVideos(filter *query.Filter, pos *cursor.Position, caps query.Caps) (*VideoPage, error)

	// Full-text search
	SearchEvents(text string, entities []string, limit int) ([]SearchResult, error)
	TrendingHashtags(limit int) ([]types.HashtagStat, error)

	// Archival support
	EventsOlderThan(cutoff int64, limit int) ([]*nostr.Event, error)
	DeleteEventsBatch(eventIDs []string) error

	// Pay-to-relay
	IsPaidPubkey(pubkey string) (bool, error)
	SavePaidPubkey(pubkey string, amount int64) error

	// Diagnostics
	AppliedMigrations() ([]types.SchemaMigration, error)
	KindCounts() (map[int]int64, error)

	Close() error
}
