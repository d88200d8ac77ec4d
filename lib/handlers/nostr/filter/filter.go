package filter

import (
	"encoding/json"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	"github.com/rabble/nosflare-sub000/lib/archive"
	"github.com/rabble/nosflare-sub000/lib/cursor"
	lib_nostr "github.com/rabble/nosflare-sub000/lib/handlers/nostr"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// ReqPayload is what the transport hands the filter handler: the subscription
// id plus each filter exactly as it arrived, so vendor keys and the cursor
// binding survive.
type ReqPayload struct {
	SubscriptionID string            `json:"subscription_id"`
	Filters        []json.RawMessage `json:"filters"`
}

// Executor compiles filters against the hot store, the video projection and
// the archive, and owns cursor minting.
type Executor struct {
	Store   stores.Store
	Archive *archive.Reader
	Cursor  *cursor.Codec
	Caps    query.Caps

	// ArchiveCutoff returns the current retention boundary; nil disables
	// archive merging.
	ArchiveCutoff func() int64
}

// vcursorNotice is the trailing pagination notice payload.
type vcursorNotice struct {
	Sub    string `json:"sub"`
	Cursor string `json:"cursor"`
}

// BuildFilterHandler wires the executor into the handler registry.
func BuildFilterHandler(exec *Executor) func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
	return func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
		var json = jsoniter.ConfigCompatibleWithStandardLibrary

		data, err := read()
		if err != nil {
			write("NOTICE", "Error reading data from stream")
			return
		}

		var payload ReqPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			write("NOTICE", "Failed to deserialize the request payload")
			return
		}

		exec.Handle(payload, write)
	}
}

// Handle validates every filter, streams the stored results, then EOSE, then
// any continuation cursor. A validation or cursor failure closes the
// subscription without leaking events.
func (e *Executor) Handle(payload ReqPayload, write lib_nostr.KindWriter) {
	subID := payload.SubscriptionID

	filters := make([]*query.Filter, 0, len(payload.Filters))
	for _, raw := range payload.Filters {
		f := &query.Filter{}
		if err := f.UnmarshalJSON(raw); err != nil {
			write("CLOSED", subID, "invalid: malformed filter")
			return
		}
		if err := query.Validate(f, e.Caps); err != nil {
			write("CLOSED", subID, err.Error())
			return
		}
		filters = append(filters, f)
	}

	seen := make(map[string]bool)
	var notices []vcursorNotice

	for _, f := range filters {
		events, next, err := e.runFilter(f)
		if err != nil {
			write("CLOSED", subID, err.Error())
			return
		}
		for _, event := range events {
			if seen[event.ID] {
				continue
			}
			seen[event.ID] = true
			write("EVENT", subID, event)
		}
		if next != "" {
			notices = append(notices, vcursorNotice{Sub: subID, Cursor: next})
		}
	}

	write("EOSE", subID)
	for _, notice := range notices {
		write("NOTICE", "VCURSOR", notice)
	}
}

// runFilter routes one filter: full-text search, the video projection, or the
// generic store with an optional archive merge. The returned string is the
// continuation cursor, empty when the page is complete.
func (e *Executor) runFilter(f *query.Filter) ([]*nostr.Event, string, error) {
	if f.Search != "" {
		return e.runSearch(f)
	}
	if query.UseVideoProjection(f) {
		return e.runProjection(f)
	}
	return e.runGeneric(f)
}

func (e *Executor) runSearch(f *query.Filter) ([]*nostr.Event, string, error) {
	limit := query.EffectiveLimit(f.Limit, e.Caps)
	results, err := e.Store.SearchEvents(f.Search, f.SearchTypes, limit)
	if err != nil {
		logging.Errorf("Search failed: %v", err)
		return nil, "", nil
	}

	events := make([]*nostr.Event, 0, len(results))
	for _, result := range results {
		events = append(events, result.Event)
	}
	return events, "", nil
}

func (e *Executor) runProjection(f *query.Filter) ([]*nostr.Event, string, error) {
	var pos *cursor.Position
	if f.Cursor != "" {
		decoded, err := e.Cursor.Decode(f.Cursor, f.Raw)
		if err != nil {
			return nil, "", err
		}
		pos = decoded
	}

	page, err := e.Store.QueryVideos(f, pos, e.Caps)
	if err != nil {
		logging.Errorf("Projection query failed: %v", err)
		return nil, "", nil
	}

	var next string
	if page.HasMore && page.Last != nil {
		next, err = e.Cursor.Encode(*page.Last, f.Raw)
		if err != nil {
			logging.Errorf("Cursor encoding failed: %v", err)
			next = ""
		}
	}
	return page.Events, next, nil
}

func (e *Executor) runGeneric(f *query.Filter) ([]*nostr.Event, string, error) {
	events, err := e.Store.QueryEvents(f)
	if err != nil {
		logging.Errorf("Event query failed: %v", err)
		return nil, "", nil
	}

	if e.Archive != nil && e.ArchiveCutoff != nil && query.NeedsArchive(f, e.ArchiveCutoff()) {
		limit := f.Limit
		if limit <= 0 {
			limit = e.Caps.LegacyMaxLimit
		}

		archived, err := e.Archive.Query(f, limit)
		if err != nil {
			logging.Errorf("Archive query failed: %v", err)
		} else if len(archived) > 0 {
			events = mergeByID(events, archived, limit)
		}
	}

	// Expired events are not served even before the next sweep removes them.
	now := time.Now()
	filtered := events[:0]
	for _, event := range events {
		if !lib_nostr.IsExpired(event, now) {
			filtered = append(filtered, event)
		}
	}
	return filtered, "", nil
}

// mergeByID unions hot and archive results, dedups by id, and restores the
// global (created_at DESC, id ASC) order before the limit.
func mergeByID(hot, archived []*nostr.Event, limit int) []*nostr.Event {
	byID := make(map[string]*nostr.Event, len(hot)+len(archived))
	for _, event := range hot {
		byID[event.ID] = event
	}
	for _, event := range archived {
		if _, ok := byID[event.ID]; !ok {
			byID[event.ID] = event
		}
	}

	merged := make([]*nostr.Event, 0, len(byID))
	for _, event := range byID {
		merged = append(merged, event)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
