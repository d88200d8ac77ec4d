package sqlite

import (
	"math"
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"gorm.io/gorm"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// One FTS5 table per search entity, each with (event_id UNINDEXED, body).
var ftsTables = []string{
	"users_fts",
	"notes_fts",
	"videos_fts",
	"lists_fts",
	"articles_fts",
	"communities_fts",
	"hashtags_fts",
}

// entityTables maps search_types entities to their FTS tables.
var entityTables = map[string]string{
	"profiles":    "users_fts",
	"notes":       "notes_fts",
	"videos":      "videos_fts",
	"lists":       "lists_fts",
	"articles":    "articles_fts",
	"communities": "communities_fts",
	"hashtags":    "hashtags_fts",
}

var searchEntities = []string{
	"profiles", "notes", "videos", "lists", "articles", "communities", "hashtags",
}

// entityForKind maps an event kind to its search entity, or "" when the kind
// is not indexed.
func entityForKind(kind int) string {
	switch {
	case kind == 0:
		return "profiles"
	case kind == 1:
		return "notes"
	case kind == types.VideosKind:
		return "videos"
	case kind >= 30000 && kind <= 30003:
		return "lists"
	case kind == 30023:
		return "articles"
	case kind == 34550:
		return "communities"
	default:
		return ""
	}
}

// searchBody builds the indexed text for an event: content plus the values of
// the human-readable tags.
func searchBody(event *nostr.Event) string {
	parts := []string{event.Content}
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "title", "summary", "alt", "subject", "description", "name", "t":
			parts = append(parts, tag[1])
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// updateSearchIndex refreshes the event's FTS rows. Delete-then-insert keeps
// replaceable events from accumulating stale rows.
func updateSearchIndex(tx *gorm.DB, event *nostr.Event) error {
	entity := entityForKind(event.Kind)
	if entity == "" {
		return nil
	}

	table := entityTables[entity]
	if err := tx.Exec("DELETE FROM "+table+" WHERE event_id = ?", event.ID).Error; err != nil {
		return err
	}
	body := searchBody(event)
	if body != "" {
		if err := tx.Exec("INSERT INTO "+table+" (event_id, body) VALUES (?, ?)", event.ID, body).Error; err != nil {
			return err
		}
	}

	if event.Kind == types.VideosKind {
		if err := tx.Exec("DELETE FROM hashtags_fts WHERE event_id = ?", event.ID).Error; err != nil {
			return err
		}
		meta := query.ExtractVideoMeta(event)
		if len(meta.Hashtags) > 0 {
			tags := strings.Join(meta.Hashtags, " ")
			if err := tx.Exec("INSERT INTO hashtags_fts (event_id, body) VALUES (?, ?)", event.ID, tags).Error; err != nil {
				return err
			}
		}
	}

	return nil
}

// deleteSearchRows removes the event from every FTS table.
func deleteSearchRows(tx *gorm.DB, eventID string) error {
	for _, table := range ftsTables {
		if err := tx.Exec("DELETE FROM "+table+" WHERE event_id = ?", eventID).Error; err != nil {
			return err
		}
	}
	return nil
}

// buildMatchQuery turns free text into an FTS5 MATCH expression: each token
// becomes a quoted phrase, the last one a prefix, so partial typing still
// hits.
func buildMatchQuery(text string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for i, token := range tokens {
		token = strings.ReplaceAll(token, `"`, `""`)
		if i == len(tokens)-1 {
			quoted = append(quoted, `"`+token+`"*`)
		} else {
			quoted = append(quoted, `"`+token+`"`)
		}
	}
	return strings.Join(quoted, " ")
}

type ftsHit struct {
	EventID string
	Score   float64
	Snippet string
}

// SearchEvents runs full-text search over the requested entities (all when
// empty) and returns hits ranked best first. Video hits get an engagement
// boost on top of the text rank.
func (s *SqliteStore) SearchEvents(text string, entities []string, limit int) ([]stores.SearchResult, error) {
	match := buildMatchQuery(text)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if len(entities) == 0 {
		entities = searchEntities
	}

	var results []stores.SearchResult
	for _, entity := range entities {
		table, ok := entityTables[entity]
		if !ok {
			continue
		}

		var hits []ftsHit
		err := s.DB.Raw(
			"SELECT event_id, -bm25("+table+") AS score, snippet("+table+", 1, '', '', '…', 12) AS snippet FROM "+table+
				" WHERE "+table+" MATCH ? ORDER BY bm25("+table+") LIMIT ?",
			match, limit).Scan(&hits).Error
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			continue
		}

		ids := make([]string, 0, len(hits))
		for _, hit := range hits {
			ids = append(ids, hit.EventID)
		}
		events, err := s.eventsByID(ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*nostr.Event, len(events))
		for _, event := range events {
			byID[event.ID] = event
		}

		for _, hit := range hits {
			event, ok := byID[hit.EventID]
			if !ok {
				continue
			}
			score := hit.Score
			if event.Kind == types.VideosKind {
				meta := query.ExtractVideoMeta(event)
				// log damping keeps viral outliers from drowning text
				// relevance entirely.
				score += math.Log1p(float64(meta.Likes)) + 0.5*math.Log1p(float64(meta.Views))
			}
			results = append(results, stores.SearchResult{
				Event:   event,
				Entity:  entity,
				Score:   score,
				Snippet: hit.Snippet,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
