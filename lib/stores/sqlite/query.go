package sqlite

import (
	"sort"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"gorm.io/gorm"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/query"
)

// defaultQueryLimit bounds filters that carry no limit of their own.
const defaultQueryLimit = 500

// QueryEvents runs a standard filter against the event tables. Oversized
// ids/authors/kinds arrays are split into chunks, each chunk executed
// separately and the results unioned by id, so no single statement exceeds
// the IN() parameter cap.
func (s *SqliteStore) QueryEvents(f *query.Filter) ([]*nostr.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	idChunks := query.ChunkStrings(f.IDs, query.MaxChunk)
	authorChunks := query.ChunkStrings(f.Authors, query.MaxChunk)
	kindChunks := query.ChunkInts(f.Kinds, query.MaxChunk)

	seen := make(map[string]*types.NostrEvent)
	for _, ids := range idChunks {
		for _, authors := range authorChunks {
			for _, kinds := range kindChunks {
				rows, err := s.queryChunk(f, ids, authors, kinds, limit)
				if err != nil {
					return nil, err
				}
				for i := range rows {
					seen[rows[i].ID] = &rows[i]
				}
			}
		}
	}

	merged := make([]*types.NostrEvent, 0, len(seen))
	for _, row := range seen {
		merged = append(merged, row)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt > merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	events := make([]*nostr.Event, 0, len(merged))
	for _, row := range merged {
		event, err := rowToEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *SqliteStore) queryChunk(f *query.Filter, ids, authors []string, kinds []int, limit int) ([]types.NostrEvent, error) {
	q := s.DB.Model(&types.NostrEvent{})

	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if len(authors) > 0 {
		q = q.Where("pubkey IN ?", authors)
	}
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", int64(*f.Since))
	}
	if f.Until != nil {
		q = q.Where("created_at <= ?", int64(*f.Until))
	}

	q = applyTagConditions(q, f)

	var rows []types.NostrEvent
	if err := q.Order("created_at DESC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// applyTagConditions adds one condition per #tag name through the tag table.
// Oversized value arrays are split into ORed subselects.
func applyTagConditions(q *gorm.DB, f *query.Filter) *gorm.DB {
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}

		var clauses []string
		var args []interface{}
		for _, chunk := range query.ChunkStrings(values, query.MaxChunk) {
			clauses = append(clauses, "id IN (SELECT DISTINCT event_id FROM event_tags WHERE tag_name = ? AND tag_value IN ?)")
			args = append(args, name, chunk)
		}
		q = q.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}
	return q
}

// KindCounts reports stored event counts per kind off the narrow cached-tags
// table, for the diagnostics endpoint.
func (s *SqliteStore) KindCounts() (map[int]int64, error) {
	var rows []struct {
		Kind  int
		Total int64
	}
	if err := s.DB.Raw("SELECT kind, COUNT(*) AS total FROM cached_tags GROUP BY kind").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[int]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Total
	}
	return counts, nil
}
