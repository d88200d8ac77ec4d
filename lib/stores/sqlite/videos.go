package sqlite

import (
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/cursor"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// metricColumns maps int# metric names to projection columns. Keys must stay
// in lockstep with query.IntMetrics.
var metricColumns = map[string]string{
	"loop_count":             "loop_count",
	"likes":                  "likes",
	"views":                  "views",
	"comments":               "comments",
	"avg_completion":         "avg_completion",
	"has_proofmode":          "has_proofmode",
	"has_device_attestation": "has_device_attestation",
	"has_pgp_signature":      "has_pgp_signature",
}

// sortColumns maps vendor sort fields to projection columns.
var sortColumns = map[string]string{
	"loop_count":     "loop_count",
	"likes":          "likes",
	"views":          "views",
	"comments":       "comments",
	"avg_completion": "avg_completion",
	"created_at":     "created_at",
}

// upsertVideo rebuilds the projection row and junction rows for a video
// event. Kind 34236 is parameterized replaceable, so a fresh event for the
// same address replaces everything derived from the old one.
func upsertVideo(tx *gorm.DB, event *nostr.Event) error {
	meta := query.ExtractVideoMeta(event)

	row := types.Video{
		EventID:              event.ID,
		Author:               event.PubKey,
		CreatedAt:            int64(event.CreatedAt),
		LoopCount:            meta.LoopCount,
		Likes:                meta.Likes,
		Views:                meta.Views,
		Comments:             meta.Comments,
		Reposts:              meta.Reposts,
		AvgCompletion:        meta.AvgCompletion,
		Hashtag:              meta.Hashtag,
		HasProofmode:         meta.HasProofmode,
		HasDeviceAttestation: meta.HasDeviceAttestation,
		HasPGPSignature:      meta.HasPGPSignature,
	}
	if meta.VerificationLevel != "" {
		level := meta.VerificationLevel
		row.VerificationLevel = &level
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return err
	}

	if err := decrementHashtagStats(tx, event.ID); err != nil {
		return err
	}
	if err := deleteVideoJunctions(tx, event.ID); err != nil {
		return err
	}

	for _, tag := range meta.Hashtags {
		if err := tx.Create(&types.VideoHashtag{EventID: event.ID, Hashtag: tag}).Error; err != nil {
			return err
		}
	}
	for _, pubkey := range meta.Mentions {
		if err := tx.Create(&types.VideoMention{EventID: event.ID, Pubkey: pubkey}).Error; err != nil {
			return err
		}
	}
	for _, ref := range meta.References {
		if err := tx.Create(&types.VideoReference{EventID: event.ID, RefID: ref}).Error; err != nil {
			return err
		}
	}
	for _, addr := range meta.Addresses {
		if err := tx.Create(&types.VideoAddress{EventID: event.ID, Address: addr}).Error; err != nil {
			return err
		}
	}

	return updateHashtagStats(tx, meta.Hashtags)
}

func deleteVideoJunctions(tx *gorm.DB, eventID string) error {
	for _, model := range []interface{}{
		&types.VideoHashtag{}, &types.VideoMention{}, &types.VideoReference{}, &types.VideoAddress{},
	} {
		if err := tx.Where("event_id = ?", eventID).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// deleteVideoTx removes the projection row and its junctions, reversing the
// hashtag aggregates first so stats track live projection rows.
func deleteVideoTx(tx *gorm.DB, eventID string) error {
	if err := decrementHashtagStats(tx, eventID); err != nil {
		return err
	}
	if err := deleteVideoJunctions(tx, eventID); err != nil {
		return err
	}
	return tx.Where("event_id = ?", eventID).Delete(&types.Video{}).Error
}

// updateHashtagStats bumps the aggregate row per hashtag. TrendingScore is
// usage divided by the tag's age plus one day, so brand-new tags don't divide
// by zero and old heavy tags decay.
func updateHashtagStats(tx *gorm.DB, hashtags []string) error {
	now := time.Now().Unix()
	for _, tag := range hashtags {
		err := tx.Exec(`
			INSERT INTO hashtag_stats (hashtag, total_usage, unique_events, first_seen, last_seen, trending_score)
			VALUES (?, 1, 1, ?, ?, 1.0 / 86400)
			ON CONFLICT(hashtag) DO UPDATE SET
				total_usage = total_usage + 1,
				unique_events = unique_events + 1,
				last_seen = excluded.last_seen,
				trending_score = CAST(total_usage + 1 AS REAL) / (? - first_seen + 86400)`,
			tag, now, now, now).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// decrementHashtagStats reverses the aggregate bump for every hashtag the
// event's current junction rows carry. A metric update for the same video
// address therefore overwrites stats instead of inflating them, and
// unique_events keeps meaning distinct live videos.
func decrementHashtagStats(tx *gorm.DB, eventID string) error {
	var rows []types.VideoHashtag
	if err := tx.Where("event_id = ?", eventID).Find(&rows).Error; err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, row := range rows {
		err := tx.Exec(`
			UPDATE hashtag_stats SET
				total_usage = MAX(total_usage - 1, 0),
				unique_events = MAX(unique_events - 1, 0),
				trending_score = CAST(MAX(total_usage - 1, 0) AS REAL) / (? - first_seen + 86400)
			WHERE hashtag = ?`, now, row.Hashtag).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// TrendingHashtags returns the top hashtags by trending score.
func (s *SqliteStore) TrendingHashtags(limit int) ([]types.HashtagStat, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []types.HashtagStat
	if err := s.DB.Order("trending_score DESC, total_usage DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryVideos runs a vendor-extended query against the projection with keyset
// pagination. pos is nil on the first page.
func (s *SqliteStore) QueryVideos(f *query.Filter, pos *cursor.Position, caps query.Caps) (*stores.VideoPage, error) {
	sortField := "created_at"
	if f.Sort != nil && f.Sort.Field != "" {
		sortField = f.Sort.Field
	}
	sortCol, ok := sortColumns[sortField]
	if !ok {
		return nil, fmt.Errorf("invalid: unknown sort field %q", sortField)
	}
	dir := f.Sort.Direction()

	q := s.DB.Model(&types.Video{})

	if hashtags, ok := f.Tags["t"]; ok && len(hashtags) > 0 {
		q = q.Where("hashtag IN ?", hashtags)
	}
	if len(f.Authors) > 0 {
		q = q.Where("author IN ?", f.Authors)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", int64(*f.Since))
	}
	if f.Until != nil {
		q = q.Where("created_at <= ?", int64(*f.Until))
	}

	// Non-chronological sorts scan the whole projection, so the operator can
	// bound how far back they reach.
	if sortCol != "created_at" && caps.SortedMaxAgeSec > 0 {
		q = q.Where("created_at >= ?", time.Now().Unix()-caps.SortedMaxAgeSec)
	}

	for metric, intFilter := range f.IntFilters {
		col, ok := metricColumns[metric]
		if !ok {
			return nil, fmt.Errorf("invalid: unknown int# metric %q", metric)
		}
		intFilter := intFilter
		if intFilter.Gte != nil {
			q = q.Where(col+" >= ?", *intFilter.Gte)
		}
		if intFilter.Gt != nil {
			q = q.Where(col+" > ?", *intFilter.Gt)
		}
		if intFilter.Lte != nil {
			q = q.Where(col+" <= ?", *intFilter.Lte)
		}
		if intFilter.Lt != nil {
			q = q.Where(col+" < ?", *intFilter.Lt)
		}
		if intFilter.Eq != nil {
			q = q.Where(col+" = ?", *intFilter.Eq)
		}
		if intFilter.Neq != nil {
			q = q.Where(col+" <> ?", *intFilter.Neq)
		}
	}

	if len(f.Verification) > 0 {
		levels := make([]string, 0, len(f.Verification))
		includeNull := false
		for _, level := range f.Verification {
			levels = append(levels, level)
			if level == types.VerificationUnverified {
				// Events with no verification tag count as unverified.
				includeNull = true
			}
		}
		if includeNull {
			q = q.Where("(verification_level IN ? OR verification_level IS NULL)", levels)
		} else {
			q = q.Where("verification_level IN ?", levels)
		}
	}

	if pos != nil {
		q = applyKeyset(q, sortCol, dir, pos)
	}

	cmp := "DESC"
	if dir == "asc" {
		cmp = "ASC"
	}
	if sortCol == "created_at" {
		q = q.Order(fmt.Sprintf("created_at %s, event_id ASC", cmp))
	} else {
		q = q.Order(fmt.Sprintf("%s %s, created_at %s, event_id ASC", sortCol, cmp, cmp))
	}

	limit := query.EffectiveLimit(f.Limit, caps)
	q = q.Limit(limit + 1)

	var rows []types.Video
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	page := &stores.VideoPage{}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if len(rows) == 0 {
		return page, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.EventID)
	}
	events, err := s.eventsByID(ids)
	if err != nil {
		return nil, err
	}
	page.Events = events

	last := rows[len(rows)-1]
	page.Last = &cursor.Position{
		SortField: sortField,
		SortDir:   dir,
		SortValue: videoSortValue(&last, sortCol),
		CreatedAt: last.CreatedAt,
		EventID:   last.EventID,
	}
	return page, nil
}

// applyKeyset adds the strict continuation predicate for the 3-tuple order
// (sort field, created_at, event_id). The created_at sort collapses the first
// two tuple members into one.
func applyKeyset(q *gorm.DB, sortCol, dir string, pos *cursor.Position) *gorm.DB {
	lt := "<"
	if dir == "asc" {
		lt = ">"
	}
	if sortCol == "created_at" {
		return q.Where(
			fmt.Sprintf("((created_at %s ?) OR (created_at = ? AND event_id > ?))", lt),
			pos.CreatedAt, pos.CreatedAt, pos.EventID)
	}
	return q.Where(
		fmt.Sprintf("((%s %s ?) OR (%s = ? AND created_at %s ?) OR (%s = ? AND created_at = ? AND event_id > ?))",
			sortCol, lt, sortCol, lt, sortCol),
		pos.SortValue,
		pos.SortValue, pos.CreatedAt,
		pos.SortValue, pos.CreatedAt, pos.EventID)
}

func videoSortValue(row *types.Video, sortCol string) int64 {
	switch sortCol {
	case "loop_count":
		return row.LoopCount
	case "likes":
		return row.Likes
	case "views":
		return row.Views
	case "comments":
		return row.Comments
	case "avg_completion":
		return row.AvgCompletion
	default:
		return row.CreatedAt
	}
}

// eventsByID loads full events for a list of ids, preserving the input order.
func (s *SqliteStore) eventsByID(ids []string) ([]*nostr.Event, error) {
	var rows []types.NostrEvent
	for _, chunk := range query.ChunkStrings(ids, query.MaxChunk) {
		var part []types.NostrEvent
		if err := s.DB.Where("id IN ?", chunk).Find(&part).Error; err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}

	byID := make(map[string]*types.NostrEvent, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	events := make([]*nostr.Event, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		event, err := rowToEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
