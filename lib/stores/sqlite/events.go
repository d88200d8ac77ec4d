package sqlite

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// tagBatchSize caps one bulk tag-row insert; the storage layer rejects
// larger parameter lists.
const tagBatchSize = 50

// deleteChunkSize bounds one archival delete statement.
const deleteChunkSize = 100

func rowToEvent(row *types.NostrEvent) (*nostr.Event, error) {
	var tags nostr.Tags
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return nil, fmt.Errorf("corrupt tag json for event %s: %w", row.ID, err)
		}
	}
	return &nostr.Event{
		ID:        row.ID,
		PubKey:    row.Pubkey,
		CreatedAt: nostr.Timestamp(row.CreatedAt),
		Kind:      row.Kind,
		Tags:      tags,
		Content:   row.Content,
		Sig:       row.Sig,
	}, nil
}

func eventToRow(event *nostr.Event) (*types.NostrEvent, error) {
	tagJSON, err := json.Marshal(event.Tags)
	if err != nil {
		return nil, err
	}
	return &types.NostrEvent{
		ID:        event.ID,
		Pubkey:    event.PubKey,
		CreatedAt: int64(event.CreatedAt),
		Kind:      event.Kind,
		Tags:      string(tagJSON),
		Content:   event.Content,
		Sig:       event.Sig,
	}, nil
}

// ContentHashFor computes the anti-spam dedup hash: SHA-256 over
// {kind,tags,content}, or {pubkey,kind,tags,content} when scoped per pubkey.
func ContentHashFor(event *nostr.Event, perPubkey bool) string {
	var parts []interface{}
	if perPubkey {
		parts = []interface{}{event.PubKey, event.Kind, event.Tags, event.Content}
	} else {
		parts = []interface{}{event.Kind, event.Tags, event.Content}
	}
	serialized, _ := json.Marshal(parts)
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

func (s *SqliteStore) isAntiSpamKind(kind int) bool {
	for _, k := range s.settings.AntiSpamKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func firstTagValue(event *nostr.Event, name string) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// StoreEvent runs the full insert path in one transaction: duplicate check,
// anti-spam hash, replaceable-event replacement, then the event row, its tag
// rows, the cached common-tag row and the projection/search updates.
func (s *SqliteStore) StoreEvent(event *nostr.Event) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&types.NostrEvent{}).Where("id = ?", event.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return stores.ErrDuplicate
		}

		antiSpam := s.isAntiSpamKind(event.Kind)
		var contentHash string
		if antiSpam {
			contentHash = ContentHashFor(event, s.settings.AntiSpamPerPubkey)
			if err := tx.Model(&types.ContentHash{}).Where("hash = ?", contentHash).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return stores.ErrDuplicateContent
			}
		}

		switch stores.ClassifyKind(event.Kind) {
		case stores.KindRegularReplaceable:
			if err := s.replaceOlder(tx, event, false); err != nil {
				return err
			}
		case stores.KindParameterizedReplaceable:
			if err := s.replaceOlder(tx, event, true); err != nil {
				return err
			}
		}

		row, err := eventToRow(event)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		if err := insertTagRows(tx, event); err != nil {
			return err
		}

		cached := types.CachedTag{
			EventID:   event.ID,
			Pubkey:    event.PubKey,
			Kind:      event.Kind,
			CreatedAt: int64(event.CreatedAt),
			PTag:      firstTagValue(event, "p"),
			ETag:      firstTagValue(event, "e"),
			ATag:      firstTagValue(event, "a"),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&cached).Error; err != nil {
			return err
		}

		if antiSpam {
			hashRow := types.ContentHash{
				Hash:      contentHash,
				EventID:   event.ID,
				Pubkey:    event.PubKey,
				Kind:      event.Kind,
				CreatedAt: int64(event.CreatedAt),
			}
			if err := tx.Create(&hashRow).Error; err != nil {
				return err
			}
		}

		if event.Kind == types.VideosKind {
			if err := upsertVideo(tx, event); err != nil {
				return err
			}
		}

		return updateSearchIndex(tx, event)
	})
}

// insertTagRows bulk-inserts one row per (tag name, value) pair, every value
// position i>=1, chunked to the storage batch limit.
func insertTagRows(tx *gorm.DB, event *nostr.Event) error {
	var rows []types.EventTag
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		for _, value := range tag[1:] {
			rows = append(rows, types.EventTag{
				EventID:  event.ID,
				TagName:  tag[0],
				TagValue: value,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, tagBatchSize).Error
}

// replaceOlder enforces replaceable-event semantics: the pubkey's newest
// stored event of this kind (and d-tag, when parameterized) either rejects
// the newcomer as duplicate-of-newer or is deleted along with any older
// siblings.
func (s *SqliteStore) replaceOlder(tx *gorm.DB, event *nostr.Event, matchDTag bool) error {
	var rows []types.NostrEvent
	if err := tx.Where("pubkey = ? AND kind = ?", event.PubKey, event.Kind).
		Order("created_at DESC").Find(&rows).Error; err != nil {
		return err
	}

	if matchDTag {
		dValue := firstTagValue(event, "d")
		filtered := rows[:0]
		for _, row := range rows {
			existing, err := rowToEvent(&row)
			if err != nil {
				continue
			}
			if firstTagValue(existing, "d") == dValue {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if len(rows) == 0 {
		return nil
	}

	if rows[0].CreatedAt > int64(event.CreatedAt) {
		return stores.ErrDuplicateNewer
	}

	for _, row := range rows {
		if err := deleteEventTx(tx, row.ID); err != nil {
			return err
		}
	}
	return nil
}

// deleteEventTx removes an event and every dependent row: tags, cached tag,
// content hash, the video projection with its junctions, and search rows.
func deleteEventTx(tx *gorm.DB, eventID string) error {
	var row types.NostrEvent
	err := tx.Where("id = ?", eventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := tx.Where("event_id = ?", eventID).Delete(&types.EventTag{}).Error; err != nil {
		return err
	}
	if err := tx.Where("event_id = ?", eventID).Delete(&types.CachedTag{}).Error; err != nil {
		return err
	}
	if err := tx.Where("event_id = ?", eventID).Delete(&types.ContentHash{}).Error; err != nil {
		return err
	}

	if row.Kind == types.VideosKind {
		if err := deleteVideoTx(tx, eventID); err != nil {
			return err
		}
	}
	if err := deleteSearchRows(tx, eventID); err != nil {
		return err
	}

	return tx.Where("id = ?", eventID).Delete(&types.NostrEvent{}).Error
}

// DeleteEvent removes a single event and its dependent rows atomically.
func (s *SqliteStore) DeleteEvent(eventID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		return deleteEventTx(tx, eventID)
	})
}

// HasEvent reports whether an event id is stored.
func (s *SqliteStore) HasEvent(eventID string) (bool, error) {
	var count int64
	if err := s.DB.Model(&types.NostrEvent{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetEventAuthor returns the stored event's pubkey, for deletion
// authorization.
func (s *SqliteStore) GetEventAuthor(eventID string) (string, error) {
	var row types.NostrEvent
	err := s.DB.Select("pubkey").Where("id = ?", eventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", stores.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Pubkey, nil
}

// EventsOlderThan returns up to limit events older than the cutoff, oldest
// first, for the archival worker.
func (s *SqliteStore) EventsOlderThan(cutoff int64, limit int) ([]*nostr.Event, error) {
	var rows []types.NostrEvent
	if err := s.DB.Where("created_at < ?", cutoff).
		Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]*nostr.Event, 0, len(rows))
	for i := range rows {
		event, err := rowToEvent(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// DeleteEventsBatch removes archived events from the hot store in chunks.
func (s *SqliteStore) DeleteEventsBatch(eventIDs []string) error {
	for _, chunk := range query.ChunkStrings(eventIDs, deleteChunkSize) {
		chunk := chunk
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			for _, id := range chunk {
				if err := deleteEventTx(tx, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
