package archive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// hourLayout keys archive blobs by UTC hour.
const hourLayout = "2006-01-02/15"

// Worker moves events past the retention cutoff from the hot store into the
// blob archive: one primary hourly JSONL, secondary per-author/kind/tag
// JSONLs, and a per-id blob for direct lookups.
type Worker struct {
	store    stores.Store
	blobs    BlobStore
	settings types.ArchiveSettings
}

func NewWorker(store stores.Store, blobs BlobStore, settings types.ArchiveSettings) *Worker {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 500
	}
	if settings.IntervalMins <= 0 {
		settings.IntervalMins = 60
	}
	return &Worker{store: store, blobs: blobs, settings: settings}
}

// Cutoff returns the archival threshold: events strictly older move out of
// the hot store.
func (w *Worker) Cutoff(now time.Time) int64 {
	return now.Add(-time.Duration(w.settings.RetentionDays) * 24 * time.Hour).Unix()
}

// Run executes archival passes on the configured interval until the context
// is cancelled. Errors are logged and retried on the next tick; live traffic
// is never affected.
func (w *Worker) Run(ctx context.Context) {
	interval := time.Duration(w.settings.IntervalMins) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Infof("Archive worker started (retention %dd, every %s)", w.settings.RetentionDays, interval)
	for {
		select {
		case <-ctx.Done():
			logging.Info("Archive worker stopped")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				logging.Errorf("Archive pass failed: %v", err)
			}
		}
	}
}

// RunOnce drains every batch past the cutoff. Cancellation is honored between
// batches; a partially archived batch whose hot rows were not yet deleted is
// simply re-archived next run.
func (w *Worker) RunOnce(ctx context.Context) error {
	manifest, err := LoadManifest(w.blobs)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	cutoff := w.Cutoff(time.Now())
	for {
		if ctx.Err() != nil {
			return nil
		}

		events, err := w.store.EventsOlderThan(cutoff, w.settings.BatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		if err := w.archiveBatch(manifest, events); err != nil {
			return err
		}

		ids := make([]string, 0, len(events))
		for _, event := range events {
			ids = append(ids, event.ID)
		}
		if err := w.store.DeleteEventsBatch(ids); err != nil {
			return err
		}

		if err := manifest.Save(w.blobs); err != nil {
			return err
		}
		logging.Infof("Archived %d events (cutoff %d)", len(events), cutoff)
	}
}

// archiveBatch writes every blob for one batch: the grouped JSONLs, the
// per-id lookups, and the manifest set updates (persisted by the caller
// after the hot-store delete).
func (w *Worker) archiveBatch(manifest *Manifest, events []*nostr.Event) error {
	byHour := make(map[string][]*nostr.Event)
	byAuthor := make(map[string][]*nostr.Event)
	byKind := make(map[string][]*nostr.Event)
	byTag := make(map[string][]*nostr.Event)

	for _, event := range events {
		hour := time.Unix(int64(event.CreatedAt), 0).UTC().Format(hourLayout)
		byHour[hour] = append(byHour[hour], event)

		authorKey := fmt.Sprintf("index/author/%s/%s.jsonl", event.PubKey, hour)
		byAuthor[authorKey] = append(byAuthor[authorKey], event)
		kindKey := fmt.Sprintf("index/kind/%d/%s.jsonl", event.Kind, hour)
		byKind[kindKey] = append(byKind[kindKey], event)
		for _, tag := range event.Tags {
			if len(tag) < 2 || tag[0] == "" || tag[1] == "" {
				continue
			}
			key := fmt.Sprintf("index/tag/%s/%s/%s.jsonl", tag[0], tag[1], hour)
			byTag[key] = append(byTag[key], event)
		}

		manifest.AddHour(hour)
		manifest.AddAuthor(event.PubKey)
		manifest.AddKind(strconv.Itoa(event.Kind))
		for _, tag := range event.Tags {
			if len(tag) >= 2 && tag[0] != "" && tag[1] != "" {
				manifest.AddTag(tag[0], tag[1])
			}
		}
	}

	for hour, group := range byHour {
		if err := w.appendJSONL(fmt.Sprintf("events/%s.jsonl", hour), group); err != nil {
			return err
		}
	}
	for _, groups := range []map[string][]*nostr.Event{byAuthor, byKind, byTag} {
		for key, group := range groups {
			if err := w.appendJSONL(key, group); err != nil {
				return err
			}
		}
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := w.blobs.Put(IDKey(event.ID), data); err != nil {
			return err
		}
	}

	manifest.TotalEvents += int64(len(events))
	return nil
}

// appendJSONL is the read-modify-write append: JSONL blobs only ever grow.
func (w *Worker) appendJSONL(key string, events []*nostr.Event) error {
	existing, _, err := w.blobs.Get(key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(existing)
	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return w.blobs.Put(key, buf.Bytes())
}

// IDKey is the per-event blob key, sharded on the id's first byte.
func IDKey(eventID string) string {
	prefix := eventID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("index/id/%s/%s.json", prefix, eventID)
}
