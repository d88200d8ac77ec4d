package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
)

// Reader serves queries out of the blob archive. It treats the store as
// read-only; only the worker writes.
type Reader struct {
	blobs BlobStore
}

func NewReader(blobs BlobStore) *Reader {
	return &Reader{blobs: blobs}
}

// GetEventByID fetches one archived event through the per-id blob. Returns
// nil when the archive has no such event.
func (r *Reader) GetEventByID(eventID string) (*nostr.Event, error) {
	data, found, err := r.blobs.Get(IDKey(eventID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var event nostr.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("corrupt archive blob for %s: %w", eventID, err)
	}
	return &event, nil
}

// Query runs a filter against the archive. Id filters resolve through the
// per-id blobs; everything else walks the manifest's hours newest first,
// reading the narrowest index that applies.
func (r *Reader) Query(f *query.Filter, limit int) ([]*nostr.Event, error) {
	if limit <= 0 {
		limit = 500
	}

	if len(f.IDs) > 0 {
		var events []*nostr.Event
		for _, id := range f.IDs {
			event, err := r.GetEventByID(id)
			if err != nil {
				return nil, err
			}
			if event != nil && f.MatchesEvent(event) {
				events = append(events, event)
			}
		}
		return events, nil
	}

	manifest, err := LoadManifest(r.blobs)
	if err != nil {
		return nil, err
	}

	var events []*nostr.Event
	hours := manifest.HoursWithEvents
	for i := len(hours) - 1; i >= 0 && len(events) < limit; i-- {
		hour := hours[i]
		if !hourInWindow(hour, f) {
			continue
		}

		key, ok := r.hourKey(manifest, f, hour)
		if !ok {
			continue
		}
		data, found, err := r.blobs.Get(key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var event nostr.Event
			if err := json.Unmarshal(line, &event); err != nil {
				logging.Warnf("Skipping corrupt archive line in %s: %v", key, err)
				continue
			}
			if f.MatchesEvent(&event) {
				e := event
				events = append(events, &e)
				if len(events) >= limit {
					break
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	return events, nil
}

// hourKey picks the narrowest blob covering the hour: a single-author or
// single-kind filter reads its index file, everything else reads the primary.
// Returns ok=false when the manifest proves the hour cannot match.
func (r *Reader) hourKey(manifest *Manifest, f *query.Filter, hour string) (string, bool) {
	if len(f.Authors) == 1 {
		if !containsSorted(manifest.Indices.Authors, f.Authors[0]) {
			return "", false
		}
		return fmt.Sprintf("index/author/%s/%s.jsonl", f.Authors[0], hour), true
	}
	if len(f.Kinds) == 1 {
		if !containsSorted(manifest.Indices.Kinds, strconv.Itoa(f.Kinds[0])) {
			return "", false
		}
		return fmt.Sprintf("index/kind/%d/%s.jsonl", f.Kinds[0], hour), true
	}
	return fmt.Sprintf("events/%s.jsonl", hour), true
}

// hourInWindow reports whether the hour bucket overlaps the filter's
// since/until window.
func hourInWindow(hour string, f *query.Filter) bool {
	start, err := time.Parse(hourLayout, hour)
	if err != nil {
		return true
	}
	startUnix := start.Unix()
	endUnix := startUnix + 3599

	if f.Since != nil && endUnix < int64(*f.Since) {
		return false
	}
	if f.Until != nil && startUnix > int64(*f.Until) {
		return false
	}
	return true
}
