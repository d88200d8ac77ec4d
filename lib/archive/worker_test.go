package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores/sqlite"
)

func newArchiveFixture(t *testing.T, settings types.ArchiveSettings) (*sqlite.SqliteStore, *MemoryBlobStore, *Worker) {
	t.Helper()
	store, err := sqlite.InitStore(t.TempDir(), types.RelaySettings{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs := NewMemoryBlobStore()
	return store, blobs, NewWorker(store, blobs, settings)
}

func storedEvent(t *testing.T, store *sqlite.SqliteStore, sk string, createdAt int64, content string, tags nostr.Tags) *nostr.Event {
	t.Helper()
	event := &nostr.Event{
		Kind:      1,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   content,
		Tags:      tags,
	}
	require.NoError(t, event.Sign(sk))
	require.NoError(t, store.StoreEvent(event))
	return event
}

func TestRunOnceMovesOldEventsToArchive(t *testing.T) {
	// Retention 0 puts the cutoff at now, so everything stored in the past
	// is eligible.
	store, blobs, worker := newArchiveFixture(t, types.ArchiveSettings{RetentionDays: 0, BatchSize: 2})
	sk := nostr.GeneratePrivateKey()

	old := time.Now().Add(-48 * time.Hour).Unix()
	var archived []*nostr.Event
	for i := 0; i < 5; i++ {
		archived = append(archived, storedEvent(t, store, sk, old+int64(i), fmt.Sprintf("old note %d", i), nostr.Tags{{"t", "memories"}}))
	}

	require.NoError(t, worker.RunOnce(context.Background()))

	// Hot store is drained.
	for _, event := range archived {
		has, err := store.HasEvent(event.ID)
		require.NoError(t, err)
		assert.False(t, has)
	}

	// Every event is retrievable through the per-id blob.
	reader := NewReader(blobs)
	for _, event := range archived {
		got, err := reader.GetEventByID(event.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, event.Content, got.Content)
		assert.Equal(t, event.Sig, got.Sig)
	}

	manifest, err := LoadManifest(blobs)
	require.NoError(t, err)
	assert.Equal(t, int64(5), manifest.TotalEvents)
	assert.Contains(t, manifest.Indices.Authors, archived[0].PubKey)
	assert.Contains(t, manifest.Indices.Kinds, "1")
	require.Contains(t, manifest.Indices.Tags, "t")
	assert.Contains(t, manifest.Indices.Tags["t"], "memories")
	assert.NotEmpty(t, manifest.HoursWithEvents)
}

func TestRunOnceLeavesFreshEventsAlone(t *testing.T) {
	store, _, worker := newArchiveFixture(t, types.ArchiveSettings{RetentionDays: 90})
	sk := nostr.GeneratePrivateKey()

	fresh := storedEvent(t, store, sk, time.Now().Unix(), "fresh note", nil)

	require.NoError(t, worker.RunOnce(context.Background()))

	has, err := store.HasEvent(fresh.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestHourlyJSONLGrouping(t *testing.T) {
	store, blobs, worker := newArchiveFixture(t, types.ArchiveSettings{RetentionDays: 0})
	sk := nostr.GeneratePrivateKey()

	ts := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC).Unix()
	event := storedEvent(t, store, sk, ts, "hour bucketed", nil)

	require.NoError(t, worker.RunOnce(context.Background()))

	data, found, err := blobs.Get("events/2024-03-10/14.jsonl")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(data), event.ID)

	data, found, err = blobs.Get(fmt.Sprintf("index/author/%s/2024-03-10/14.jsonl", event.PubKey))
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(data), event.ID)

	data, found, err = blobs.Get("index/kind/1/2024-03-10/14.jsonl")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(data), event.ID)
}

func TestAppendJSONLGrows(t *testing.T) {
	store, blobs, worker := newArchiveFixture(t, types.ArchiveSettings{RetentionDays: 0})
	sk := nostr.GeneratePrivateKey()

	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC).Unix()
	first := storedEvent(t, store, sk, ts, "first", nil)
	require.NoError(t, worker.RunOnce(context.Background()))

	second := storedEvent(t, store, sk, ts+60, "second", nil)
	require.NoError(t, worker.RunOnce(context.Background()))

	data, found, err := blobs.Get("events/2024-03-10/14.jsonl")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, string(data), first.ID)
	assert.Contains(t, string(data), second.ID)
}

func TestReaderQueryByAuthorAndWindow(t *testing.T) {
	store, blobs, worker := newArchiveFixture(t, types.ArchiveSettings{RetentionDays: 0})
	skA := nostr.GeneratePrivateKey()
	skB := nostr.GeneratePrivateKey()

	ts := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC).Unix()
	mine := storedEvent(t, store, skA, ts, "mine", nil)
	other := storedEvent(t, store, skB, ts+1, "other author", nil)

	require.NoError(t, worker.RunOnce(context.Background()))

	reader := NewReader(blobs)

	f := &query.Filter{}
	f.Authors = []string{mine.PubKey}
	events, err := reader.Query(f, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, mine.ID, events[0].ID)

	// A window that excludes the archived hour returns nothing.
	since := nostr.Timestamp(ts + 7200)
	f2 := &query.Filter{}
	f2.Since = &since
	events, err = reader.Query(f2, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Unknown author short-circuits via the manifest.
	f3 := &query.Filter{}
	f3.Authors = []string{"0000000000000000000000000000000000000000000000000000000000000000"}
	events, err = reader.Query(f3, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	// The other author reads through their own index file.
	f4 := &query.Filter{}
	f4.Authors = []string{other.PubKey}
	events, err = reader.Query(f4, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, other.ID, events[0].ID)
}

func TestReaderQueryByIDs(t *testing.T) {
	store, blobs, worker := newArchiveFixture(t, types.ArchiveSettings{RetentionDays: 0})
	sk := nostr.GeneratePrivateKey()

	event := storedEvent(t, store, sk, time.Now().Add(-24*time.Hour).Unix(), "direct lookup", nil)
	require.NoError(t, worker.RunOnce(context.Background()))

	reader := NewReader(blobs)
	f := &query.Filter{}
	f.IDs = []string{event.ID, "unknownid"}
	events, err := reader.Query(f, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)

	missing, err := reader.GetEventByID("unknownid")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
