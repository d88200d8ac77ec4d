package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/archive"
	"github.com/rabble/nosflare-sub000/lib/cursor"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores/sqlite"
)

type recorder struct {
	frames [][]interface{}
}

func (r *recorder) write(messageType string, params ...interface{}) {
	r.frames = append(r.frames, append([]interface{}{messageType}, params...))
}

func (r *recorder) eventIDs() []string {
	var ids []string
	for _, frame := range r.frames {
		if frame[0] == "EVENT" {
			ids = append(ids, frame[2].(*nostr.Event).ID)
		}
	}
	return ids
}

func (r *recorder) closedReason() (string, bool) {
	for _, frame := range r.frames {
		if frame[0] == "CLOSED" {
			return frame[2].(string), true
		}
	}
	return "", false
}

func (r *recorder) hasEOSE() bool {
	for _, frame := range r.frames {
		if frame[0] == "EOSE" {
			return true
		}
	}
	return false
}

func (r *recorder) vcursor(t *testing.T) (string, bool) {
	t.Helper()
	eoseSeen := false
	for _, frame := range r.frames {
		if frame[0] == "EOSE" {
			eoseSeen = true
		}
		if frame[0] == "NOTICE" && len(frame) >= 3 && frame[1] == "VCURSOR" {
			require.True(t, eoseSeen, "VCURSOR notices must follow EOSE")
			return frame[2].(vcursorNotice).Cursor, true
		}
	}
	return "", false
}

func newExecutor(t *testing.T) (*Executor, *sqlite.SqliteStore) {
	t.Helper()
	store, err := sqlite.InitStore(t.TempDir(), types.RelaySettings{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exec := &Executor{
		Store:  store,
		Cursor: cursor.NewCodec("test-secret", ""),
		Caps:   query.CapsFromSettings(types.QuerySettings{}),
	}
	return exec, store
}

func storeVideo(t *testing.T, store *sqlite.SqliteStore, d string, createdAt int64, tags nostr.Tags) *nostr.Event {
	t.Helper()
	event := &nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   "a video",
		Tags:      append(nostr.Tags{{"d", d}}, tags...),
	}
	require.NoError(t, event.Sign(nostr.GeneratePrivateKey()))
	require.NoError(t, store.StoreEvent(event))
	return event
}

func rawFilters(raws ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		out = append(out, json.RawMessage(raw))
	}
	return out
}

func TestHandleStreamsEventsThenEOSE(t *testing.T) {
	exec, store := newExecutor(t)
	event := &nostr.Event{Kind: 1, CreatedAt: 1000, Content: "hello"}
	require.NoError(t, event.Sign(nostr.GeneratePrivateKey()))
	require.NoError(t, store.StoreEvent(event))

	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(`{"kinds":[1]}`)}, rec.write)

	assert.Equal(t, []string{event.ID}, rec.eventIDs())
	assert.True(t, rec.hasEOSE())
	_, hasCursor := rec.vcursor(t)
	assert.False(t, hasCursor)
}

func TestHandleRejectsMalformedFilter(t *testing.T) {
	exec, _ := newExecutor(t)

	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(`{"sort":"nope"}`)}, rec.write)

	reason, closed := rec.closedReason()
	require.True(t, closed)
	assert.Equal(t, "invalid: malformed filter", reason)
	assert.False(t, rec.hasEOSE())
}

func TestHandleRejectsInvalidFilter(t *testing.T) {
	exec, _ := newExecutor(t)

	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(`{"kinds":[1],"int#likes":{"gte":1}}`)}, rec.write)

	reason, closed := rec.closedReason()
	require.True(t, closed)
	assert.Equal(t, "invalid: vendor extensions require kinds to include 34236", reason)
}

func TestHandleDedupsAcrossFilters(t *testing.T) {
	exec, store := newExecutor(t)
	event := &nostr.Event{Kind: 1, CreatedAt: 1000, Content: "hello"}
	require.NoError(t, event.Sign(nostr.GeneratePrivateKey()))
	require.NoError(t, store.StoreEvent(event))

	rec := &recorder{}
	exec.Handle(ReqPayload{
		SubscriptionID: "sub1",
		Filters:        rawFilters(`{"kinds":[1]}`, fmt.Sprintf(`{"authors":["%s"]}`, event.PubKey)),
	}, rec.write)

	assert.Equal(t, []string{event.ID}, rec.eventIDs(), "both filters match, the event streams once")
}

func TestProjectionPagination(t *testing.T) {
	exec, store := newExecutor(t)

	v1 := storeVideo(t, store, "a", 10, nostr.Tags{{"loops", "100"}})
	v2 := storeVideo(t, store, "b", 5, nostr.Tags{{"loops", "200"}})
	v3 := storeVideo(t, store, "c", 7, nostr.Tags{{"loops", "200"}})

	first := `{"kinds":[34236],"sort":{"field":"loop_count"},"limit":2}`
	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(first)}, rec.write)

	assert.Equal(t, []string{v3.ID, v2.ID}, rec.eventIDs())
	token, hasCursor := rec.vcursor(t)
	require.True(t, hasCursor)

	// Continuation carries the cursor inside the same filter shape.
	second := fmt.Sprintf(`{"kinds":[34236],"sort":{"field":"loop_count"},"limit":2,"cursor":"%s"}`, token)
	rec2 := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub2", Filters: rawFilters(second)}, rec2.write)

	assert.Equal(t, []string{v1.ID}, rec2.eventIDs())
	_, hasCursor = rec2.vcursor(t)
	assert.False(t, hasCursor, "final page mints no cursor")
}

func TestCursorBoundToOriginalQuery(t *testing.T) {
	exec, store := newExecutor(t)

	for i, loops := range []string{"100", "200", "300"} {
		storeVideo(t, store, fmt.Sprintf("v%d", i), int64(10+i), nostr.Tags{{"loops", loops}})
	}

	rec := &recorder{}
	exec.Handle(ReqPayload{
		SubscriptionID: "sub1",
		Filters:        rawFilters(`{"kinds":[34236],"sort":{"field":"loop_count"},"limit":2}`),
	}, rec.write)
	token, hasCursor := rec.vcursor(t)
	require.True(t, hasCursor)

	// Same cursor replayed under a different sort must be rejected.
	rebound := fmt.Sprintf(`{"kinds":[34236],"sort":{"field":"likes"},"limit":2,"cursor":"%s"}`, token)
	rec2 := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub2", Filters: rawFilters(rebound)}, rec2.write)

	reason, closed := rec2.closedReason()
	require.True(t, closed)
	assert.Equal(t, "invalid: cursor query mismatch", reason)
	assert.Empty(t, rec2.eventIDs(), "no events leak before the CLOSED")
}

func TestTamperedCursorRejected(t *testing.T) {
	exec, store := newExecutor(t)
	storeVideo(t, store, "v", 10, nostr.Tags{{"loops", "100"}})

	raw := `{"kinds":[34236],"sort":{"field":"loop_count"},"cursor":"bm90LWEtcmVhbC1jdXJzb3I="}`
	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(raw)}, rec.write)

	reason, closed := rec.closedReason()
	require.True(t, closed)
	assert.Equal(t, "invalid: cursor tampering detected", reason)
}

func TestSearchFilterRoutesToFTS(t *testing.T) {
	exec, store := newExecutor(t)

	hit := &nostr.Event{Kind: 1, CreatedAt: 1000, Content: "skateboarding clips"}
	require.NoError(t, hit.Sign(nostr.GeneratePrivateKey()))
	require.NoError(t, store.StoreEvent(hit))

	miss := &nostr.Event{Kind: 1, CreatedAt: 1001, Content: "cooking show"}
	require.NoError(t, miss.Sign(nostr.GeneratePrivateKey()))
	require.NoError(t, store.StoreEvent(miss))

	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(`{"search":"skateboarding"}`)}, rec.write)

	assert.Equal(t, []string{hit.ID}, rec.eventIDs())
	assert.True(t, rec.hasEOSE())
}

func TestGenericFilterMergesArchive(t *testing.T) {
	exec, store := newExecutor(t)

	blobs := archive.NewMemoryBlobStore()
	worker := archive.NewWorker(store, blobs, types.ArchiveSettings{RetentionDays: 0})
	exec.Archive = archive.NewReader(blobs)
	cutoff := time.Now().Unix()
	exec.ArchiveCutoff = func() int64 { return cutoff }

	sk := nostr.GeneratePrivateKey()
	old := &nostr.Event{Kind: 1, CreatedAt: nostr.Timestamp(time.Now().Add(-48 * time.Hour).Unix()), Content: "archived"}
	require.NoError(t, old.Sign(sk))
	require.NoError(t, store.StoreEvent(old))
	require.NoError(t, worker.RunOnce(context.Background()))

	fresh := &nostr.Event{Kind: 1, CreatedAt: nostr.Timestamp(time.Now().Unix()), Content: "hot"}
	require.NoError(t, fresh.Sign(sk))
	require.NoError(t, store.StoreEvent(fresh))

	raw := fmt.Sprintf(`{"authors":["%s"],"since":%d}`, old.PubKey, int64(old.CreatedAt)-10)
	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(raw)}, rec.write)

	assert.Equal(t, []string{fresh.ID, old.ID}, rec.eventIDs(), "hot first, archive merged behind it")
}

func TestExpiredEventsNotServed(t *testing.T) {
	exec, store := newExecutor(t)

	event := &nostr.Event{
		Kind:      1,
		CreatedAt: 1000,
		Content:   "stale",
		Tags:      nostr.Tags{{"expiration", "2000"}},
	}
	require.NoError(t, event.Sign(nostr.GeneratePrivateKey()))
	require.NoError(t, store.StoreEvent(event))

	rec := &recorder{}
	exec.Handle(ReqPayload{SubscriptionID: "sub1", Filters: rawFilters(`{"kinds":[1]}`)}, rec.write)

	assert.Empty(t, rec.eventIDs())
	assert.True(t, rec.hasEOSE())
}
