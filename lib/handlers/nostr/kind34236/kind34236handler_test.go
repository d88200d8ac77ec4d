package kind34236

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/config"
	"github.com/rabble/nosflare-sub000/lib/stores/sqlite"
)

type recorder struct {
	frames [][]interface{}
}

func (r *recorder) write(messageType string, params ...interface{}) {
	r.frames = append(r.frames, append([]interface{}{messageType}, params...))
}

func (r *recorder) okFrame(t *testing.T) (bool, string) {
	t.Helper()
	for _, frame := range r.frames {
		if frame[0] == "OK" {
			require.Len(t, frame, 4)
			return frame[2].(bool), frame[3].(string)
		}
	}
	t.Fatal("no OK frame written")
	return false, ""
}

func runHandler(t *testing.T, store *sqlite.SqliteStore, event nostr.Event) *recorder {
	t.Helper()
	env := nostr.EventEnvelope{Event: event}
	data, err := json.Marshal(&env)
	require.NoError(t, err)

	rec := &recorder{}
	handler := BuildKind34236Handler(store)
	handler(func() ([]byte, error) { return data, nil }, rec.write)
	return rec
}

func newStore(t *testing.T) *sqlite.SqliteStore {
	t.Helper()
	config.SetConfig(&config.Config{})
	store, err := sqlite.InitStore(t.TempDir(), types.RelaySettings{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVideoEventStoredWithProjection(t *testing.T) {
	store := newStore(t)

	event := nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   "clip",
		Tags:      nostr.Tags{{"d", "clip-1"}, {"loops", "12"}, {"t", "skate"}},
	}
	require.NoError(t, event.Sign(nostr.GeneratePrivateKey()))

	rec := runHandler(t, store, event)
	ok, reason := rec.okFrame(t)
	assert.True(t, ok)
	assert.Empty(t, reason)

	var row types.Video
	require.NoError(t, store.DB.Where("event_id = ?", event.ID).First(&row).Error)
	assert.Equal(t, int64(12), row.LoopCount)
}

func TestVideoEventRequiresDTag(t *testing.T) {
	store := newStore(t)

	event := nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   "clip",
		Tags:      nostr.Tags{{"loops", "12"}},
	}
	require.NoError(t, event.Sign(nostr.GeneratePrivateKey()))

	rec := runHandler(t, store, event)
	ok, reason := rec.okFrame(t)
	assert.False(t, ok)
	assert.Equal(t, "invalid: video events require a d tag", reason)

	has, err := store.HasEvent(event.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestVideoMetricUpdateReplacesOlder(t *testing.T) {
	store := newStore(t)
	sk := nostr.GeneratePrivateKey()
	now := time.Now().Unix()

	v1 := nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(now - 60),
		Content:   "clip",
		Tags:      nostr.Tags{{"d", "clip-1"}, {"likes", "10"}},
	}
	require.NoError(t, v1.Sign(sk))
	v2 := nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(now),
		Content:   "clip",
		Tags:      nostr.Tags{{"d", "clip-1"}, {"likes", "25"}},
	}
	require.NoError(t, v2.Sign(sk))

	rec := runHandler(t, store, v1)
	ok, _ := rec.okFrame(t)
	require.True(t, ok)

	rec2 := runHandler(t, store, v2)
	ok, _ = rec2.okFrame(t)
	require.True(t, ok)

	has, err := store.HasEvent(v1.ID)
	require.NoError(t, err)
	assert.False(t, has, "metric update replaces the older address event")

	var row types.Video
	require.NoError(t, store.DB.Where("event_id = ?", v2.ID).First(&row).Error)
	assert.Equal(t, int64(25), row.Likes)
}

func TestVideoRejectsOlderMetricUpdate(t *testing.T) {
	store := newStore(t)
	sk := nostr.GeneratePrivateKey()
	now := time.Now().Unix()

	current := nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(now),
		Content:   "clip",
		Tags:      nostr.Tags{{"d", "clip-1"}, {"likes", "25"}},
	}
	require.NoError(t, current.Sign(sk))
	stale := nostr.Event{
		Kind:      types.VideosKind,
		CreatedAt: nostr.Timestamp(now - 600),
		Content:   "clip",
		Tags:      nostr.Tags{{"d", "clip-1"}, {"likes", "10"}},
	}
	require.NoError(t, stale.Sign(sk))

	rec := runHandler(t, store, current)
	ok, _ := rec.okFrame(t)
	require.True(t, ok)

	rec2 := runHandler(t, store, stale)
	ok, reason := rec2.okFrame(t)
	assert.False(t, ok)
	assert.Equal(t, "duplicate: newer event already exists", reason)
}
