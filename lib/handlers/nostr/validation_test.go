package nostr

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/config"
	"github.com/rabble/nosflare-sub000/lib/stores/sqlite"
)

// frameRecorder captures the frames a handler writes.
type frameRecorder struct {
	frames [][]interface{}
}

func (r *frameRecorder) write(messageType string, params ...interface{}) {
	r.frames = append(r.frames, append([]interface{}{messageType}, params...))
}

// okReason returns the reason string of the first OK frame.
func (r *frameRecorder) okReason(t *testing.T) (bool, string) {
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

func setTestConfig(settings types.RelaySettings, payment types.PaymentSettings) {
	config.SetConfig(&config.Config{
		RelaySettings: settings,
		Payment:       payment,
		RateLimit:     types.RateLimitSettings{},
	})
}

func validationStore(t *testing.T) *sqlite.SqliteStore {
	t.Helper()
	store, err := sqlite.InitStore(t.TempDir(), types.RelaySettings{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func signedEnvelope(t *testing.T, sk string, kind int, createdAt int64, content string, tags nostr.Tags) nostr.EventEnvelope {
	t.Helper()
	event := nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Timestamp(createdAt),
		Content:   content,
		Tags:      tags,
	}
	require.NoError(t, event.Sign(sk))
	return nostr.EventEnvelope{Event: event}
}

func TestValidateEventAcceptsGoodEvent(t *testing.T) {
	setTestConfig(types.RelaySettings{}, types.PaymentSettings{})
	ResetLimiters()
	store := validationStore(t)

	env := signedEnvelope(t, nostr.GeneratePrivateKey(), 1, time.Now().Unix(), "hello", nil)
	rec := &frameRecorder{}

	assert.True(t, ValidateEvent(rec.write, env, -1, store))
	assert.Empty(t, rec.frames, "a passing event writes nothing")
}

func TestValidateEventKindMismatch(t *testing.T) {
	setTestConfig(types.RelaySettings{}, types.PaymentSettings{})
	ResetLimiters()
	store := validationStore(t)

	env := signedEnvelope(t, nostr.GeneratePrivateKey(), 1, time.Now().Unix(), "hello", nil)
	rec := &frameRecorder{}

	assert.False(t, ValidateEvent(rec.write, env, 5, store))
	ok, reason := rec.okReason(t)
	assert.False(t, ok)
	assert.Equal(t, "invalid: event kind 1 does not match handler", reason)
}

func TestValidateEventBadSignature(t *testing.T) {
	setTestConfig(types.RelaySettings{}, types.PaymentSettings{})
	ResetLimiters()
	store := validationStore(t)

	env := signedEnvelope(t, nostr.GeneratePrivateKey(), 1, time.Now().Unix(), "hello", nil)
	env.Event.Content = "tampered after signing"
	rec := &frameRecorder{}

	assert.False(t, ValidateEvent(rec.write, env, -1, store))
	ok, reason := rec.okReason(t)
	assert.False(t, ok)
	assert.Equal(t, "invalid: bad signature", reason)
}

func TestValidateEventFutureTimestamp(t *testing.T) {
	setTestConfig(types.RelaySettings{}, types.PaymentSettings{})
	ResetLimiters()
	store := validationStore(t)

	env := signedEnvelope(t, nostr.GeneratePrivateKey(), 1, time.Now().Add(time.Hour).Unix(), "from the future", nil)
	rec := &frameRecorder{}

	assert.False(t, ValidateEvent(rec.write, env, -1, store))
	ok, reason := rec.okReason(t)
	assert.False(t, ok)
	assert.Contains(t, reason, "invalid: event creation date is too far in the future")
}

func TestValidateEventExpired(t *testing.T) {
	setTestConfig(types.RelaySettings{}, types.PaymentSettings{})
	ResetLimiters()
	store := validationStore(t)

	past := time.Now().Add(-time.Hour).Unix()
	env := signedEnvelope(t, nostr.GeneratePrivateKey(), 1, past, "short lived",
		nostr.Tags{{"expiration", "1000"}})
	rec := &frameRecorder{}

	assert.False(t, ValidateEvent(rec.write, env, -1, store))
	ok, reason := rec.okReason(t)
	assert.False(t, ok)
	assert.Equal(t, "invalid: event has expired", reason)
}

func TestValidateEventPolicyLists(t *testing.T) {
	store := validationStore(t)
	sk := nostr.GeneratePrivateKey()
	env := signedEnvelope(t, sk, 1, time.Now().Unix(), "hello", nil)

	tests := []struct {
		name     string
		settings types.RelaySettings
		reason   string
	}{
		{
			name:     "blocked pubkey",
			settings: types.RelaySettings{BlockedPubkeys: []string{env.Event.PubKey}},
			reason:   "blocked: pubkey is blocked",
		},
		{
			name:     "not on pubkey allowlist",
			settings: types.RelaySettings{AllowedPubkeys: []string{"someoneelse"}},
			reason:   "blocked: pubkey is not on the allowlist",
		},
		{
			name:     "blocked kind",
			settings: types.RelaySettings{BlockedKinds: []int{1}},
			reason:   "blocked: kind 1 is blocked",
		},
		{
			name:     "not on kind allowlist",
			settings: types.RelaySettings{AllowedKinds: []int{34236}},
			reason:   "blocked: kind 1 is not on the allowlist",
		},
		{
			name:     "blocked phrase",
			settings: types.RelaySettings{BlockedPhrases: []string{"HELLO"}},
			reason:   "blocked: content contains a blocked phrase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestConfig(tt.settings, types.PaymentSettings{})
			ResetLimiters()
			rec := &frameRecorder{}

			assert.False(t, ValidateEvent(rec.write, env, -1, store))
			ok, reason := rec.okReason(t)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestValidateEventBlockedTagName(t *testing.T) {
	setTestConfig(types.RelaySettings{BlockedTags: []string{"x"}}, types.PaymentSettings{})
	ResetLimiters()
	store := validationStore(t)

	env := signedEnvelope(t, nostr.GeneratePrivateKey(), 1, time.Now().Unix(), "hi",
		nostr.Tags{{"x", "something"}})
	rec := &frameRecorder{}

	assert.False(t, ValidateEvent(rec.write, env, -1, store))
	ok, reason := rec.okReason(t)
	assert.False(t, ok)
	assert.Equal(t, `blocked: tag "x" is blocked`, reason)
}

func TestValidateEventPaymentRequired(t *testing.T) {
	setTestConfig(types.RelaySettings{}, types.PaymentSettings{Enabled: true, PriceSats: 1000})
	ResetLimiters()
	store := validationStore(t)
	sk := nostr.GeneratePrivateKey()

	env := signedEnvelope(t, sk, 1, time.Now().Unix(), "unpaid", nil)
	rec := &frameRecorder{}

	assert.False(t, ValidateEvent(rec.write, env, -1, store))
	ok, reason := rec.okReason(t)
	assert.False(t, ok)
	assert.Equal(t, "auth-required: payment", reason)

	// After payment the same author passes.
	require.NoError(t, store.SavePaidPubkey(env.Event.PubKey, 1000))
	rec2 := &frameRecorder{}
	assert.True(t, ValidateEvent(rec2.write, env, -1, store))
}

func TestValidateEventRateLimited(t *testing.T) {
	config.SetConfig(&config.Config{
		RateLimit: types.RateLimitSettings{EventRate: 1, EventBurst: 1},
	})
	ResetLimiters()
	store := validationStore(t)
	sk := nostr.GeneratePrivateKey()

	first := signedEnvelope(t, sk, 1, time.Now().Unix(), "one", nil)
	second := signedEnvelope(t, sk, 1, time.Now().Unix(), "two", nil)

	rec := &frameRecorder{}
	assert.True(t, ValidateEvent(rec.write, first, -1, store))

	rec2 := &frameRecorder{}
	assert.False(t, ValidateEvent(rec2.write, second, -1, store))
	ok, reason := rec2.okReason(t)
	assert.False(t, ok)
	assert.Equal(t, "rate-limited: event", reason)
}

func TestRateLimitExcludedKinds(t *testing.T) {
	settings := types.RateLimitSettings{EventRate: 1, EventBurst: 1, ExcludedKinds: []int{5}}
	ResetLimiters()

	pubkey := "pk"
	assert.True(t, AllowEvent(pubkey, 1, settings))
	assert.False(t, AllowEvent(pubkey, 1, settings))
	// Excluded kinds bypass the bucket entirely.
	assert.True(t, AllowEvent(pubkey, 5, settings))
	assert.True(t, AllowEvent(pubkey, 5, settings))
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(5000, 0)

	expired := &nostr.Event{Tags: nostr.Tags{{"expiration", "4000"}}}
	live := &nostr.Event{Tags: nostr.Tags{{"expiration", "6000"}}}
	untagged := &nostr.Event{}
	malformed := &nostr.Event{Tags: nostr.Tags{{"expiration", "soon"}}}

	assert.True(t, IsExpired(expired, now))
	assert.False(t, IsExpired(live, now))
	assert.False(t, IsExpired(untagged, now))
	assert.False(t, IsExpired(malformed, now))
}
