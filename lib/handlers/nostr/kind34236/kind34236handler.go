package kind34236

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	lib_nostr "github.com/rabble/nosflare-sub000/lib/handlers/nostr"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

func getTagValue(tags nostr.Tags, key string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1]
		}
	}
	return ""
}

// BuildKind34236Handler handles short-form video events. Kind 34236 is
// parameterized replaceable, so the d tag is the video's stable identity and
// must be present; the store rebuilds the projection and search rows on every
// accepted metric update.
func BuildKind34236Handler(store stores.Store) func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
	handler := func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
		var json = jsoniter.ConfigCompatibleWithStandardLibrary

		data, err := read()
		if err != nil {
			write("NOTICE", "Error reading data from stream")
			return
		}

		var env nostr.EventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			write("NOTICE", "Failed to deserialize the event envelope")
			return
		}

		if !lib_nostr.ValidateEvent(write, env, 34236, store) {
			return
		}

		if getTagValue(env.Event.Tags, "d") == "" {
			write("OK", env.Event.ID, false, "invalid: video events require a d tag")
			return
		}

		if err := store.StoreEvent(&env.Event); err != nil {
			switch {
			case errors.Is(err, stores.ErrDuplicate),
				errors.Is(err, stores.ErrDuplicateNewer),
				errors.Is(err, stores.ErrDuplicateContent):
				write("OK", env.Event.ID, false, err.Error())
			default:
				logging.Errorf("Failed to store video event %s: %v", env.Event.ID, err)
				write("OK", env.Event.ID, false, "error: could not save event")
			}
			return
		}

		write("OK", env.Event.ID, true, "")
	}

	return handler
}
