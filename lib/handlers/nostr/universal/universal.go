package universal

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	lib_nostr "github.com/rabble/nosflare-sub000/lib/handlers/nostr"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// BuildUniversalHandler handles any event kind without a dedicated handler.
func BuildUniversalHandler(store stores.Store) func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
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

		if !lib_nostr.ValidateEvent(write, env, -1, store) {
			return
		}

		// Ephemeral events are relayed, never stored.
		if stores.ClassifyKind(env.Event.Kind) == stores.KindEphemeral {
			write("OK", env.Event.ID, true, "")
			return
		}

		if err := store.StoreEvent(&env.Event); err != nil {
			switch {
			case errors.Is(err, stores.ErrDuplicate),
				errors.Is(err, stores.ErrDuplicateNewer),
				errors.Is(err, stores.ErrDuplicateContent):
				write("OK", env.Event.ID, false, err.Error())
			default:
				logging.Errorf("Failed to store event %s: %v", env.Event.ID, err)
				write("OK", env.Event.ID, false, "error: could not save event")
			}
			return
		}

		write("OK", env.Event.ID, true, "")
	}

	return handler
}
