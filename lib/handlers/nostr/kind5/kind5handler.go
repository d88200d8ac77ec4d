package kind5

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	lib_nostr "github.com/rabble/nosflare-sub000/lib/handlers/nostr"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// BuildKind5Handler processes NIP-09 deletion requests. Authorization is
// all-or-nothing: every referenced event must belong to the requester, or the
// whole request is rejected and nothing is deleted.
func BuildKind5Handler(store stores.Store) func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
	handler := func(read lib_nostr.KindReader, write lib_nostr.KindWriter) {
		var json = jsoniter.ConfigCompatibleWithStandardLibrary

		data, err := read()
		if err != nil {
			write("NOTICE", "Error reading from stream.")
			return
		}

		var env nostr.EventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			write("NOTICE", "Error unmarshaling event.")
			return
		}

		if !lib_nostr.ValidateEvent(write, env, 5, store) {
			return
		}

		var targets []string
		for _, tag := range env.Event.Tags {
			if len(tag) < 2 {
				continue
			}
			switch tag[0] {
			case "e":
				eventID := tag[1]
				author, err := store.GetEventAuthor(eventID)
				if errors.Is(err, stores.ErrNotFound) {
					// Deleting the already-gone is a no-op, not an error.
					continue
				}
				if err != nil {
					logging.Errorf("Author lookup failed for %s: %v", eventID, err)
					write("OK", env.Event.ID, false, "error: could not save event")
					return
				}
				if author != env.Event.PubKey {
					write("OK", env.Event.ID, false,
						fmt.Sprintf("unauthorized: cannot delete event %s - wrong pubkey", eventID))
					return
				}
				targets = append(targets, eventID)
			case "a":
				ids, reason, err := resolveAddress(store, tag[1], env.Event.PubKey, int64(env.Event.CreatedAt))
				if err != nil {
					logging.Errorf("Address resolution failed for %s: %v", tag[1], err)
					write("OK", env.Event.ID, false, "error: could not save event")
					return
				}
				if reason != "" {
					write("OK", env.Event.ID, false, reason)
					return
				}
				targets = append(targets, ids...)
			}
		}

		for _, eventID := range targets {
			if err := store.DeleteEvent(eventID); err != nil {
				logging.Errorf("Error deleting event %s: %v", eventID, err)
				write("OK", env.Event.ID, false, "error: could not save event")
				return
			}
		}

		// The deletion event itself persists as a tombstone.
		if err := store.StoreEvent(&env.Event); err != nil && !errors.Is(err, stores.ErrDuplicate) {
			write("OK", env.Event.ID, false, "error: could not save event")
			return
		}

		write("OK", env.Event.ID, true, "")
	}

	return handler
}

// resolveAddress expands an a-tag "<kind>:<pubkey>:<d>" into the stored event
// ids it addresses, created at or before the deletion timestamp. Returns a
// non-empty reason when the address belongs to someone else.
func resolveAddress(store stores.Store, address, requester string, until int64) ([]string, string, error) {
	parts := strings.SplitN(address, ":", 3)
	if len(parts) != 3 {
		return nil, "", nil
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, "", nil
	}
	author, dValue := parts[1], parts[2]

	if author != requester {
		return nil, fmt.Sprintf("unauthorized: cannot delete address %s - wrong pubkey", address), nil
	}

	var f query.Filter
	f.Kinds = []int{kind}
	f.Authors = []string{author}
	f.Tags = nostr.TagMap{"d": []string{dValue}}
	ts := nostr.Timestamp(until)
	f.Until = &ts

	events, err := store.QueryEvents(&f)
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids, "", nil
}
