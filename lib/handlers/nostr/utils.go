package nostr

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// futureCutoff is how far ahead of the relay clock a created_at may sit.
// Backdated events are accepted; very old content is legitimate here.
const futureCutoff = 15 * time.Minute

// TimeCheck returns false with an OK reason when the event timestamp is too
// far in the future.
func TimeCheck(eventCreatedAt int64) (bool, string) {
	eventTime := time.Unix(eventCreatedAt, 0)
	if time.Until(eventTime) > futureCutoff {
		return false, fmt.Sprintf("invalid: event creation date is too far in the future (%s)", eventTime)
	}
	return true, ""
}

// IsExpired implements NIP-40: an event carrying an expiration tag in the
// past is not accepted or served.
func IsExpired(event *nostr.Event, now time.Time) bool {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "expiration" {
			expiry, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				continue
			}
			if expiry <= now.Unix() {
				return true
			}
		}
	}
	return false
}
