package nostr

import (
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	types "github.com/rabble/nosflare-sub000/lib"
)

// Per-pubkey EVENT token buckets. Session-level buckets live in the
// transport; this one stops a single key from spraying through many
// connections.
var pubkeyLimiters = xsync.NewMapOf[string, *rate.Limiter]()

// AllowEvent consumes one token from the pubkey's bucket. Kinds in the
// exclusion set (relay-internal or high-frequency kinds) bypass the limit.
func AllowEvent(pubkey string, kind int, settings types.RateLimitSettings) bool {
	if settings.EventRate <= 0 {
		return true
	}
	for _, excluded := range settings.ExcludedKinds {
		if excluded == kind {
			return true
		}
	}

	limiter, _ := pubkeyLimiters.LoadOrCompute(pubkey, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(settings.EventRate), settings.EventBurst)
	})
	return limiter.Allow()
}

// ResetLimiters clears all buckets. Intended for tests.
func ResetLimiters() {
	pubkeyLimiters.Clear()
}
