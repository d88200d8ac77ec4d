package nostr

import (
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/config"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/signing"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// ValidateEvent runs the full ingress pipeline for one event: id/signature,
// timestamp and expiration, policy lists, NIP-05, pay-to-relay and the
// per-pubkey rate limit. On failure it writes the OK false frame itself and
// returns false; the reason prefixes are load-bearing for clients.
func ValidateEvent(write KindWriter, env nostr.EventEnvelope, expectedKind int, store stores.Store) bool {
	event := &env.Event

	if expectedKind >= 0 && event.Kind != expectedKind {
		write("OK", event.ID, false, fmt.Sprintf("invalid: event kind %d does not match handler", event.Kind))
		return false
	}

	if err := signing.VerifyEvent(event); err != nil {
		write("OK", event.ID, false, "invalid: bad signature")
		return false
	}

	if ok, reason := TimeCheck(int64(event.CreatedAt)); !ok {
		write("OK", event.ID, false, reason)
		return false
	}

	if IsExpired(event, time.Now()) {
		write("OK", event.ID, false, "invalid: event has expired")
		return false
	}

	cfg := config.GetConfig()
	settings := cfg.RelaySettings

	if reason := checkPolicy(event, settings); reason != "" {
		write("OK", event.ID, false, reason)
		return false
	}

	// Kind 0 carries the nip05 identity itself and gift wraps (1059) hide
	// their author, so neither can be gated on NIP-05.
	if settings.RequireNip05 && event.Kind != 0 && event.Kind != 1059 {
		if err := VerifyNip05(store, event.PubKey, settings); err != nil {
			logging.Debugf("NIP-05 rejection for %s: %v", event.PubKey, err)
			write("OK", event.ID, false, "invalid: NIP-05 validation failed")
			return false
		}
	}

	if cfg.Payment.Enabled {
		paid, err := store.IsPaidPubkey(event.PubKey)
		if err != nil {
			logging.Errorf("Paid pubkey lookup failed: %v", err)
			write("OK", event.ID, false, "error: could not save event")
			return false
		}
		if !paid {
			write("OK", event.ID, false, "auth-required: payment")
			return false
		}
	}

	if !AllowEvent(event.PubKey, event.Kind, cfg.RateLimit) {
		write("OK", event.ID, false, "rate-limited: event")
		return false
	}

	return true
}

// checkPolicy applies the block/allow lists to pubkey, kind, tag names and
// content phrases. Returns the OK reason, or "" when the event passes.
func checkPolicy(event *nostr.Event, settings types.RelaySettings) string {
	for _, blocked := range settings.BlockedPubkeys {
		if blocked == event.PubKey {
			return "blocked: pubkey is blocked"
		}
	}
	if len(settings.AllowedPubkeys) > 0 && !containsString(settings.AllowedPubkeys, event.PubKey) {
		return "blocked: pubkey is not on the allowlist"
	}

	for _, blocked := range settings.BlockedKinds {
		if blocked == event.Kind {
			return fmt.Sprintf("blocked: kind %d is blocked", event.Kind)
		}
	}
	if len(settings.AllowedKinds) > 0 && !containsInt(settings.AllowedKinds, event.Kind) {
		return fmt.Sprintf("blocked: kind %d is not on the allowlist", event.Kind)
	}

	for _, tag := range event.Tags {
		if len(tag) == 0 {
			continue
		}
		if containsString(settings.BlockedTags, tag[0]) {
			return fmt.Sprintf("blocked: tag %q is blocked", tag[0])
		}
		if len(settings.AllowedTags) > 0 && !containsString(settings.AllowedTags, tag[0]) {
			return fmt.Sprintf("blocked: tag %q is not on the allowlist", tag[0])
		}
	}

	if len(settings.BlockedPhrases) > 0 {
		var sb strings.Builder
		sb.WriteString(event.Content)
		for _, tag := range event.Tags {
			for _, value := range tag[1:] {
				sb.WriteByte(' ')
				sb.WriteString(value)
			}
		}
		haystack := strings.ToLower(sb.String())
		for _, phrase := range settings.BlockedPhrases {
			if phrase != "" && strings.Contains(haystack, strings.ToLower(phrase)) {
				return "blocked: content contains a blocked phrase"
			}
		}
	}

	return ""
}

func containsString(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
