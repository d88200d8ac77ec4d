package query

import (
	"github.com/nbd-wtf/go-nostr"

	types "github.com/rabble/nosflare-sub000/lib"
)

// MatchesEvent applies the filter to a single live event. This is the
// subscription-dispatch twin of the SQL builder: same predicate semantics,
// but evaluated in memory. Sort and cursor are irrelevant for matching.
func (f *Filter) MatchesEvent(event *nostr.Event) bool {
	if !f.Filter.Matches(event) {
		return false
	}

	if len(f.IntFilters) == 0 && len(f.Verification) == 0 {
		return true
	}

	// Vendor predicates only ever apply to video events.
	if event.Kind != types.VideosKind {
		return false
	}

	meta := ExtractVideoMeta(event)

	for metric, intFilter := range f.IntFilters {
		value, ok := meta.Metric(metric)
		if !ok {
			return false
		}
		intFilter := intFilter
		if !intFilter.Matches(value) {
			return false
		}
	}

	if len(f.Verification) > 0 {
		level := meta.VerificationLevel
		if level == "" {
			level = types.VerificationUnverified
		}
		found := false
		for _, want := range f.Verification {
			if want == level {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// MatchesAny reports whether any filter in the list matches the event.
func MatchesAny(filters []*Filter, event *nostr.Event) bool {
	for _, f := range filters {
		if f.MatchesEvent(event) {
			return true
		}
	}
	return false
}
