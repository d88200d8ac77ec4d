package query

import (
	"fmt"

	types "github.com/rabble/nosflare-sub000/lib"
)

// Caps bound what a single filter may ask for. Values come from the query
// settings block; zero values fall back to the defaults CapsFromSettings
// bakes in (complexity 10000, limit 200, legacy limit 500, 3 int# filters,
// 5 hashtags).
type Caps struct {
	ComplexityCap   int
	MaxLimit        int
	LegacyMaxLimit  int
	MaxIntFilters   int
	MaxHashtags     int
	SortedMaxAgeSec int64
}

func CapsFromSettings(s types.QuerySettings) Caps {
	caps := Caps{
		ComplexityCap:   s.ComplexityCap,
		MaxLimit:        s.MaxLimit,
		LegacyMaxLimit:  s.LegacyMaxLimit,
		MaxIntFilters:   s.MaxIntFilters,
		MaxHashtags:     s.MaxHashtags,
		SortedMaxAgeSec: s.SortedMaxAgeSec,
	}
	if caps.ComplexityCap == 0 {
		caps.ComplexityCap = 10000
	}
	if caps.MaxLimit == 0 {
		caps.MaxLimit = 200
	}
	if caps.LegacyMaxLimit == 0 {
		caps.LegacyMaxLimit = 500
	}
	if caps.MaxIntFilters == 0 {
		caps.MaxIntFilters = 3
	}
	if caps.MaxHashtags == 0 {
		caps.MaxHashtags = 5
	}
	return caps
}

// Validate rejects a filter before any SQL is built. The returned error text
// is the CLOSED reason, so every message carries the "invalid:" prefix.
func Validate(f *Filter, caps Caps) error {
	if f.HasVendorExtensions() && !f.HasKind(types.VideosKind) {
		return fmt.Errorf("invalid: vendor extensions require kinds to include %d", types.VideosKind)
	}

	if len(f.IntFilters) > caps.MaxIntFilters {
		return fmt.Errorf("invalid: at most %d int# filters allowed", caps.MaxIntFilters)
	}
	for metric, intFilter := range f.IntFilters {
		if !IntMetrics[metric] {
			return fmt.Errorf("invalid: unknown int# metric %q", metric)
		}
		intFilter := intFilter
		if intFilter.Empty() {
			return fmt.Errorf("invalid: int#%s has no comparator", metric)
		}
		if !intFilter.Finite() {
			return fmt.Errorf("invalid: int#%s comparator is not finite", metric)
		}
	}

	if f.Sort != nil {
		if !SortFields[f.Sort.Field] {
			return fmt.Errorf("invalid: unknown sort field %q", f.Sort.Field)
		}
		if f.Sort.Dir != "" && f.Sort.Dir != "asc" && f.Sort.Dir != "desc" {
			return fmt.Errorf("invalid: sort dir must be asc or desc")
		}
	}

	for _, level := range f.Verification {
		if !VerificationLevels[level] {
			return fmt.Errorf("invalid: unknown verification level %q", level)
		}
	}

	for _, entity := range f.SearchTypes {
		if !SearchEntities[entity] {
			return fmt.Errorf("invalid: unknown search entity %q", entity)
		}
	}

	if hashtags, ok := f.Tags["t"]; ok && UseVideoProjection(f) && len(hashtags) > caps.MaxHashtags {
		return fmt.Errorf("invalid: at most %d #t values allowed", caps.MaxHashtags)
	}

	maxLimit := caps.LegacyMaxLimit
	if UseVideoProjection(f) {
		maxLimit = caps.MaxLimit
	}
	if f.Limit > maxLimit {
		return fmt.Errorf("invalid: limit exceeds maximum of %d", maxLimit)
	}

	if score := Complexity(f); score > caps.ComplexityCap {
		return fmt.Errorf("invalid: query too complex (score %d, cap %d)", score, caps.ComplexityCap)
	}

	return nil
}

// Complexity scores a filter: ids count 1 each, authors 2, kinds 5, tag
// values 10; doubled when no time bound is set, half again when the limit
// exceeds 1000.
func Complexity(f *Filter) int {
	score := len(f.IDs)
	score += len(f.Authors) * 2
	score += len(f.Kinds) * 5
	for _, values := range f.Tags {
		score += len(values) * 10
	}

	if f.Since == nil && f.Until == nil {
		score *= 2
	}
	if f.Limit > 1000 {
		score = score * 3 / 2
	}

	return score
}

// UseVideoProjection decides whether a filter routes to the denormalized
// videos table instead of the generic event store.
func UseVideoProjection(f *Filter) bool {
	if !f.HasKind(types.VideosKind) {
		return false
	}
	if len(f.IntFilters) > 0 || f.Cursor != "" || len(f.Verification) > 0 {
		return true
	}
	if f.Sort != nil && f.Sort.Field != "created_at" {
		return true
	}
	if len(f.Authors) > 0 && f.Sort != nil {
		return true
	}
	return false
}

// NeedsArchive decides whether a filter also routes to the blob archive:
// direct id lookups always do, and time windows reaching past the archive
// cutoff do.
func NeedsArchive(f *Filter, archiveCutoff int64) bool {
	if len(f.IDs) > 0 {
		return true
	}
	if f.Since != nil && int64(*f.Since) < archiveCutoff {
		return true
	}
	if f.Until != nil && int64(*f.Until) < archiveCutoff {
		return true
	}
	return false
}

// ChunkStrings splits an overlarge value array into chunks of at most size.
// Storage layers cap IN() arrays, so each chunk executes independently and
// results are unioned by id.
func ChunkStrings(values []string, size int) [][]string {
	if len(values) <= size {
		return [][]string{values}
	}
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// ChunkInts is ChunkStrings for kind arrays.
func ChunkInts(values []int, size int) [][]int {
	if len(values) <= size {
		return [][]int{values}
	}
	var chunks [][]int
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}

// MaxChunk is the storage layer's IN() array cap.
const MaxChunk = 50

// EffectiveLimit clamps the requested limit for projection queries.
func EffectiveLimit(requested int, caps Caps) int {
	if requested <= 0 || requested > caps.MaxLimit {
		return caps.MaxLimit
	}
	return requested
}
