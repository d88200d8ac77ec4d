package query

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/nbd-wtf/go-nostr"
)

// SortFields accepted by the vendor sort extension.
var SortFields = map[string]bool{
	"loop_count":     true,
	"likes":          true,
	"views":          true,
	"comments":       true,
	"avg_completion": true,
	"created_at":     true,
}

// IntMetrics accepted by the int# comparator extension.
var IntMetrics = map[string]bool{
	"loop_count":             true,
	"likes":                  true,
	"views":                  true,
	"comments":               true,
	"avg_completion":         true,
	"has_proofmode":          true,
	"has_device_attestation": true,
	"has_pgp_signature":      true,
}

// VerificationLevels accepted by the verification filter.
var VerificationLevels = map[string]bool{
	"verified_mobile": true,
	"verified_web":    true,
	"basic_proof":     true,
	"unverified":      true,
}

// SearchEntities accepted by search_types.
var SearchEntities = map[string]bool{
	"profiles":    true,
	"notes":       true,
	"videos":      true,
	"lists":       true,
	"articles":    true,
	"communities": true,
	"hashtags":    true,
}

// IntFilter is a numeric comparator on a named metric column. All fields are
// optional; at least one must be set for the filter to mean anything.
type IntFilter struct {
	Gte *float64 `json:"gte,omitempty"`
	Gt  *float64 `json:"gt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Eq  *float64 `json:"eq,omitempty"`
	Neq *float64 `json:"neq,omitempty"`
}

// Empty reports whether no comparator is set.
func (f *IntFilter) Empty() bool {
	return f.Gte == nil && f.Gt == nil && f.Lte == nil && f.Lt == nil && f.Eq == nil && f.Neq == nil
}

// Finite reports whether every set comparator is a finite number.
func (f *IntFilter) Finite() bool {
	for _, v := range []*float64{f.Gte, f.Gt, f.Lte, f.Lt, f.Eq, f.Neq} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return false
		}
	}
	return true
}

// Matches applies every set comparator to the value.
func (f *IntFilter) Matches(v int64) bool {
	fv := float64(v)
	if f.Gte != nil && !(fv >= *f.Gte) {
		return false
	}
	if f.Gt != nil && !(fv > *f.Gt) {
		return false
	}
	if f.Lte != nil && !(fv <= *f.Lte) {
		return false
	}
	if f.Lt != nil && !(fv < *f.Lt) {
		return false
	}
	if f.Eq != nil && fv != *f.Eq {
		return false
	}
	if f.Neq != nil && fv == *f.Neq {
		return false
	}
	return true
}

// Sort is the vendor sort extension. Missing dir means desc, for every field
// including created_at.
type Sort struct {
	Field string `json:"field"`
	Dir   string `json:"dir,omitempty"`
}

// Direction returns the normalized sort direction.
func (s *Sort) Direction() string {
	if s != nil && s.Dir == "asc" {
		return "asc"
	}
	return "desc"
}

// Filter is a Nostr filter extended with the vendor video-query fields.
// The embedded nostr.Filter handles ids/authors/kinds/since/until/limit/
// #tags/search; the extensions apply to kind-34236 queries only.
type Filter struct {
	nostr.Filter

	IntFilters   map[string]IntFilter
	Sort         *Sort
	Cursor       string
	Verification []string
	SearchTypes  []string

	// Raw is the filter object exactly as it arrived on the wire; the
	// cursor query hash is computed over it.
	Raw json.RawMessage
}

// UnmarshalJSON fills the standard filter through go-nostr and then lifts
// the vendor extension keys out of the raw object.
func (f *Filter) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &f.Filter); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, value := range raw {
		switch {
		case len(key) > 4 && key[:4] == "int#":
			metric := key[4:]
			var intFilter IntFilter
			if err := json.Unmarshal(value, &intFilter); err != nil {
				return fmt.Errorf("invalid int#%s filter: %w", metric, err)
			}
			if f.IntFilters == nil {
				f.IntFilters = make(map[string]IntFilter)
			}
			f.IntFilters[metric] = intFilter
		case key == "sort":
			f.Sort = &Sort{}
			if err := json.Unmarshal(value, f.Sort); err != nil {
				return fmt.Errorf("invalid sort: %w", err)
			}
		case key == "cursor":
			if err := json.Unmarshal(value, &f.Cursor); err != nil {
				return fmt.Errorf("invalid cursor: %w", err)
			}
		case key == "verification":
			if err := json.Unmarshal(value, &f.Verification); err != nil {
				return fmt.Errorf("invalid verification: %w", err)
			}
		case key == "search_types":
			if err := json.Unmarshal(value, &f.SearchTypes); err != nil {
				return fmt.Errorf("invalid search_types: %w", err)
			}
		}
	}

	f.Raw = append(f.Raw[:0], data...)
	return nil
}

// HasKind reports whether the filter's kinds contain k. An empty kinds list
// matches every kind on the standard path but does not select the video
// projection.
func (f *Filter) HasKind(k int) bool {
	for _, kind := range f.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// HasVendorExtensions reports whether any vendor field is present.
func (f *Filter) HasVendorExtensions() bool {
	return len(f.IntFilters) > 0 || f.Sort != nil || f.Cursor != "" || len(f.Verification) > 0
}
