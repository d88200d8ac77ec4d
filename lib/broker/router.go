package broker

import "strings"

// Location is what edge headers give us about a caller.
type Location struct {
	Continent string
	Country   string
	Region    string
}

// westernStates are the US states and Canadian provinces homed on the western
// North America shard; the rest of the continent lands on the eastern one.
var westernStates = map[string]bool{
	"CA": true, "OR": true, "WA": true, "NV": true, "AZ": true, "UT": true,
	"ID": true, "MT": true, "WY": true, "CO": true, "NM": true, "AK": true,
	"HI": true, "BC": true, "AB": true, "YT": true,
}

var countryShards = map[string]string{
	"MX": "wnam",
	"BR": "sam", "AR": "sam", "CL": "sam", "CO": "sam", "PE": "sam", "VE": "sam",
	"GB": "weur", "FR": "weur", "ES": "weur", "PT": "weur", "IE": "weur",
	"NL": "weur", "BE": "weur", "CH": "weur", "IT": "weur",
	"DE": "eeur", "PL": "eeur", "CZ": "eeur", "AT": "eeur", "HU": "eeur",
	"RO": "eeur", "UA": "eeur", "GR": "eeur", "SE": "eeur", "NO": "eeur",
	"FI": "eeur", "DK": "eeur",
	"JP": "apac", "KR": "apac", "CN": "apac", "TW": "apac", "HK": "apac",
	"SG": "apac", "TH": "apac", "VN": "apac", "PH": "apac", "ID": "apac",
	"MY": "apac", "IN": "apac",
	"AU": "oc", "NZ": "oc", "FJ": "oc",
	"ZA": "afr", "NG": "afr", "EG": "afr", "KE": "afr", "GH": "afr",
	"AE": "me", "SA": "me", "IL": "me", "TR": "me", "QA": "me", "JO": "me",
}

var continentShards = map[string]string{
	"NA": "enam",
	"SA": "sam",
	"EU": "weur",
	"AS": "apac",
	"OC": "oc",
	"AF": "afr",
}

// proximity lists each shard's neighbors nearest first, used when the
// preferred shard is at capacity.
var proximity = map[string][]string{
	"wnam": {"enam", "apac", "sam", "weur", "oc", "eeur", "me", "afr"},
	"enam": {"wnam", "weur", "sam", "eeur", "apac", "me", "afr", "oc"},
	"weur": {"eeur", "enam", "me", "afr", "wnam", "apac", "sam", "oc"},
	"eeur": {"weur", "me", "enam", "afr", "apac", "wnam", "sam", "oc"},
	"apac": {"oc", "me", "eeur", "wnam", "weur", "afr", "enam", "sam"},
	"oc":   {"apac", "wnam", "me", "enam", "eeur", "weur", "sam", "afr"},
	"sam":  {"enam", "wnam", "afr", "weur", "eeur", "me", "apac", "oc"},
	"afr":  {"me", "weur", "eeur", "sam", "enam", "apac", "wnam", "oc"},
	"me":   {"eeur", "afr", "weur", "apac", "enam", "wnam", "sam", "oc"},
}

// Router maps caller locations to an ordered list of shard candidates.
type Router struct {
	available    map[string]bool
	defaultShard string
}

// NewRouter restricts routing to the deployed shard set. defaultShard is the
// hard fallback when nothing about the location is recognized.
func NewRouter(shardIDs []string, defaultShard string) *Router {
	available := make(map[string]bool, len(shardIDs))
	for _, id := range shardIDs {
		available[id] = true
	}
	if !available[defaultShard] && len(shardIDs) > 0 {
		defaultShard = shardIDs[0]
	}
	return &Router{available: available, defaultShard: defaultShard}
}

// preferred resolves the static lookup: country first (with the US/CA
// east-west split), then continent, then the hard default.
func (r *Router) preferred(loc Location) string {
	country := strings.ToUpper(loc.Country)
	region := strings.ToUpper(loc.Region)

	if country == "US" || country == "CA" {
		if westernStates[region] {
			return "wnam"
		}
		return "enam"
	}
	if shard, ok := countryShards[country]; ok {
		return shard
	}
	if shard, ok := continentShards[strings.ToUpper(loc.Continent)]; ok {
		return shard
	}
	return r.defaultShard
}

// Route returns the deployed shard candidates for a location, preferred
// first, then its neighbors in proximity order, with the default always
// included.
func (r *Router) Route(loc Location) []string {
	first := r.preferred(loc)

	seen := make(map[string]bool)
	var candidates []string
	push := func(id string) {
		if id != "" && r.available[id] && !seen[id] {
			seen[id] = true
			candidates = append(candidates, id)
		}
	}

	push(first)
	for _, id := range proximity[first] {
		push(id)
	}
	push(r.defaultShard)
	// Anything left in the deployment is still better than refusing the
	// connection.
	for id := range r.available {
		push(id)
	}
	return candidates
}
