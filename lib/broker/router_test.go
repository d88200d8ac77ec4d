package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allShards = []string{"wnam", "enam", "weur", "eeur", "apac", "oc", "sam", "afr", "me"}

func TestPreferredShard(t *testing.T) {
	router := NewRouter(allShards, "enam")

	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{"us west coast", Location{Continent: "NA", Country: "US", Region: "CA"}, "wnam"},
		{"us east coast", Location{Continent: "NA", Country: "US", Region: "NY"}, "enam"},
		{"canada west", Location{Continent: "NA", Country: "CA", Region: "BC"}, "wnam"},
		{"canada east", Location{Continent: "NA", Country: "CA", Region: "ON"}, "enam"},
		{"uk", Location{Continent: "EU", Country: "GB"}, "weur"},
		{"germany", Location{Continent: "EU", Country: "DE"}, "eeur"},
		{"japan", Location{Continent: "AS", Country: "JP"}, "apac"},
		{"brazil", Location{Continent: "SA", Country: "BR"}, "sam"},
		{"unknown country known continent", Location{Continent: "AF", Country: "XX"}, "afr"},
		{"nothing known", Location{}, "enam"},
		{"lowercase headers", Location{Continent: "eu", Country: "fr"}, "weur"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := router.Route(tt.loc)
			require.NotEmpty(t, candidates)
			assert.Equal(t, tt.want, candidates[0])
		})
	}
}

func TestRouteOrdersByProximity(t *testing.T) {
	router := NewRouter(allShards, "enam")

	candidates := router.Route(Location{Continent: "EU", Country: "GB"})
	require.Len(t, candidates, len(allShards), "every deployed shard is a candidate")
	assert.Equal(t, "weur", candidates[0])
	assert.Equal(t, "eeur", candidates[1], "nearest neighbor comes second")

	seen := make(map[string]bool)
	for _, id := range candidates {
		assert.False(t, seen[id], "no duplicates in candidate list")
		seen[id] = true
	}
}

func TestRouterRestrictsToDeployedShards(t *testing.T) {
	router := NewRouter([]string{"enam", "weur"}, "enam")

	candidates := router.Route(Location{Continent: "AS", Country: "JP"})
	require.NotEmpty(t, candidates)
	for _, id := range candidates {
		assert.Contains(t, []string{"enam", "weur"}, id)
	}
	// apac is not deployed, so the proximity walk lands on a deployed
	// neighbor and the default is always present.
	assert.Contains(t, candidates, "enam")
}

func TestRouterFallsBackWhenDefaultNotDeployed(t *testing.T) {
	router := NewRouter([]string{"weur"}, "enam")

	candidates := router.Route(Location{})
	require.Equal(t, []string{"weur"}, candidates)
}
