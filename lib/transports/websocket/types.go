package websocket

// NIP-11 relay information document, including the vendor extension blocks
// advertised to video clients.

type NIP11RelayInfo struct {
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	Pubkey        string `json:"pubkey,omitempty"`
	Contact       string `json:"contact,omitempty"`
	Icon          string `json:"icon,omitempty"`
	SupportedNIPs []int  `json:"supported_nips,omitempty"`
	Software      string `json:"software,omitempty"`
	Version       string `json:"version,omitempty"`

	Limitation       *RelayLimitation  `json:"limitation,omitempty"`
	DivineExtensions *DivineExtensions `json:"divine_extensions,omitempty"`
	Search           *SearchInfo       `json:"search,omitempty"`
}

type RelayLimitation struct {
	PaymentRequired  bool `json:"payment_required"`
	RestrictedWrites bool `json:"restricted_writes"`
}

type DivineExtensions struct {
	IntFilters          []string       `json:"int_filters"`
	SortFields          []string       `json:"sort_fields"`
	CursorFormat        string         `json:"cursor_format"`
	VideosKind          int            `json:"videos_kind"`
	MetricsFreshnessSec int            `json:"metrics_freshness_sec"`
	LimitMax            int            `json:"limit_max"`
	Proofmode           *ProofmodeInfo `json:"proofmode,omitempty"`
}

type ProofmodeInfo struct {
	Enabled            bool     `json:"enabled"`
	VerificationFilter string   `json:"verification_filter"`
	VerificationLevels []string `json:"verification_levels"`
	Tags               []string `json:"tags"`
	InfoURL            string   `json:"info_url,omitempty"`
}

type SearchInfo struct {
	Enabled          bool     `json:"enabled"`
	EntityTypes      []string `json:"entity_types"`
	Extensions       []string `json:"extensions"`
	MaxResults       int      `json:"max_results"`
	RankingAlgorithm string   `json:"ranking_algorithm"`
	Features         []string `json:"features"`
}
