package lib

import (
	"time"
)

// Verification levels recognized on kind 34236 events.
const (
	VerificationVerifiedMobile = "verified_mobile"
	VerificationVerifiedWeb    = "verified_web"
	VerificationBasicProof     = "basic_proof"
	VerificationUnverified     = "unverified"
)

// VideosKind is the short-form video event kind this relay specializes in.
const VideosKind = 34236

// NostrEvent is the hot-store row for an accepted event. Tags are stored as
// the raw JSON array so the event can be reassembled byte-faithfully.
type NostrEvent struct {
	ID        string `gorm:"primaryKey;size:64"`
	Pubkey    string `gorm:"size:64;index:idx_events_pubkey_kind,priority:1"`
	CreatedAt int64  `gorm:"index:idx_events_created_at"`
	Kind      int    `gorm:"index:idx_events_pubkey_kind,priority:2;index:idx_events_kind_created,priority:1"`
	Tags      string
	Content   string
	Sig       string `gorm:"size:128"`
}

// EventTag denormalizes one (event, tag name, value) pair. Multi-valued tags
// produce one row per value position so filters see every value verbatim.
type EventTag struct {
	ID       uint   `gorm:"primaryKey"`
	EventID  string `gorm:"size:64;index:idx_tags_event"`
	TagName  string `gorm:"size:64;index:idx_tags_name_value,priority:1"`
	TagValue string `gorm:"size:512;index:idx_tags_name_value,priority:2"`
}

// CachedTag serves the common p/e/a indexed-tag filters without joining the
// general tag table. One row per event, first value of each tag only.
type CachedTag struct {
	EventID   string `gorm:"primaryKey;size:64"`
	Pubkey    string `gorm:"size:64;index:idx_cached_pubkey"`
	Kind      int    `gorm:"index:idx_cached_kind"`
	CreatedAt int64  `gorm:"index:idx_cached_created"`
	PTag      string `gorm:"size:64;index:idx_cached_p"`
	ETag      string `gorm:"size:64;index:idx_cached_e"`
	ATag      string `gorm:"size:255;index:idx_cached_a"`
}

// ContentHash is the anti-spam dedup row. Hash is SHA-256 of either
// {kind,tags,content} (global scope) or {pubkey,kind,tags,content}.
type ContentHash struct {
	Hash      string `gorm:"primaryKey;size:64"`
	EventID   string `gorm:"size:64;index:idx_content_hash_event"`
	Pubkey    string `gorm:"size:64"`
	Kind      int
	CreatedAt int64
}

// Video is the denormalized projection of a kind-34236 event.
type Video struct {
	EventID              string  `gorm:"primaryKey;size:64"`
	Author               string  `gorm:"size:64;index:idx_videos_author"`
	CreatedAt            int64   `gorm:"index:idx_videos_created_event,priority:1"`
	LoopCount            int64   `gorm:"default:0"`
	Likes                int64   `gorm:"default:0"`
	Views                int64   `gorm:"default:0"`
	Comments             int64   `gorm:"default:0"`
	Reposts              int64   `gorm:"default:0"`
	AvgCompletion        int64   `gorm:"default:0"`
	Hashtag              string  `gorm:"size:255;index:idx_videos_hashtag"`
	VerificationLevel    *string `gorm:"size:32;index:idx_videos_verification"`
	HasProofmode         bool    `gorm:"default:false"`
	HasDeviceAttestation bool    `gorm:"default:false"`
	HasPGPSignature      bool    `gorm:"default:false"`
}

// Junction tables for the video projection. Each is keyed on (event, value)
// and deduplicated on insert; kind 34236 is replaceable so rows are rebuilt
// per event.

type VideoHashtag struct {
	EventID string `gorm:"primaryKey;size:64"`
	Hashtag string `gorm:"primaryKey;size:255;index:idx_video_hashtags_tag"`
}

type VideoMention struct {
	EventID string `gorm:"primaryKey;size:64"`
	Pubkey  string `gorm:"primaryKey;size:64;index:idx_video_mentions_pubkey"`
}

type VideoReference struct {
	EventID string `gorm:"primaryKey;size:64"`
	RefID   string `gorm:"primaryKey;size:64;index:idx_video_references_ref"`
}

type VideoAddress struct {
	EventID string `gorm:"primaryKey;size:64"`
	Address string `gorm:"primaryKey;size:255;index:idx_video_addresses_addr"`
}

// HashtagStat aggregates hashtag usage for trending queries.
// TrendingScore = total_usage / (now - first_seen + 86400).
type HashtagStat struct {
	Hashtag       string `gorm:"primaryKey;size:255"`
	TotalUsage    int64  `gorm:"default:0"`
	UniqueEvents  int64  `gorm:"default:0"`
	FirstSeen     int64
	LastSeen      int64
	TrendingScore float64 `gorm:"index:idx_hashtag_trending"`
}

// PaidPubkey records a completed pay-to-relay payment. A row exists iff
// pay-to-relay is enabled and this pubkey has paid.
type PaidPubkey struct {
	Pubkey string    `gorm:"primaryKey;size:64"`
	PaidAt time.Time `gorm:"autoCreateTime"`
	Amount int64
}

// SchemaMigration records an applied migration. Migrations are idempotent
// and run in version order at startup.
type SchemaMigration struct {
	Version     int       `gorm:"primaryKey"`
	AppliedAt   time.Time `gorm:"autoCreateTime"`
	Description string    `gorm:"size:255"`
}

// RelaySettings is the operator policy block unmarshalled from the
// "relay_settings" config key.
type RelaySettings struct {
	BlockedPubkeys    []string `mapstructure:"blocked_pubkeys"`
	AllowedPubkeys    []string `mapstructure:"allowed_pubkeys"`
	BlockedKinds      []int    `mapstructure:"blocked_kinds"`
	AllowedKinds      []int    `mapstructure:"allowed_kinds"`
	BlockedTags       []string `mapstructure:"blocked_tags"`
	AllowedTags       []string `mapstructure:"allowed_tags"`
	BlockedPhrases    []string `mapstructure:"blocked_phrases"`
	BlockedNip05      []string `mapstructure:"blocked_nip05_domains"`
	AllowedNip05      []string `mapstructure:"allowed_nip05_domains"`
	RequireNip05      bool     `mapstructure:"require_nip05"`
	Nip05Upstream     string   `mapstructure:"nip05_upstream"`
	AntiSpamKinds     []int    `mapstructure:"antispam_kinds"`
	AntiSpamPerPubkey bool     `mapstructure:"antispam_per_pubkey"`
}

// PaymentSettings configures pay-to-relay.
type PaymentSettings struct {
	Enabled       bool   `mapstructure:"enabled"`
	PriceSats     int64  `mapstructure:"price_sats"`
	RelayPubkey   string `mapstructure:"relay_pubkey"`
	AdmissionOnly bool   `mapstructure:"admission_only"`
}

// RateLimitSettings configures the per-session and per-pubkey token buckets.
type RateLimitSettings struct {
	EventRate        float64 `mapstructure:"event_rate"`
	EventBurst       int     `mapstructure:"event_burst"`
	ReqRate          float64 `mapstructure:"req_rate"`
	ReqBurst         int     `mapstructure:"req_burst"`
	ExcludedKinds    []int   `mapstructure:"excluded_kinds"`
	SortedQueryRate  float64 `mapstructure:"sorted_query_rate"`
	SortedQueryBurst int     `mapstructure:"sorted_query_burst"`
}

// ArchiveSettings configures the hourly archival worker.
type ArchiveSettings struct {
	Enabled       bool   `mapstructure:"enabled"`
	RetentionDays int    `mapstructure:"retention_days"`
	BatchSize     int    `mapstructure:"batch_size"`
	IntervalMins  int    `mapstructure:"interval_minutes"`
	BlobPath      string `mapstructure:"blob_path"`
}

// QuerySettings caps the query planner.
type QuerySettings struct {
	ComplexityCap   int   `mapstructure:"complexity_cap"`
	MaxLimit        int   `mapstructure:"max_limit"`
	LegacyMaxLimit  int   `mapstructure:"legacy_max_limit"`
	MaxIntFilters   int   `mapstructure:"max_int_filters"`
	MaxHashtags     int   `mapstructure:"max_hashtags"`
	SortedMaxAgeSec int64 `mapstructure:"sorted_max_age_sec"`
}
