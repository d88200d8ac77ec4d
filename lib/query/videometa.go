package query

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// VideoMeta is the metric and verification block of a kind-34236 event,
// parsed from its tags. The projection row and the live matcher both read
// events through this.
type VideoMeta struct {
	LoopCount            int64
	Likes                int64
	Views                int64
	Comments             int64
	Reposts              int64
	AvgCompletion        int64
	Hashtag              string
	Hashtags             []string
	Mentions             []string
	References           []string
	Addresses            []string
	VerificationLevel    string
	HasProofmode         bool
	HasDeviceAttestation bool
	HasPGPSignature      bool
}

func parseCounter(value string) int64 {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

// ExtractVideoMeta parses the metric tags of a video event. Missing counters
// default to 0 and avg_completion is clamped into 0..100.
func ExtractVideoMeta(event *nostr.Event) VideoMeta {
	var meta VideoMeta

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		name, value := tag[0], tag[1]
		switch name {
		case "loops":
			meta.LoopCount = parseCounter(value)
		case "likes":
			meta.Likes = parseCounter(value)
		case "views":
			meta.Views = parseCounter(value)
		case "comments":
			meta.Comments = parseCounter(value)
		case "reposts":
			meta.Reposts = parseCounter(value)
		case "avg_completion":
			n := parseCounter(value)
			if n > 100 {
				n = 100
			}
			meta.AvgCompletion = n
		case "t":
			if meta.Hashtag == "" {
				meta.Hashtag = value
			}
			meta.Hashtags = appendUnique(meta.Hashtags, value)
		case "p":
			meta.Mentions = appendUnique(meta.Mentions, value)
		case "e":
			meta.References = appendUnique(meta.References, value)
		case "a":
			meta.Addresses = appendUnique(meta.Addresses, value)
		case "verification":
			if VerificationLevels[value] {
				meta.VerificationLevel = value
			}
		case "proofmode":
			meta.HasProofmode = true
		case "device_attestation":
			meta.HasDeviceAttestation = true
		case "pgp_fingerprint":
			meta.HasPGPSignature = true
		}
	}

	return meta
}

// Metric returns the named int# metric value. Boolean flags read as 0/1.
func (m *VideoMeta) Metric(name string) (int64, bool) {
	switch name {
	case "loop_count":
		return m.LoopCount, true
	case "likes":
		return m.Likes, true
	case "views":
		return m.Views, true
	case "comments":
		return m.Comments, true
	case "avg_completion":
		return m.AvgCompletion, true
	case "has_proofmode":
		return boolMetric(m.HasProofmode), true
	case "has_device_attestation":
		return boolMetric(m.HasDeviceAttestation), true
	case "has_pgp_signature":
		return boolMetric(m.HasPGPSignature), true
	default:
		return 0, false
	}
}

// SortValue returns the value of the named sort field for cursor positions.
func (m *VideoMeta) SortValue(field string, createdAt int64) int64 {
	if field == "created_at" {
		return createdAt
	}
	v, _ := m.Metric(field)
	return v
}

func boolMetric(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
