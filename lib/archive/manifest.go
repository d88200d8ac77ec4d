package archive

import (
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const manifestKey = "manifest.json"

// Manifest is the archive's single index object: which hours, authors, kinds
// and tag values the blob store has ever seen. Sets are kept as sorted slices
// so the on-disk form is deterministic.
type Manifest struct {
	FirstHour       string          `json:"firstHour"`
	LastHour        string          `json:"lastHour"`
	TotalEvents     int64           `json:"totalEvents"`
	LastUpdated     int64           `json:"lastUpdated"`
	HoursWithEvents []string        `json:"hoursWithEvents"`
	Indices         ManifestIndices `json:"indices"`
}

type ManifestIndices struct {
	Authors []string            `json:"authors"`
	Kinds   []string            `json:"kinds"`
	Tags    map[string][]string `json:"tags"`
}

func NewManifest() *Manifest {
	return &Manifest{Indices: ManifestIndices{Tags: make(map[string][]string)}}
}

// LoadManifest reads the manifest blob, returning an empty manifest when none
// exists yet.
func LoadManifest(blobs BlobStore) (*Manifest, error) {
	data, found, err := blobs.Get(manifestKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return NewManifest(), nil
	}
	m := NewManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if m.Indices.Tags == nil {
		m.Indices.Tags = make(map[string][]string)
	}
	return m, nil
}

// Save persists the manifest. Callers write it after the batch's blobs and
// hot-store deletes, so a crash mid-batch re-archives rather than losing
// events.
func (m *Manifest) Save(blobs BlobStore) error {
	m.LastUpdated = time.Now().Unix()
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return blobs.Put(manifestKey, data)
}

// insertSorted adds v to a sorted string set.
func insertSorted(set []string, v string) []string {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

func containsSorted(set []string, v string) bool {
	i := sort.SearchStrings(set, v)
	return i < len(set) && set[i] == v
}

func (m *Manifest) AddHour(hour string) {
	m.HoursWithEvents = insertSorted(m.HoursWithEvents, hour)
	m.FirstHour = m.HoursWithEvents[0]
	m.LastHour = m.HoursWithEvents[len(m.HoursWithEvents)-1]
}

func (m *Manifest) AddAuthor(pubkey string) {
	m.Indices.Authors = insertSorted(m.Indices.Authors, pubkey)
}

func (m *Manifest) AddKind(kind string) {
	m.Indices.Kinds = insertSorted(m.Indices.Kinds, kind)
}

func (m *Manifest) AddTag(name, value string) {
	m.Indices.Tags[name] = insertSorted(m.Indices.Tags[name], value)
}
