package archive

import (
	"sync"

	"go.etcd.io/bbolt"
)

// BlobStore is the archive's backing object store. Keys are slash-separated
// paths; values are opaque blobs (JSONL batches, manifests, id pointers).
type BlobStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, data []byte) error
	Close() error
}

// MemoryBlobStore keeps blobs in a map, for tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (m *MemoryBlobStore) Put(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.blobs[key] = stored
	return nil
}

func (m *MemoryBlobStore) Close() error { return nil }

var blobBucket = []byte("blobs")

// BoltBlobStore stores blobs in a single-file bolt database. One bucket, key
// per blob.
type BoltBlobStore struct {
	db *bbolt.DB
}

func OpenBoltBlobStore(path string) (*BoltBlobStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blobBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBlobStore{db: db}, nil
}

func (b *BoltBlobStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blobBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	return out, found, err
}

func (b *BoltBlobStore) Put(key string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blobBucket).Put([]byte(key), data)
	})
}

func (b *BoltBlobStore) Close() error {
	return b.db.Close()
}
