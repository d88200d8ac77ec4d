package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

// SqliteStore is the hot store: events, tag rows, the video projection, the
// FTS indexes and the payment ledger, all in one SQLite database.
type SqliteStore struct {
	DB       *gorm.DB
	settings types.RelaySettings
}

// InitStore opens (creating if needed) the relay database at dir/relay.db
// and runs pending migrations. Pass ":memory:" as dir for tests.
func InitStore(dir string, settings types.RelaySettings) (*SqliteStore, error) {
	store := &SqliteStore{settings: settings}

	var dsn string
	if dir == ":memory:" {
		dsn = "file::memory:?cache=shared"
	} else {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				logging.Fatalf("Failed to create database directory: %v", err)
			}
		}
		// WAL for concurrent readers, immediate transactions to reduce
		// writer deadlocks, long busy timeout for archive batches.
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=30000&_txlock=immediate&_synchronous=normal&cache=shared", filepath.Join(dir, "relay.db"))
	}

	var err error
	store.DB, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		PrepareStmt:          true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(30)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)
	sqlDB.SetConnMaxIdleTime(20 * time.Minute)

	if err := store.runMigrations(); err != nil {
		return nil, err
	}

	store.DB.Exec("PRAGMA foreign_keys = ON")
	store.DB.Exec("PRAGMA journal_size_limit = 67110000")
	store.DB.Exec("PRAGMA mmap_size = 134217728")
	store.DB.Exec("PRAGMA cache_size = -32000")
	store.DB.Exec("PRAGMA temp_store = MEMORY")

	return store, nil
}

// Close closes the underlying database handle.
func (s *SqliteStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppliedMigrations returns the migration rows for the diagnostics endpoint.
func (s *SqliteStore) AppliedMigrations() ([]types.SchemaMigration, error) {
	var rows []types.SchemaMigration
	if err := s.DB.Order("version ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ResolveProfileName returns the pubkey whose newest kind-0 profile carries
// the given name, for NIP-05 nostr.json lookups. The JSON field is extracted
// in SQL so the lookup works no matter how many profiles are stored.
func (s *SqliteStore) ResolveProfileName(name string) (string, error) {
	var row types.NostrEvent
	err := s.DB.Select("pubkey").
		Where("kind = 0 AND json_extract(content, '$.name') = ?", name).
		Order("created_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", stores.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Pubkey, nil
}

// IsPaidPubkey reports whether the pubkey has a completed payment row.
func (s *SqliteStore) IsPaidPubkey(pubkey string) (bool, error) {
	var count int64
	if err := s.DB.Model(&types.PaidPubkey{}).Where("pubkey = ?", pubkey).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SavePaidPubkey records a completed pay-to-relay payment.
func (s *SqliteStore) SavePaidPubkey(pubkey string, amount int64) error {
	row := types.PaidPubkey{Pubkey: pubkey, Amount: amount}
	return s.DB.Where("pubkey = ?", pubkey).FirstOrCreate(&row).Error
}
