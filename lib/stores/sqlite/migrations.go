package sqlite

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/logging"
)

type migration struct {
	version     int
	description string
	run         func(db *gorm.DB) error
}

// Migrations run in order at startup and are individually idempotent, so a
// crashed upgrade resumes cleanly.
var migrations = []migration{
	{
		version:     1,
		description: "core event tables",
		run: func(db *gorm.DB) error {
			return db.AutoMigrate(
				&types.NostrEvent{},
				&types.EventTag{},
				&types.CachedTag{},
				&types.ContentHash{},
				&types.PaidPubkey{},
			)
		},
	},
	{
		version:     2,
		description: "video projection and junction tables",
		run: func(db *gorm.DB) error {
			return db.AutoMigrate(
				&types.Video{},
				&types.VideoHashtag{},
				&types.VideoMention{},
				&types.VideoReference{},
				&types.VideoAddress{},
				&types.HashtagStat{},
			)
		},
	},
	{
		version:     3,
		description: "full-text search indexes",
		run: func(db *gorm.DB) error {
			for _, table := range ftsTables {
				stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(event_id UNINDEXED, body)", table)
				if err := db.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     4,
		description: "video projection sort indexes",
		run: func(db *gorm.DB) error {
			// One composite index per sort field, plus the hashtag-
			// prefixed variant, so every hot ORDER BY walks an index.
			for _, field := range []string{"loop_count", "likes", "views", "comments", "avg_completion"} {
				stmts := []string{
					fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_videos_%s_sort ON videos (%s DESC, created_at DESC, event_id ASC)", field, field),
					fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_videos_hashtag_%s_sort ON videos (hashtag, %s DESC, created_at DESC, event_id ASC)", field, field),
				}
				for _, stmt := range stmts {
					if err := db.Exec(stmt).Error; err != nil {
						return err
					}
				}
			}
			if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_videos_created_sort ON videos (created_at DESC, event_id ASC)").Error; err != nil {
				return err
			}
			return db.Exec("CREATE INDEX IF NOT EXISTS idx_videos_created_asc ON videos (created_at ASC, event_id ASC)").Error
		},
	},
}

func (s *SqliteStore) runMigrations() error {
	if err := s.DB.AutoMigrate(&types.SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to migrate schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int64
		if err := s.DB.Model(&types.SchemaMigration{}).Where("version = ?", m.version).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		if err := m.run(s.DB); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}

		row := types.SchemaMigration{Version: m.version, Description: m.description}
		if err := s.DB.Create(&row).Error; err != nil {
			return err
		}
		logging.Infof("Applied migration %d: %s", m.version, m.description)
	}

	return nil
}
