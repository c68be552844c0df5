// Package sqlite provides the embedded message store. It is the default
// backend: a single-file database opened once at startup, with every
// operation serialized through one mutex so the poller and concurrent query
// handlers never interleave inside the driver.
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/config"
	"github.com/chirino/sms-service/internal/model"
	registrymigrate "github.com/chirino/sms-service/internal/registry/migrate"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MessageStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite database %q: %w", cfg.DBURL, err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// One handle; the mutex below is the real exclusion boundary.
			sqlDB.SetMaxOpenConns(1)

			// An in-memory database only exists on this handle, so the schema
			// must be created here rather than by the migrate registry.
			if strings.Contains(cfg.DBURL, ":memory:") {
				if err := db.AutoMigrate(&model.Message{}); err != nil {
					return nil, fmt.Errorf("failed to migrate in-memory schema: %w", err)
				}
			}
			return &Store{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// Store is a MessageStore backed by an embedded sqlite database.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

func (s *Store) Exists(ctx context.Context, msg model.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("imei = ? AND sender = ? AND text = ? AND timestamp = ?",
			msg.IMEI, msg.Sender, msg.Text, msg.Timestamp.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("exists check failed: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Insert(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Normalize()
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, imei *string, after *time.Time) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.db.WithContext(ctx).Model(&model.Message{})
	if imei != nil {
		tx = tx.Where("imei = ?", *imei)
	}
	if after != nil {
		tx = tx.Where("timestamp > ?", after.UTC())
	}

	var messages []model.Message
	if err := tx.Order("timestamp ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return messages, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DBKind != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to open %q: %w", cfg.DBURL, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.AutoMigrate(&model.Message{})
}
