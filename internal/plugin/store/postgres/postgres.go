// Package postgres provides a server-backed message store for deployments
// where the archive outlives the host running the modems.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/config"
	"github.com/chirino/sms-service/internal/model"
	registrymigrate "github.com/chirino/sms-service/internal/registry/migrate"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"github.com/chirino/sms-service/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.MessageStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &Store{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

// Store is a MessageStore backed by postgres. Serialization is left to the
// connection pool; each MessageStore operation is a single statement.
type Store struct {
	db *gorm.DB
}

func (s *Store) Exists(ctx context.Context, msg model.Message) (bool, error) {
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
	msg.Normalize()
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, imei *string, after *time.Time) ([]model.Message, error) {
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
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }

func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DBKind != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.AutoMigrate(&model.Message{})
}
