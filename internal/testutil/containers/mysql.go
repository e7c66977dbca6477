//go:build integration

package containers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"gorm.io/gorm"

	"github.com/hearthline/dealerdash/internal/conf"
	"github.com/hearthline/dealerdash/internal/datastore"
	"github.com/hearthline/dealerdash/internal/logger"
)

const defaultMySQLImage = "mysql:8.0"

// MySQLStore is a throwaway MySQL server with the dealerdash schema applied.
type MySQLStore struct {
	container *mysql.MySQLContainer
	store     *datastore.Manager
	settings  conf.DatabaseSettings
}

// NewMySQLStore starts MySQL, connects through datastore.Open and migrates.
// An empty image selects mysql:8.0.
func NewMySQLStore(ctx context.Context, image string) (*MySQLStore, error) {
	if image == "" {
		image = defaultMySQLImage
	}

	c, err := mysql.Run(ctx, image,
		mysql.WithDatabase("dealerdash_test"),
		mysql.WithUsername("dealerdash"),
		mysql.WithPassword("dealerdash"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4", "loc=UTC")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	settings := conf.DatabaseSettings{Driver: "mysql", DSN: dsn, MaxOpenConns: 16, MaxIdleConns: 4}
	store, err := datastore.Open(settings, logger.Nop())
	if err == nil {
		err = store.Migrate()
	}
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = c.Terminate(context.Background())
		return nil, err
	}

	return &MySQLStore{container: c, store: store, settings: settings}, nil
}

// Store returns the shared migrated store. Tests must not close it.
func (s *MySQLStore) Store() *datastore.Manager { return s.store }

// Settings returns database settings pointing at the container.
func (s *MySQLStore) Settings() conf.DatabaseSettings { return s.settings }

// Reset empties every dealerdash table.
func (s *MySQLStore) Reset(ctx context.Context) error {
	// FOREIGN_KEY_CHECKS is per session.
	return s.store.DB().WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
			return fmt.Errorf("failed to disable foreign key checks: %w", err)
		}
		defer tx.Exec("SET FOREIGN_KEY_CHECKS = 1")

		for _, model := range datastore.Models() {
			table := model.(interface{ TableName() string }).TableName()
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate %s: %w", table, err)
			}
		}
		return nil
	})
}

// Terminate closes the store and removes the container.
func (s *MySQLStore) Terminate(ctx context.Context) error {
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if err := s.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
