// Package datastore opens the relational store and owns its schema.
package datastore

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/hearthline/dealerdash/internal/conf"
	"github.com/hearthline/dealerdash/internal/datastore/entities"
	"github.com/hearthline/dealerdash/internal/logger"
)

// Manager holds the database handle shared by all repositories.
type Manager struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// Open connects to the database selected by cfg.Driver and applies pool
// settings. The schema is not touched; call Migrate for that.
func Open(cfg conf.DatabaseSettings, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Nop()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	level := gorm_logger.Silent
	if cfg.Debug {
		level = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gorm_logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if d := cfg.ConnMaxLife.Std(); d > 0 {
			sqlDB.SetConnMaxLifetime(d)
		}
	}

	log.Info("database connected",
		logger.Component("datastore"),
		logger.String("driver", cfg.Driver))

	return &Manager{db: db, driver: cfg.Driver, log: log}, nil
}

func dialectorFor(cfg conf.DatabaseSettings) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Path), nil
	case "mysql":
		dsn, err := normalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// normalizeMySQLDSN forces parseTime and UTC so DATETIME columns scan into
// time.Time values comparable with the checker clock.
func normalizeMySQLDSN(dsn string) (string, error) {
	c, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// Models lists every table the application owns, in migration order.
func Models() []any {
	return []any{
		&entities.Order{},
		&entities.Material{},
		&entities.Alert{},
	}
}

// Migrate creates or updates the schema.
func (m *Manager) Migrate() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	m.log.Debug("schema migrated", logger.Component("datastore"))
	return nil
}

// DB returns the underlying handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns the configured driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Ping verifies the connection is alive.
func (m *Manager) Ping() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
