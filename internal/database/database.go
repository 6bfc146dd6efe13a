package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"harmonyshield/internal/config"
	"harmonyshield/internal/models"
)

// Database wraps the gorm connection used by every repository
type Database struct {
	db     *gorm.DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// New opens a postgres connection with the configured pool settings
func New(cfg *config.DatabaseConfig, log *zap.Logger) (*Database, error) {
	if cfg == nil {
		return nil, errors.New("database config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	d := &Database{
		logger: log.Named("database"),
		config: cfg,
	}

	d.logger.Info("Connecting to database",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("name", cfg.Name))

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access connection pool")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	d.db = db
	if err := d.Health(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	d.logger.Info("Successfully connected to database")
	return d, nil
}

// Wrap adopts an already opened gorm connection, used with sqlite in tests
func Wrap(db *gorm.DB, log *zap.Logger) *Database {
	return &Database{db: db, logger: log.Named("database")}
}

// DB returns the underlying gorm handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Migrate creates or updates every table
func (d *Database) Migrate() error {
	d.logger.Info("Running auto-migration")
	if err := d.db.AutoMigrate(models.All()...); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

// Health pings the database with a short timeout
func (d *Database) Health(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database connection not initialized")
	}

	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	d.logger.Info("Closing database connection")
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
