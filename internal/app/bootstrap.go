// Package app holds the startup wiring shared by both binaries.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"value-calculation-service/internal/config"
	"value-calculation-service/internal/logging"
	"value-calculation-service/internal/models"
	gormdb "value-calculation-service/pkg/db"
)

// Runtime is what every binary needs before it starts serving.
type Runtime struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB
}

// ConfigFlag registers --config on cmd and returns its value holder.
func ConfigFlag(cmd *cobra.Command) *string {
	var path string
	cmd.PersistentFlags().StringVar(&path, "config", "", "path to a YAML config file (environment variables override it)")
	return &path
}

// Bootstrap loads configuration, builds the logger and opens the primary
// store, migrating it when configured to.
func Bootstrap(configPath, component string) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", component))

	gormDB, err := gormdb.NewGormDB(gormdb.Options{
		Type:          cfg.Database.Type,
		DSN:           cfg.Database.DSN,
		SlowThreshold: cfg.Database.SlowThreshold,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("Database initialized", zap.String("type", cfg.Database.Type))

	if cfg.Database.AutoMigrate {
		if err := gormdb.AutoMigrate(gormDB, models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database migration successful")
	}
	return &Runtime{Config: cfg, Logger: logger, DB: gormDB}, nil
}

// Close releases the primary store and flushes the logger.
func (r *Runtime) Close() {
	if sqlDB, err := r.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.Logger.Sync()
}
