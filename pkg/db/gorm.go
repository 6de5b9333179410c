package db

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DefaultMySQLDSN  = "root:@tcp(127.0.0.1:3306)/value_calculation?charset=utf8mb4&parseTime=True&loc=Local"
	DefaultSQLiteDSN = "gorm.db"
)

// Options configures a GORM connection.
type Options struct {
	Type          string // "mysql", "sqlite" or "postgres"
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	SlowThreshold time.Duration
	Logger        *zap.Logger
}

// Dialector picks the GORM dialector for a database type. Postgres goes
// through pgx's database/sql driver.
func Dialector(dbType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case "mysql":
		if dsn == "" {
			dsn = DefaultMySQLDSN
		}
		return mysql.Open(dsn), nil
	case "postgres":
		connConfig, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		return postgres.New(postgres.Config{Conn: stdlib.OpenDB(*connConfig)}), nil
	case "sqlite", "":
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// NewGormDB initializes and returns a GORM DB instance. Errors are
// translated so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewGormDB(opts Options) (*gorm.DB, error) {
	dialector, err := Dialector(opts.Type, opts.DSN)
	if err != nil {
		return nil, err
	}

	zl := opts.Logger
	if zl == nil {
		zl = zap.NewNop()
	}
	slow := opts.SlowThreshold
	if slow == 0 {
		slow = time.Second
	}
	gormLogger := logger.New(
		zap.NewStdLog(zl.Named("gorm")),
		logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}

	zl.Info("Database connection established", zap.String("type", opts.Type))
	return db, nil
}

// AutoMigrate performs auto-migration for the given GORM models.
func AutoMigrate(db *gorm.DB, models ...interface{}) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
