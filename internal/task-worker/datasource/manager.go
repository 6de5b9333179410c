// Package datasource resolves and pools connections to the databases
// that query steps run against.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/pkg/db"
	apperrors "value-calculation-service/pkg/errors"
)

// Manager caches one pool per data source id. The primary store is the
// last fallback when no binding and no default exist.
type Manager struct {
	primary *gorm.DB
	store   *store.Store
	logger  *zap.Logger

	mu    sync.Mutex
	pools map[uint]*gorm.DB
}

func NewManager(primary *gorm.DB, st *store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		primary: primary,
		store:   st,
		logger:  logger.Named("datasource"),
		pools:   make(map[uint]*gorm.DB),
	}
}

// Binding is the resolved target of one step. ID is zero for the primary store.
type Binding struct {
	ID   uint
	Name string
	DB   *gorm.DB
}

// Resolve picks the first non-nil id among candidates (step binding, task
// default, workflow default), then the system default, then the primary store.
func (m *Manager) Resolve(ctx context.Context, candidates ...*uint) (*Binding, error) {
	for _, id := range candidates {
		if id == nil || *id == 0 {
			continue
		}
		return m.open(ctx, *id)
	}

	def, err := m.store.DefaultDataSource(ctx)
	switch {
	case err == nil:
		return m.open(ctx, def.ID)
	case errors.Is(err, apperrors.ErrDataSourceNotFound):
		return &Binding{Name: "primary", DB: m.primary}, nil
	default:
		return nil, err
	}
}

func (m *Manager) open(ctx context.Context, id uint) (*Binding, error) {
	ds, err := m.store.GetDataSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("data source %d: %w", id, err)
	}
	if !ds.IsEnabled {
		return nil, fmt.Errorf("data source %s is disabled: %w", ds.Name, apperrors.ErrDataSourceNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pool, ok := m.pools[id]; ok {
		return &Binding{ID: id, Name: ds.Name, DB: pool}, nil
	}
	pool, err := connect(ds, m.logger)
	if err != nil {
		return nil, err
	}
	m.pools[id] = pool
	m.logger.Info("Opened data source pool", zap.Uint("data_source_id", id), zap.String("type", string(ds.DBType)))
	return &Binding{ID: id, Name: ds.Name, DB: pool}, nil
}

func connect(ds *models.DataSource, logger *zap.Logger) (*gorm.DB, error) {
	pool, err := db.NewGormDB(db.Options{
		Type:         string(ds.DBType),
		DSN:          ds.DSN,
		MaxOpenConns: ds.MaxOpenConns,
		MaxIdleConns: ds.MaxIdleConns,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data source %s: %w", ds.Name, err)
	}
	return pool, nil
}

// Ping tests connectivity of a data source without caching its pool.
func (m *Manager) Ping(ctx context.Context, id uint) error {
	ds, err := m.store.GetDataSource(ctx, id)
	if err != nil {
		return err
	}
	pool, err := connect(ds, m.logger)
	if err != nil {
		return err
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("data source %s unreachable: %w", ds.Name, err)
	}
	return nil
}

// Close releases every cached pool. The primary store is left open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, pool := range m.pools {
		if sqlDB, err := pool.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close data source %d: %w", id, err))
			}
		}
		delete(m.pools, id)
	}
	return errors.Join(errs...)
}
