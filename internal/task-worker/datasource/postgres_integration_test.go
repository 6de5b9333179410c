package datasource

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/testutil"
)

func TestPostgresDataSource(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("his"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, `CREATE TABLE visits (dept TEXT NOT NULL, qty NUMERIC NOT NULL);
		INSERT INTO visits VALUES ('D01', 1000), ('D01', 0.5), ('D02', 200);`)
	require.NoError(t, err)

	gormDB := testutil.NewDB(t)
	ds := models.DataSource{Name: "his-pg", DBType: models.DBPostgres, DSN: connStr, IsEnabled: true}
	require.NoError(t, gormDB.Create(&ds).Error)

	m := NewManager(gormDB, store.New(gormDB), nil)
	defer m.Close()
	require.NoError(t, m.Ping(ctx, ds.ID))

	b, err := m.Resolve(ctx, &ds.ID)
	require.NoError(t, err)

	var total string
	require.NoError(t, b.DB.Raw("SELECT SUM(qty)::text FROM visits WHERE dept = ?", "D01").Scan(&total).Error)
	assert.Equal(t, "1000.5", total)
}
