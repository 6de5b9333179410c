package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type migrateProbe struct {
	ID   uint   `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex"`
}

func TestDialector(t *testing.T) {
	testCases := []struct {
		name        string
		dbType      string
		dsn         string
		expectName  string
		expectError bool
	}{
		{"SQLiteDefault", "", "", "sqlite", false},
		{"SQLite", "sqlite", "file::memory:", "sqlite", false},
		{"MySQL", "mysql", "", "mysql", false},
		{"Postgres", "postgres", "postgres://u:p@localhost:5432/db?sslmode=disable", "postgres", false},
		{"PostgresBadDSN", "postgres", "postgres://u:p@localhost:notaport/db", "", true},
		{"Unknown", "oracle", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := Dialector(tc.dbType, tc.dsn)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectName, d.Name())
		})
	}
}

func TestNewGormDB_TranslatesDuplicateKey(t *testing.T) {
	gdb, err := NewGormDB(Options{Type: "sqlite", DSN: "file:gorm_test_dup?mode=memory&cache=shared", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(gdb, &migrateProbe{}))

	require.NoError(t, gdb.Create(&migrateProbe{Code: "A"}).Error)
	err = gdb.Create(&migrateProbe{Code: "A"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}
