package app

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap_MigratesSQLite(t *testing.T) {
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "bootstrap.db"))
	t.Setenv("LOG_LEVEL", "error")

	rt, err := Bootstrap("", "test")
	require.NoError(t, err)
	defer rt.Close()

	assert.True(t, rt.DB.Migrator().HasTable("calculation_tasks"))
	assert.True(t, rt.DB.Migrator().HasTable("calculation_results"))
}

func TestBootstrap_RejectsBadConfig(t *testing.T) {
	t.Setenv("DB_TYPE", "oracle")
	_, err := Bootstrap("", "test")
	assert.Error(t, err)

	_, err = Bootstrap(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	assert.Error(t, err)
}

func TestConfigFlag(t *testing.T) {
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	path := ConfigFlag(cmd)
	cmd.SetArgs([]string{"--config", "/etc/calc.yaml"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/etc/calc.yaml", *path)
}
