package persistence

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadMigrationsOrdersSQLFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_statuses.sql": {Data: []byte("ALTER TABLE tickets ADD COLUMN note TEXT;")},
		"0001_init.sql":     {Data: []byte("CREATE TABLE queues (id TEXT);")},
		"README.md":         {Data: []byte("notes")},
		"archive/0000.sql":  {Data: []byte("SELECT 1;")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "0001_init", migrations[0].Version)
	assert.Equal(t, "0002_statuses", migrations[1].Version)
	assert.Contains(t, migrations[1].SQL, "ADD COLUMN note")
}

func TestLoadMigrationsRejectsEmptyFile(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"0001_init.sql": {Data: []byte("  \n")}})
	assert.ErrorContains(t, err, "0001_init.sql is empty")
}

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	all := []Migration{{Version: "0001_init"}, {Version: "0002_statuses"}, {Version: "0003_indexes"}}

	pending := PendingMigrations(all, map[string]bool{"0001_init": true, "0003_indexes": true})
	require.Len(t, pending, 1)
	assert.Equal(t, "0002_statuses", pending[0].Version)

	assert.Len(t, PendingMigrations(all, nil), 3)
}

func TestRunMigrationsWithoutPool(t *testing.T) {
	assert.NoError(t, RunMigrationsFrom(context.Background(), nil, "does-not-exist", zap.NewNop()))
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	migrations, err := LoadMigrations(os.DirFS("../../migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "0001_init", migrations[0].Version)
}
