package db

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/custody/internal/config"
)

func TestInit_Catalog(t *testing.T) {
	base := t.TempDir()
	database, err := Init(base)
	require.NoError(t, err)
	defer database.Close()

	require.FileExists(t, filepath.Join(base, FileName))
	require.DirExists(t, filepath.Join(base, "exports"))

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode;").Scan(&mode))
	require.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys;").Scan(&fk))
	require.Equal(t, 1, fk, "seals must not outlive their case")

	for _, table := range []string{"cases", "seals", "objects", "seal_transitions"} {
		var name string
		require.NoError(t,
			database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name),
			"table %s", table)
	}

	var idx string
	require.NoError(t, database.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_seal_transitions_seal'").Scan(&idx))

	version, err := GetUserVersion(database)
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestInit_RestrictsPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	base := filepath.Join(t.TempDir(), "nested", ".custody")
	database, err := Init(base)
	require.NoError(t, err)
	defer database.Close()

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(base, FileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInit_RejectsOrphanRows(t *testing.T) {
	database, err := Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec(`INSERT INTO seals (case_ref, number, created_at) VALUES ('CASE-404', 'S1', 0)`)
	require.Error(t, err, "seal without a case")

	_, err = database.Exec(`INSERT INTO cases (ref, created_at) VALUES ('CASE-001', 0)`)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO objects (case_ref, seal, letter, created_at) VALUES ('CASE-001', 'S9', 'A', 0)`)
	require.Error(t, err, "object without a seal")
}

func TestMigrate_UpgradesFromVersion1(t *testing.T) {
	base := t.TempDir()
	database, err := Init(base)
	require.NoError(t, err)
	_, err = database.Exec(`DROP TABLE seal_transitions`)
	require.NoError(t, err)
	require.NoError(t, SetUserVersion(database, 1))
	database.Close()

	database, err = Init(base)
	require.NoError(t, err)
	defer database.Close()
	var name string
	require.NoError(t, database.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='seal_transitions'").Scan(&name))
	version, err := GetUserVersion(database)
	require.NoError(t, err)
	require.Equal(t, 2, version)
}

func TestMigrate_Idempotent(t *testing.T) {
	base := t.TempDir()
	for range 3 {
		database, err := Init(base)
		require.NoError(t, err)
		version, err := GetUserVersion(database)
		require.NoError(t, err)
		require.Equal(t, CurrentSchemaVersion, version)
		database.Close()
	}
}

func TestConfigurePool(t *testing.T) {
	database, err := Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	ConfigurePool(database, nil)
	require.Zero(t, database.Stats().MaxOpenConnections)

	ConfigurePool(database, &config.Config{DBMaxOpenConns: 3, DBMaxIdleConns: 1})
	require.Equal(t, 3, database.Stats().MaxOpenConnections)
}
