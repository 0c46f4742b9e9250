package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func writeMigrationFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
}

func TestGetLatestVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFiles(t, dir,
		"000001_import_packages.up.sql",
		"000001_import_packages.down.sql",
		"000002_staging_tables.up.sql",
		"000007_audit_entries.up.sql",
	)

	latest, err := getLatestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, latest)
}

func TestGetLatestVersionIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFiles(t, dir, "000003_conflicts.up.sql", "README.md", "notes.sql")

	latest, err := getLatestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, latest)
}

func TestGetLatestVersionEmptyFolder(t *testing.T) {
	_, err := getLatestVersion(t.TempDir())
	assert.Error(t, err)
}

func TestResolveMigrationFolderAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	ms := NewMigrationService(newTestLogger(), &MigrationConfig{MigrationFolderPath: dir})

	assert.Equal(t, dir, ms.resolveMigrationFolder())
}

func TestMigrateMissingFolder(t *testing.T) {
	ms := NewMigrationService(newTestLogger(), &MigrationConfig{MigrationFolderPath: "/does/not/exist"})

	err := ms.Migrate("clover", nil)
	assert.Error(t, err)
}
