package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"

	"github.com/Ramsey-B/clover/pkg/container"
	"github.com/Ramsey-B/clover/pkg/models"
)

func buildContainer(t *testing.T, entries map[string]string, withManifest bool) *container.Container {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.uhc")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	if withManifest {
		_, err = db.Exec(`CREATE TABLE manifest (key TEXT, value TEXT)`)
		require.NoError(t, err)
		for k, v := range entries {
			_, err = db.Exec(`INSERT INTO manifest VALUES (?, ?)`, k, v)
			require.NoError(t, err)
		}
	}
	require.NoError(t, db.Close())

	c, err := container.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func validEntries() map[string]string {
	return map[string]string{
		"package_id":          "7a9e7cb4-9a45-4f7e-9a10-64c59a3e8f21",
		"schema_version":      "3",
		"created_utc":         "2026-05-10T08:30:00Z",
		"device_id":           "tablet-041",
		"app_version":         "2.4.1",
		"exported_by_user_id": "a8f5b7c1-1b2e-4d3f-8a9b-0c1d2e3f4a5b",
		"exported_date_utc":   "2026-05-10 09:00:00",
		"checksum":            "ABCDEF0123456789",
		"person_count":        "12",
		"building_count":      "3",
		"vocab_versions":      `{"relation_type":"1.2.0","evidence_type":"2.0.1"}`,
	}
}

func newTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	reader := NewReader(newTestLogger())

	t.Run("parses a complete manifest", func(t *testing.T) {
		c := buildContainer(t, validEntries(), true)

		data, err := reader.Read(ctx, c)
		require.NoError(t, err)

		assert.Equal(t, "7a9e7cb4-9a45-4f7e-9a10-64c59a3e8f21", data.PackageID)
		assert.Equal(t, "3", data.SchemaVersion)
		assert.Equal(t, "tablet-041", data.DeviceID)
		assert.Equal(t, "ABCDEF0123456789", data.Checksum)
		assert.Equal(t, 12, data.PersonCount)
		assert.Equal(t, 3, data.BuildingCount)
		assert.Equal(t, 0, data.ClaimCount)
		assert.Equal(t, "1.2.0", data.VocabVersions["relation_type"])
		assert.Equal(t, "2.0.1", data.VocabVersions["evidence_type"])
	})

	t.Run("manifest keys are case-insensitive", func(t *testing.T) {
		entries := validEntries()
		entries["Package_ID"] = entries["package_id"]
		delete(entries, "package_id")
		c := buildContainer(t, entries, true)

		data, err := reader.Read(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, "7a9e7cb4-9a45-4f7e-9a10-64c59a3e8f21", data.PackageID)
	})

	t.Run("missing manifest table is a corrupt package", func(t *testing.T) {
		c := buildContainer(t, nil, false)

		_, err := reader.Read(ctx, c)
		require.ErrorIs(t, err, models.ErrContainerCorrupt)
	})

	t.Run("missing required GUID fails", func(t *testing.T) {
		entries := validEntries()
		delete(entries, "package_id")
		c := buildContainer(t, entries, true)

		_, err := reader.Read(ctx, c)
		require.ErrorIs(t, err, models.ErrManifestInvalid)
		var merr *models.ManifestError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "package_id", merr.Field)
	})

	t.Run("malformed GUID fails", func(t *testing.T) {
		entries := validEntries()
		entries["exported_by_user_id"] = "not-a-guid"
		c := buildContainer(t, entries, true)

		_, err := reader.Read(ctx, c)
		require.ErrorIs(t, err, models.ErrManifestInvalid)
	})

	t.Run("unparseable created date fails", func(t *testing.T) {
		entries := validEntries()
		entries["created_utc"] = "soonish"
		c := buildContainer(t, entries, true)

		_, err := reader.Read(ctx, c)
		require.ErrorIs(t, err, models.ErrManifestInvalid)
	})

	t.Run("malformed vocab_versions degrades to empty map", func(t *testing.T) {
		entries := validEntries()
		entries["vocab_versions"] = "{not json"
		c := buildContainer(t, entries, true)

		data, err := reader.Read(ctx, c)
		require.NoError(t, err)
		assert.Empty(t, data.VocabVersions)
	})

	t.Run("negative counts clamp to zero", func(t *testing.T) {
		entries := validEntries()
		entries["person_count"] = "-4"
		c := buildContainer(t, entries, true)

		data, err := reader.Read(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, 0, data.PersonCount)
	})
}

func TestParseDateFormats(t *testing.T) {
	for _, v := range []string{"2026-05-10T08:30:00Z", "2026-05-10 08:30:00"} {
		t.Run(fmt.Sprintf("accepts %s", v), func(t *testing.T) {
			ts, err := parseDate(v)
			require.NoError(t, err)
			assert.Equal(t, 2026, ts.Year())
		})
	}
}
