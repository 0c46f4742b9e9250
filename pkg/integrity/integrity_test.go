package integrity

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/container"
)

func buildFixture(t *testing.T, dir, name string, stmts []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func TestComputeCanonicalContentChecksum(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Same logical content, different column declaration and insert order
	a := buildFixture(t, dir, "a.uhc", []string{
		`CREATE TABLE manifest (key TEXT, value TEXT)`,
		`INSERT INTO manifest VALUES ('package_id', 'abc')`,
		`CREATE TABLE persons (id TEXT, first_name TEXT, last_name TEXT)`,
		`INSERT INTO persons VALUES ('p1', 'Amal', 'Haddad')`,
		`INSERT INTO persons VALUES ('p2', 'Nour', NULL)`,
	})
	b := buildFixture(t, dir, "b.uhc", []string{
		`CREATE TABLE persons (last_name TEXT, id TEXT, first_name TEXT)`,
		`INSERT INTO persons VALUES (NULL, 'p2', 'Nour')`,
		`INSERT INTO persons VALUES ('Haddad', 'p1', 'Amal')`,
		`CREATE TABLE manifest (key TEXT, value TEXT)`,
		`INSERT INTO manifest VALUES ('package_id', 'different')`,
	})

	ca, err := container.Open(a)
	require.NoError(t, err)
	defer ca.Close()
	cb, err := container.Open(b)
	require.NoError(t, err)
	defer cb.Close()

	hashA, err := ComputeCanonicalContentChecksum(ctx, ca)
	require.NoError(t, err)
	hashB, err := ComputeCanonicalContentChecksum(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB, "checksum must be invariant under row/column order")
	assert.Len(t, hashA, 64)

	t.Run("content change alters the checksum", func(t *testing.T) {
		c := buildFixture(t, dir, "c.uhc", []string{
			`CREATE TABLE persons (id TEXT, first_name TEXT, last_name TEXT)`,
			`INSERT INTO persons VALUES ('p1', 'Amal', 'Haddad')`,
			`INSERT INTO persons VALUES ('p2', 'Noura', NULL)`,
		})
		cc, err := container.Open(c)
		require.NoError(t, err)
		defer cc.Close()

		hashC, err := ComputeCanonicalContentChecksum(ctx, cc)
		require.NoError(t, err)
		assert.NotEqual(t, hashA, hashC)
	})

	t.Run("manifest and attachments are excluded", func(t *testing.T) {
		d := buildFixture(t, dir, "d.uhc", []string{
			`CREATE TABLE persons (id TEXT, first_name TEXT, last_name TEXT)`,
			`INSERT INTO persons VALUES ('p1', 'Amal', 'Haddad')`,
			`INSERT INTO persons VALUES ('p2', 'Nour', NULL)`,
			`CREATE TABLE attachments (id TEXT, data BLOB)`,
			`INSERT INTO attachments VALUES ('att1', x'deadbeef')`,
		})
		cd, err := container.Open(d)
		require.NoError(t, err)
		defer cd.Close()

		hashD, err := ComputeCanonicalContentChecksum(ctx, cd)
		require.NoError(t, err)
		assert.Equal(t, hashA, hashD)
	})
}

func TestComputeWholeFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.uhc")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := ComputeWholeFileChecksum(path)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
}

func TestVerifyChecksum(t *testing.T) {
	assert.True(t, VerifyChecksum("ABCDEF012345", "abcdef012345"))
	assert.True(t, VerifyChecksum("  abc  ", "ABC"))
	assert.False(t, VerifyChecksum("abc", "abd"))
}

func TestVerifySignature(t *testing.T) {
	t.Run("not required accepts absent signature", func(t *testing.T) {
		v := NewVerifier(false)
		assert.NoError(t, v.VerifySignature(""))
	})

	t.Run("required fails closed on absent signature", func(t *testing.T) {
		v := NewVerifier(true)
		assert.Error(t, v.VerifySignature(""))
		assert.Error(t, v.VerifySignature("   "))
	})

	t.Run("required accepts non-empty signature", func(t *testing.T) {
		v := NewVerifier(true)
		assert.NoError(t, v.VerifySignature("sig-bytes"))
	})
}
