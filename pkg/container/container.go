// Package container reads self-contained package files. A package is a single
// sqlite database holding a manifest key/value table plus one data table per
// entity family.
package container

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ManifestTable is the key/value metadata table every package must carry
const ManifestTable = "manifest"

// AttachmentsTable holds binary attachments and is excluded from content hashing
const AttachmentsTable = "attachments"

// Container is a read-only handle on one package file
type Container struct {
	db   *sql.DB
	path string
}

// Open opens the package file read-only
func Open(path string) (*Container, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open package container")
	}
	return &Container{db: db, path: path}, nil
}

// Close releases the underlying file handle. Callers must close before the
// package file can be archived or deleted.
func (c *Container) Close() error {
	return c.db.Close()
}

// Path returns the filesystem path the container was opened from
func (c *Container) Path() string {
	return c.path
}

// Tables lists user table names sorted ascending, excluding engine-internal
// tables
func (c *Container) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list container tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate container tables")
	}

	sort.Strings(names)
	return names, nil
}

// HasTable reports whether the named table exists
func (c *Container) HasTable(ctx context.Context, name string) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check container table")
	}
	return count > 0, nil
}

// Columns returns the table's column names sorted ascending
func (c *Container) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %s", table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, errors.Wrapf(err, "failed to scan column of %s", table)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate columns of %s", table)
	}

	sort.Strings(cols)
	return cols, nil
}

// ForEachRow streams the table's rows in a stable order (sorted by the given
// column list) and invokes fn with one value per column, in column order.
// Null values arrive as invalid sql.NullString.
func (c *Container) ForEachRow(ctx context.Context, table string, cols []string, fn func(values []sql.NullString) error) error {
	if len(cols) == 0 {
		return nil
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`,
		strings.Join(quoted, ", "), quoteIdent(table), strings.Join(quoted, ", "))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrapf(err, "failed to stream rows of %s", table)
	}
	defer rows.Close()

	values := make([]sql.NullString, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return errors.Wrapf(err, "failed to scan row of %s", table)
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	return errors.Wrapf(rows.Err(), "failed to iterate rows of %s", table)
}

// ReadKeyValues reads a two-column key/value table into a map
func (c *Container) ReadKeyValues(ctx context.Context, table string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT key, value FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key/value table %s", table)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrapf(err, "failed to scan key/value row of %s", table)
		}
		result[key] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate key/value table %s", table)
	}
	return result, nil
}

// SelectAll reads every row of a table as column-name -> value maps, used when
// ingesting data tables into staging. Rows come back in rowid order.
func (c *Container) SelectAll(ctx context.Context, table string) ([]map[string]sql.NullString, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select from %s", table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read result columns of %s", table)
	}

	var result []map[string]sql.NullString
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, errors.Wrapf(err, "failed to scan row of %s", table)
		}
		row := make(map[string]sql.NullString, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate rows of %s", table)
	}
	return result, nil
}

// quoteIdent double-quotes a sqlite identifier
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
