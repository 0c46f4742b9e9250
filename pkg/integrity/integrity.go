// Package integrity computes and verifies package checksums. The canonical
// content checksum hashes logical content only, so two packages with identical
// data but different physical row or column order hash identically.
package integrity

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/container"
)

// NullSentinel renders NULL values in the canonical form
const NullSentinel = "<NULL>"

// excludedTables are skipped by the canonical content checksum
var excludedTables = map[string]bool{
	container.ManifestTable:    true,
	container.AttachmentsTable: true,
}

// ComputeWholeFileChecksum hashes the raw package bytes
func ComputeWholeFileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open package file for hashing")
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, "failed to hash package file")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeCanonicalContentChecksum hashes the container's logical content:
// data tables sorted by name (manifest/attachments excluded), columns sorted
// by name, rows in a stable order, each row rendered as tab-joined col=value
// pairs with NULLs as a fixed sentinel. Each table contributes a
// "TABLE:<name>\n" header followed by its row lines.
func ComputeCanonicalContentChecksum(ctx context.Context, c *container.Container) (string, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, table := range tables {
		if excludedTables[table] {
			continue
		}

		cols, err := c.Columns(ctx, table)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(h, "TABLE:%s\n", table)

		err = c.ForEachRow(ctx, table, cols, func(values []sql.NullString) error {
			parts := make([]string, len(cols))
			for i, col := range cols {
				v := NullSentinel
				if values[i].Valid {
					v = values[i].String
				}
				parts[i] = col + "=" + v
			}
			fmt.Fprintf(h, "%s\n", strings.Join(parts, "\t"))
			return nil
		})
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum compares two hex digests case-insensitively
func VerifyChecksum(declared, actual string) bool {
	return strings.EqualFold(strings.TrimSpace(declared), strings.TrimSpace(actual))
}

// Verifier applies the signature policy to packages
type Verifier struct {
	signatureRequired bool
}

// NewVerifier creates a Verifier with the given signature policy
func NewVerifier(signatureRequired bool) *Verifier {
	return &Verifier{signatureRequired: signatureRequired}
}

// VerifySignature checks the package's digital signature. When signing is not
// required, any signature (including none) passes. When required, an absent
// signature fails closed.
//
// TODO: replace the non-empty placeholder with an asymmetric signature over
// the canonical content checksum once a signing scheme is chosen.
func (v *Verifier) VerifySignature(signature string) error {
	if !v.signatureRequired {
		return nil
	}
	if strings.TrimSpace(signature) == "" {
		return errors.New("digital signature required but absent")
	}
	return nil
}
