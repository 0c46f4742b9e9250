// Package packagestore persists package files on disk. Uploads land in a
// quarantine directory next to a checksum sidecar; processed packages move to
// a dated archive.
package packagestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/retry"
)

// Store manages the quarantine and archive directories
type Store struct {
	quarantineDir string
	archiveDir    string
	logger        ectologger.Logger
}

// NewStore creates a Store and ensures both directories exist
func NewStore(quarantineDir, archiveDir string, logger ectologger.Logger) (*Store, error) {
	for _, dir := range []string{quarantineDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create package directory %s", dir)
		}
	}
	return &Store{
		quarantineDir: quarantineDir,
		archiveDir:    archiveDir,
		logger:        logger,
	}, nil
}

// QuarantinePath returns the path a package occupies while under processing
func (s *Store) QuarantinePath(packageID string) string {
	return filepath.Join(s.quarantineDir, packageID+".uhc")
}

// checksumSidecarPath is the declared-checksum file written next to the package
func (s *Store) checksumSidecarPath(packageID string) string {
	return filepath.Join(s.quarantineDir, packageID+".sha256")
}

// ArchivePath returns the dated archive location for a package
func (s *Store) ArchivePath(packageID string, receivedAt time.Time) string {
	return filepath.Join(s.archiveDir,
		fmt.Sprintf("%04d", receivedAt.Year()),
		fmt.Sprintf("%02d", receivedAt.Month()),
		packageID+".uhc")
}

// Exists reports whether the package is already present in quarantine,
// supporting idempotent re-delivery from devices.
func (s *Store) Exists(packageID string) (bool, error) {
	_, err := os.Stat(s.QuarantinePath(packageID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "failed to stat quarantined package")
}

// SaveToQuarantine streams the uploaded package bytes into quarantine and
// writes the declared checksum sidecar
func (s *Store) SaveToQuarantine(ctx context.Context, packageID string, declaredChecksum string, body io.Reader) (string, error) {
	path := s.QuarantinePath(packageID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "failed to create quarantine file")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.Wrap(err, "failed to write quarantine file")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "failed to flush quarantine file")
	}

	if err := os.WriteFile(s.checksumSidecarPath(packageID), []byte(declaredChecksum), 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write checksum sidecar")
	}

	return path, nil
}

// ReadDeclaredChecksum reads the checksum sidecar written at upload time
func (s *Store) ReadDeclaredChecksum(packageID string) (string, error) {
	data, err := os.ReadFile(s.checksumSidecarPath(packageID))
	if err != nil {
		return "", errors.Wrap(err, "failed to read checksum sidecar")
	}
	return string(data), nil
}

// Archive moves a processed package from quarantine to the dated archive and
// removes the sidecar. Returns the archive path.
func (s *Store) Archive(ctx context.Context, packageID string, receivedAt time.Time) (string, error) {
	src := s.QuarantinePath(packageID)
	dst := s.ArchivePath(packageID, receivedAt)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create archive directory")
	}

	if err := os.Rename(src, dst); err != nil {
		// Cross-device moves fall back to copy+delete
		if err := copyFile(src, dst); err != nil {
			return "", errors.Wrap(err, "failed to archive package")
		}
		if err := s.DeleteFromQuarantine(ctx, packageID); err != nil {
			return "", err
		}
	}

	if err := os.Remove(s.checksumSidecarPath(packageID)); err != nil && !os.IsNotExist(err) {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"package_id": packageID,
		}).Warn("Failed to remove checksum sidecar after archive")
	}

	return dst, nil
}

// DeleteFromQuarantine removes a quarantined package. Deletes retry with
// back-off because sqlite handles can lag their release on pooled connections.
func (s *Store) DeleteFromQuarantine(ctx context.Context, packageID string) error {
	path := s.QuarantinePath(packageID)
	err := retry.Do(ctx, retry.DefaultMaxAttempts, retry.DefaultBaseDelay, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"package_id": packageID,
		}).Error("Failed to delete quarantined package after retries")
		return errors.Wrap(err, "failed to delete quarantined package")
	}

	if err := os.Remove(s.checksumSidecarPath(packageID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete checksum sidecar")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
