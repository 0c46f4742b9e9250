package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the import pipeline. Routes translate these to
// httperror codes; pipeline stages wrap them with stage context.
var (
	ErrPackageNotFound    = errors.New("import package not found")
	ErrDuplicatePackage   = errors.New("package already received")
	ErrIntegrityFailure   = errors.New("package integrity verification failed")
	ErrContainerCorrupt   = errors.New("package container is corrupt or unreadable")
	ErrManifestInvalid    = errors.New("package manifest is invalid")
	ErrVocabIncompatible  = errors.New("vocabulary versions are incompatible")
	ErrUnresolvedConflict = errors.New("package has unresolved conflicts")
	ErrCommitFailed       = errors.New("package commit failed")
	ErrNotCommittable     = errors.New("package is not in a committable state")
	ErrTransferExhausted  = errors.New("transfer retry limit reached")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// IntegrityError carries the checksum mismatch details for quarantine reports
type IntegrityError struct {
	PackageID string
	Expected  string
	Actual    string
	Kind      string // "file", "content", "signature"
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check (%s) failed for package %s: expected %s, got %s", e.Kind, e.PackageID, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityFailure
}

// ManifestError identifies the manifest field that failed to parse
type ManifestError struct {
	Field  string
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest field %q: %s", e.Field, e.Reason)
}

func (e *ManifestError) Unwrap() error {
	return ErrManifestInvalid
}

// CommitError records which staged rows failed during an aborted commit
type CommitError struct {
	PackageID string
	Family    string
	FailedIDs []string
	Cause     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of package %s failed on %s (%d records): %v", e.PackageID, e.Family, len(e.FailedIDs), e.Cause)
}

func (e *CommitError) Unwrap() error {
	return ErrCommitFailed
}
