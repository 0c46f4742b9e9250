package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationStatusTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ValidationStatus
		to      ValidationStatus
		allowed bool
	}{
		{name: "pending to valid", from: ValidationStatusPending, to: ValidationStatusValid, allowed: true},
		{name: "pending to invalid", from: ValidationStatusPending, to: ValidationStatusInvalid, allowed: true},
		{name: "pending cannot skip to committed", from: ValidationStatusPending, to: ValidationStatusCommitted, allowed: false},
		{name: "valid to approved", from: ValidationStatusValid, to: ValidationStatusApprovedForCommit, allowed: true},
		{name: "valid back to pending on correction", from: ValidationStatusValid, to: ValidationStatusPending, allowed: true},
		{name: "valid to rejected", from: ValidationStatusValid, to: ValidationStatusRejected, allowed: true},
		{name: "invalid back to pending", from: ValidationStatusInvalid, to: ValidationStatusPending, allowed: true},
		{name: "invalid cannot be approved", from: ValidationStatusInvalid, to: ValidationStatusApprovedForCommit, allowed: false},
		{name: "approved to committed", from: ValidationStatusApprovedForCommit, to: ValidationStatusCommitted, allowed: true},
		{name: "approved to rejected", from: ValidationStatusApprovedForCommit, to: ValidationStatusRejected, allowed: true},
		{name: "committed is terminal", from: ValidationStatusCommitted, to: ValidationStatusPending, allowed: false},
		{name: "rejected is terminal", from: ValidationStatusRejected, to: ValidationStatusPending, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tt.from.Transition(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, next)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, next)
			}
		})
	}
}

func TestPackageStatusCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    PackageStatus
		to      PackageStatus
		allowed bool
	}{
		{name: "received to verified", from: PackageStatusReceived, to: PackageStatusVerified, allowed: true},
		{name: "received to rejected", from: PackageStatusReceived, to: PackageStatusRejected, allowed: true},
		{name: "received cannot skip to committing", from: PackageStatusReceived, to: PackageStatusCommitting, allowed: false},
		{name: "verified to staged", from: PackageStatusVerified, to: PackageStatusStaged, allowed: true},
		{name: "staged to validated", from: PackageStatusStaged, to: PackageStatusValidated, allowed: true},
		{name: "validated to ready", from: PackageStatusValidated, to: PackageStatusReadyToCommit, allowed: true},
		{name: "ready to committing", from: PackageStatusReadyToCommit, to: PackageStatusCommitting, allowed: true},
		{name: "committing to completed", from: PackageStatusCommitting, to: PackageStatusCompleted, allowed: true},
		{name: "committing to failed", from: PackageStatusCommitting, to: PackageStatusFailed, allowed: true},
		{name: "completed is terminal", from: PackageStatusCompleted, to: PackageStatusReceived, allowed: false},
		{name: "validated can be cancelled", from: PackageStatusValidated, to: PackageStatusCancelled, allowed: true},
		{name: "cancelled is terminal", from: PackageStatusCancelled, to: PackageStatusReceived, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPackageStatusIsTerminal(t *testing.T) {
	assert.True(t, PackageStatusCompleted.IsTerminal())
	assert.True(t, PackageStatusFailed.IsTerminal())
	assert.True(t, PackageStatusCancelled.IsTerminal())
	assert.True(t, PackageStatusRejected.IsTerminal())
	assert.False(t, PackageStatusReceived.IsTerminal())
	assert.False(t, PackageStatusCommitting.IsTerminal())
}

func TestTransferStatusTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TransferStatus
		to      TransferStatus
		allowed bool
	}{
		{name: "pending to in progress", from: TransferStatusPending, to: TransferStatusInProgress, allowed: true},
		{name: "pending to cancelled", from: TransferStatusPending, to: TransferStatusCancelled, allowed: true},
		{name: "in progress to transferred", from: TransferStatusInProgress, to: TransferStatusTransferred, allowed: true},
		{name: "in progress to failed", from: TransferStatusInProgress, to: TransferStatusFailed, allowed: true},
		{name: "in progress to partial", from: TransferStatusInProgress, to: TransferStatusPartialTransfer, allowed: true},
		{name: "failed retries to pending", from: TransferStatusFailed, to: TransferStatusPending, allowed: true},
		{name: "transferred to synchronized", from: TransferStatusTransferred, to: TransferStatusSynchronized, allowed: true},
		{name: "transferred cannot fail", from: TransferStatusTransferred, to: TransferStatusFailed, allowed: false},
		{name: "synchronized is terminal", from: TransferStatusSynchronized, to: TransferStatusPending, allowed: false},
		{name: "cancelled is terminal", from: TransferStatusCancelled, to: TransferStatusPending, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tt.from.Transition(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, next)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestCommitOrderCoversEveryFamily(t *testing.T) {
	assert.Len(t, CommitOrder, 8)
	seen := map[EntityFamily]bool{}
	for _, family := range CommitOrder {
		seen[family] = true
	}
	assert.True(t, seen[FamilyBuilding])
	assert.True(t, seen[FamilySurvey])

	// dependencies commit before their dependents
	index := map[EntityFamily]int{}
	for i, family := range CommitOrder {
		index[family] = i
	}
	assert.Less(t, index[FamilyBuilding], index[FamilyUnit])
	assert.Less(t, index[FamilyUnit], index[FamilyHousehold])
	assert.Less(t, index[FamilyPerson], index[FamilyHousehold])
	assert.Less(t, index[FamilyPerson], index[FamilyEvidence])
	assert.Less(t, index[FamilyUnit], index[FamilyClaim])
}
