package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/assignment"
	"github.com/Ramsey-B/clover/pkg/models"
)

var _ repository = (*assignment.Repository)(nil)

func newTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeRepo struct {
	assignments map[string]*models.BuildingAssignment
	acked       []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{assignments: map[string]*models.BuildingAssignment{}}
}

func (f *fakeRepo) Create(ctx context.Context, a *models.BuildingAssignment) (*models.BuildingAssignment, error) {
	if a.ID == "" {
		a.ID = "assign-" + a.BuildingID
	}
	a.Status = models.TransferStatusPending
	f.assignments[a.ID] = a
	return a, nil
}

func (f *fakeRepo) Get(ctx context.Context, tenantID, id string) (*models.BuildingAssignment, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, assert.AnError
	}
	return a, nil
}

func (f *fakeRepo) ListByCollector(ctx context.Context, tenantID, collectorUserID string, status models.TransferStatus, page, pageSize int) ([]models.BuildingAssignment, int, error) {
	var out []models.BuildingAssignment
	for _, a := range f.assignments {
		if a.CollectorUserID == collectorUserID && (status == "" || a.Status == status) {
			out = append(out, *a)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) ListPendingForCollectorSince(ctx context.Context, tenantID, collectorUserID string, since time.Time, maxRetries int) ([]models.BuildingAssignment, error) {
	var out []models.BuildingAssignment
	for _, a := range f.assignments {
		if a.CollectorUserID != collectorUserID {
			continue
		}
		if a.Status == models.TransferStatusPending || a.Status == models.TransferStatusPartialTransfer ||
			(a.Status == models.TransferStatusFailed && a.RetryCount < maxRetries) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tenantID, id string, next models.TransferStatus, errorMessage *string) (*models.BuildingAssignment, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, assert.AnError
	}
	status, err := a.Status.Transition(next)
	if err != nil {
		return nil, err
	}
	a.Status = status
	a.ErrorMessage = errorMessage
	if next == models.TransferStatusFailed {
		a.RetryCount++
	}
	return a, nil
}

func (f *fakeRepo) Acknowledge(ctx context.Context, tenantID string, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		a, ok := f.assignments[id]
		if ok && a.Status == models.TransferStatusTransferred {
			a.Status = models.TransferStatusSynchronized
			f.acked = append(f.acked, id)
			n++
		}
	}
	return n, nil
}

func TestAssignAndPull(t *testing.T) {
	repo := newFakeRepo()
	tracker := NewTracker(repo, 5, newTestLogger())

	_, err := tracker.Assign(context.Background(), "tenant-1", models.CreateAssignmentRequest{
		CollectorUserID: "collector-1",
		BuildingID:      "bldg-1",
	})
	require.NoError(t, err)

	pulled, err := tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.Equal(t, models.TransferStatusInProgress, pulled[0].Status)
}

func TestAssignRevisitRequiresParent(t *testing.T) {
	repo := newFakeRepo()
	tracker := NewTracker(repo, 5, newTestLogger())

	missing := "not-there"
	_, err := tracker.Assign(context.Background(), "tenant-1", models.CreateAssignmentRequest{
		CollectorUserID:    "collector-1",
		BuildingID:         "bldg-1",
		ParentAssignmentID: &missing,
	})
	assert.Error(t, err)
}

func TestAcknowledgeSynchronizes(t *testing.T) {
	repo := newFakeRepo()
	tracker := NewTracker(repo, 5, newTestLogger())

	a, err := tracker.Assign(context.Background(), "tenant-1", models.CreateAssignmentRequest{
		CollectorUserID: "collector-1", BuildingID: "bldg-1",
	})
	require.NoError(t, err)
	_, err = tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)

	acked, err := tracker.Acknowledge(context.Background(), "tenant-1", models.AcknowledgeTransferRequest{
		AssignmentIDs: []string{a.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), acked)
	assert.Equal(t, models.TransferStatusSynchronized, repo.assignments[a.ID].Status)
}

func TestPartialAcknowledgeRepullsDelta(t *testing.T) {
	repo := newFakeRepo()
	tracker := NewTracker(repo, 5, newTestLogger())

	created, err := tracker.Assign(context.Background(), "tenant-1", models.CreateAssignmentRequest{
		CollectorUserID: "collector-1",
		BuildingID:      "bldg-1",
	})
	require.NoError(t, err)

	_, err = tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)

	msg := "2 of 5 units received"
	acked, err := tracker.Acknowledge(context.Background(), "tenant-1", models.AcknowledgeTransferRequest{
		AssignmentIDs: []string{created.ID},
		Partial:       true,
		ErrorMessage:  &msg,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), acked)
	assert.Equal(t, models.TransferStatusPartialTransfer, repo.assignments[created.ID].Status)

	// the next pull hands the assignment out again for the delta push
	pulled, err := tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.Equal(t, models.TransferStatusInProgress, pulled[0].Status)

	// a full acknowledgement then completes the transfer
	acked, err = tracker.Acknowledge(context.Background(), "tenant-1", models.AcknowledgeTransferRequest{
		AssignmentIDs: []string{created.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), acked)
	assert.Equal(t, models.TransferStatusSynchronized, repo.assignments[created.ID].Status)
}

func TestFailedAssignmentRetriesOnNextPull(t *testing.T) {
	repo := newFakeRepo()
	tracker := NewTracker(repo, 5, newTestLogger())

	a, _ := tracker.Assign(context.Background(), "tenant-1", models.CreateAssignmentRequest{
		CollectorUserID: "collector-1", BuildingID: "bldg-1",
	})
	_, err := tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)

	msg := "device unreachable"
	_, err = tracker.Fail(context.Background(), "tenant-1", a.ID, &msg)
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, repo.assignments[a.ID].Status)
	assert.Equal(t, 1, repo.assignments[a.ID].RetryCount)

	pulled, err := tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, pulled, 1)
	assert.Equal(t, models.TransferStatusInProgress, pulled[0].Status)
}

func TestFailExhaustsRetryBudget(t *testing.T) {
	repo := newFakeRepo()
	tracker := NewTracker(repo, 2, newTestLogger())

	a, _ := tracker.Assign(context.Background(), "tenant-1", models.CreateAssignmentRequest{
		CollectorUserID: "collector-1", BuildingID: "bldg-1",
	})

	msg := "device unreachable"
	for i := 0; i < 2; i++ {
		_, err := tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
		require.NoError(t, err)
		_, err = tracker.Fail(context.Background(), "tenant-1", a.ID, &msg)
		if i < 1 {
			require.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, models.ErrTransferExhausted)
		}
	}

	assert.Equal(t, models.TransferStatusCancelled, repo.assignments[a.ID].Status)

	pulled, err := tracker.Pull(context.Background(), "tenant-1", "collector-1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, pulled)
}
