// Package conflict applies reviewer decisions to detected duplicate and
// overlap pairs, and gates commit on every pair being closed.
package conflict

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

func jsonbDetail(detail map[string]any) database.JSONB[map[string]any] {
	return database.JSONB[map[string]any]{Data: detail}
}

// repository is the conflict persistence surface the resolver needs
type repository interface {
	Get(ctx context.Context, tenantID string, id string) (*models.ConflictResolution, error)
	Resolve(ctx context.Context, tenantID string, id string, status models.ConflictStatus, action models.ConflictAction, survivingID, discardedID *string, resolvedBy string) error
	Escalate(ctx context.Context, tenantID string, id string) error
	Assign(ctx context.Context, tenantID string, id string, assignedTo string) error
	CountPendingByPackage(ctx context.Context, tenantID string, packageID string) (int, error)
}

// statusStore marks the losing staged row of a resolution
type statusStore interface {
	SetStatus(ctx context.Context, tenantID string, id string, status models.ValidationStatus) error
}

// auditor records resolution decisions
type auditor interface {
	Insert(ctx context.Context, entry models.AuditEntry)
}

// Resolver applies resolution actions
type Resolver struct {
	repo   repository
	stores map[models.EntityFamily]statusStore
	audit  auditor
	logger ectologger.Logger
}

// NewResolver creates a conflict resolver. stores maps each conflict-bearing
// family to its staging store.
func NewResolver(repo repository, stores map[models.EntityFamily]statusStore, audit auditor, logger ectologger.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		stores: stores,
		audit:  audit,
		logger: logger,
	}
}

// Resolve applies a reviewer's decision to one conflict.
//
// KeepBoth and Ignored close the pair without touching either record.
// KeepFirst/KeepSecond reject the losing staged record. Merge and
// MarkAsDuplicate require explicit surviving/discarded identifiers; the
// discarded staged record is rejected and the surviving identifier is kept on
// the conflict row so the commit engine can re-point references. Escalate
// keeps the pair open at high priority.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, conflictID string, req models.ResolveConflictRequest, actorID string) (*models.ConflictResolution, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Resolver.Resolve")
	defer span.End()

	conflict, err := r.repo.Get(ctx, tenantID, conflictID)
	if err != nil {
		return nil, err
	}

	var surviving, discarded *string

	switch req.Action {
	case models.ConflictActionEscalate:
		if err := r.repo.Escalate(ctx, tenantID, conflictID); err != nil {
			return nil, err
		}
		r.audit.Insert(ctx, models.AuditEntry{
			TenantID: tenantID, ActorID: actorID,
			Action: models.AuditActionConflictEscalated, ObjectType: "conflict", ObjectID: conflictID,
		})
		return r.repo.Get(ctx, tenantID, conflictID)

	case models.ConflictActionKeepBoth, models.ConflictActionIgnored:
		// both records proceed; nothing to reject

	case models.ConflictActionKeepFirst:
		surviving = &conflict.EntityAID
		if !conflict.EntityBCommitted {
			discarded = &conflict.EntityBID
		}

	case models.ConflictActionKeepSecond:
		surviving = &conflict.EntityBID
		discarded = &conflict.EntityAID

	case models.ConflictActionMerge, models.ConflictActionMarkAsDuplicate:
		if req.SurvivingID == nil || req.DiscardedID == nil {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "surviving_id and discarded_id are required for this action")
		}
		if *req.DiscardedID != conflict.EntityAID && *req.DiscardedID != conflict.EntityBID {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "discarded_id does not belong to this conflict")
		}
		if conflict.EntityBCommitted && *req.DiscardedID == conflict.EntityBID {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "a committed record cannot be discarded")
		}
		surviving = req.SurvivingID
		discarded = req.DiscardedID

	default:
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "unknown resolution action")
	}

	if discarded != nil {
		store, ok := r.stores[conflict.EntityType]
		if !ok {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "no staging store for entity type")
		}
		if err := store.SetStatus(ctx, tenantID, *discarded, models.ValidationStatusRejected); err != nil {
			return nil, err
		}
	}

	status := models.ConflictStatusResolved
	if req.Action == models.ConflictActionIgnored {
		status = models.ConflictStatusIgnored
	}
	if err := r.repo.Resolve(ctx, tenantID, conflictID, status, req.Action, surviving, discarded, actorID); err != nil {
		return nil, err
	}

	detail := map[string]any{"action": string(req.Action)}
	if req.Note != nil {
		detail["note"] = *req.Note
	}
	r.audit.Insert(ctx, models.AuditEntry{
		TenantID: tenantID, ActorID: actorID,
		Action: models.AuditActionConflictResolved, ObjectType: "conflict", ObjectID: conflictID,
		Detail: jsonbDetail(detail),
	})

	metrics.ConflictsResolvedTotal.WithLabelValues(tenantID, string(req.Action)).Inc()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conflict_id": conflictID,
		"action":      req.Action,
	}).Info("Conflict resolved")

	return r.repo.Get(ctx, tenantID, conflictID)
}

// Assign routes a conflict to a reviewer
func (r *Resolver) Assign(ctx context.Context, tenantID string, conflictID string, assignedTo string, actorID string) error {
	ctx, span := tracing.StartSpan(ctx, "conflict.Resolver.Assign")
	defer span.End()

	if err := r.repo.Assign(ctx, tenantID, conflictID, assignedTo); err != nil {
		return err
	}

	r.audit.Insert(ctx, models.AuditEntry{
		TenantID: tenantID, ActorID: actorID,
		Action: models.AuditActionConflictAssigned, ObjectType: "conflict", ObjectID: conflictID,
		Detail: jsonbDetail(map[string]any{"assigned_to": assignedTo}),
	})
	return nil
}

// AreAllResolved reports whether no open conflict blocks the package
func (r *Resolver) AreAllResolved(ctx context.Context, tenantID string, packageID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "conflict.Resolver.AreAllResolved")
	defer span.End()

	pending, err := r.repo.CountPendingByPackage(ctx, tenantID, packageID)
	if err != nil {
		return false, err
	}
	return pending == 0, nil
}
