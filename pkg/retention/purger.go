// Package retention removes staged data for packages whose retention window
// has elapsed. Committed entities and the archived container are never
// touched; only the staging shadow copies and conflict records go.
package retention

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type packageRepo interface {
	ListExpired(ctx context.Context, retentionDays int, limit int) ([]models.ImportPackage, error)
}

type stagedDeleter interface {
	DeleteByPackage(ctx context.Context, tenantID string, packageID string) (int64, error)
}

// Purger deletes expired staging data
type Purger struct {
	packages      packageRepo
	deleters      []stagedDeleter
	retentionDays int
	logger        ectologger.Logger
}

// NewPurger creates a retention purger. deleters covers the eight staging
// stores plus the conflict repository.
func NewPurger(packages packageRepo, deleters []stagedDeleter, retentionDays int, logger ectologger.Logger) *Purger {
	return &Purger{
		packages:      packages,
		deleters:      deleters,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// RunOnce purges staging data for every expired package and returns the
// number of packages processed
func (p *Purger) RunOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "retention.Purger.RunOnce")
	defer span.End()

	expired, err := p.packages.ListExpired(ctx, p.retentionDays, 100)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, pkg := range expired {
		var removed int64
		failed := false
		for _, d := range p.deleters {
			n, err := d.DeleteByPackage(ctx, pkg.TenantID, pkg.ID)
			if err != nil {
				p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": pkg.ID}).Error("Failed to purge staged data")
				failed = true
				break
			}
			removed += n
		}
		if failed {
			continue
		}

		purged++
		metrics.RetentionPurgedRowsTotal.Add(float64(removed))
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"package_id":   pkg.ID,
			"rows_removed": removed,
		}).Info("Purged expired staging data")
	}

	return purged, nil
}
