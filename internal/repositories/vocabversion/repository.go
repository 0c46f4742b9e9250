package vocabversion

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Repository reads vocabulary versions and their code sets
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new vocabulary version repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetCurrentVersions returns domain -> version for every current vocabulary
func (r *Repository) GetCurrentVersions(ctx context.Context, tenantID string) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "vocabversion.Repository.GetCurrentVersions")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("domain", "version")
	sb.From("vocabulary_versions")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("is_current", true),
	)

	query, args := sb.Build()
	var rows []struct {
		Domain  string `db:"domain"`
		Version string `db:"version"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load current vocabulary versions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load vocabulary versions")
	}

	versions := make(map[string]string, len(rows))
	for _, row := range rows {
		versions[row.Domain] = row.Version
	}
	return versions, nil
}

// GetValidCodes returns the valid code set of a domain's current version
func (r *Repository) GetValidCodes(ctx context.Context, tenantID string, domain string) ([]int, error) {
	ctx, span := tracing.StartSpan(ctx, "vocabversion.Repository.GetValidCodes")
	defer span.End()

	query := `
		SELECT c.code
		FROM vocabulary_codes c
		JOIN vocabulary_versions v ON v.id = c.version_id
		WHERE v.tenant_id = $1 AND v.domain = $2 AND v.is_current = true
		ORDER BY c.code
	`

	var codes []int
	if err := r.db.SelectContext(ctx, &codes, query, tenantID, domain); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"domain": domain}).Error("Failed to load vocabulary codes")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load vocabulary codes")
	}

	return codes, nil
}
