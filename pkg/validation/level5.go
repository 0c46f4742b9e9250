package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

const earthRadiusMeters = 6371000

// runLevel5 performs the fine geospatial pass. A survey fix far from the
// building it describes is an error; distinct buildings recorded at virtually
// the same point are flagged for review.
func runLevel5(rows *Rows, acc *issues, cfg Config) models.ValidationRunResult {
	start := time.Now()
	before := countIssues(acc)

	buildings := map[string]*models.StagedBuilding{}
	for _, b := range rows.Buildings {
		buildings[b.OriginalID] = b
	}

	maxDrift := cfg.SurveyMaxDriftMeters
	if maxDrift <= 0 {
		maxDrift = 500
	}

	for _, s := range rows.Surveys {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		b, ok := buildings[s.BuildingOriginalID]
		if !ok || b.Latitude == nil || b.Longitude == nil {
			continue
		}
		drift := haversineMeters(*s.Latitude, *s.Longitude, *b.Latitude, *b.Longitude)
		if drift > maxDrift {
			acc.addError(s.ID, fmt.Sprintf("survey fix is %.0fm from building %s, beyond the %.0fm limit", drift, s.BuildingOriginalID, maxDrift))
		}
	}

	// near-identical building coordinates suggest a double survey of the same
	// structure
	for i := 0; i < len(rows.Buildings); i++ {
		for j := i + 1; j < len(rows.Buildings); j++ {
			a, b := rows.Buildings[i], rows.Buildings[j]
			if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
				continue
			}
			if haversineMeters(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude) < 5 {
				acc.addWarning(a.ID, fmt.Sprintf("building coordinates nearly coincide with building %s", b.OriginalID))
				acc.addWarning(b.ID, fmt.Sprintf("building coordinates nearly coincide with building %s", a.OriginalID))
			}
		}
	}

	errs, warns := countIssuesSince(acc, before)
	return models.ValidationRunResult{
		Level:          5,
		ErrorCount:     errs,
		WarningCount:   warns,
		RecordsChecked: len(rows.Surveys) + len(rows.Buildings),
		Duration:       time.Since(start),
	}
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
