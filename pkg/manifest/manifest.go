// Package manifest parses the key/value metadata table of a package container
package manifest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/container"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Reader parses manifests out of package containers
type Reader struct {
	logger ectologger.Logger
}

// NewReader creates a manifest Reader
func NewReader(logger ectologger.Logger) *Reader {
	return &Reader{logger: logger}
}

// Read extracts the manifest from the container. A missing manifest table is a
// corrupt package; missing required fields are a ManifestInvalid error; count
// fields default to zero; a malformed vocab_versions JSON degrades to an empty
// map with a logged warning.
func (r *Reader) Read(ctx context.Context, c *container.Container) (*models.ManifestData, error) {
	ok, err := c.HasTable(ctx, container.ManifestTable)
	if err != nil {
		return nil, errors.Wrap(models.ErrContainerCorrupt, err.Error())
	}
	if !ok {
		return nil, errors.Wrap(models.ErrContainerCorrupt, "manifest table missing")
	}

	raw, err := c.ReadKeyValues(ctx, container.ManifestTable)
	if err != nil {
		return nil, errors.Wrap(models.ErrContainerCorrupt, err.Error())
	}

	kv := make(map[string]string, len(raw))
	for k, v := range raw {
		kv[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	data := &models.ManifestData{}

	if data.PackageID, err = requiredGUID(kv, "package_id"); err != nil {
		return nil, err
	}
	if data.SchemaVersion, err = requiredString(kv, "schema_version"); err != nil {
		return nil, err
	}
	if data.CreatedUTC, err = requiredDate(kv, "created_utc"); err != nil {
		return nil, err
	}
	if data.ExportedByUserID, err = requiredGUID(kv, "exported_by_user_id"); err != nil {
		return nil, err
	}
	if data.Checksum, err = requiredString(kv, "checksum"); err != nil {
		return nil, err
	}

	data.DeviceID = kv["device_id"]
	data.AppVersion = kv["app_version"]
	data.DigitalSignature = kv["digital_signature"]
	data.FormSchemaVersion = kv["form_schema_version"]
	if exported, ok := kv["exported_date_utc"]; ok && exported != "" {
		if t, err := parseDate(exported); err == nil {
			data.ExportedDateUTC = t
		} else {
			return nil, &models.ManifestError{Field: "exported_date_utc", Reason: "unparseable date"}
		}
	} else {
		data.ExportedDateUTC = data.CreatedUTC
	}

	data.BuildingCount = intOrZero(kv, "building_count")
	data.UnitCount = intOrZero(kv, "unit_count")
	data.PersonCount = intOrZero(kv, "person_count")
	data.HouseholdCount = intOrZero(kv, "household_count")
	data.RelationCount = intOrZero(kv, "relation_count")
	data.EvidenceCount = intOrZero(kv, "evidence_count")
	data.ClaimCount = intOrZero(kv, "claim_count")
	data.SurveyCount = intOrZero(kv, "survey_count")
	data.TotalAttachmentSizeBytes, _ = strconv.ParseInt(kv["total_attachment_size_bytes"], 10, 64)

	data.VocabVersions = map[string]string{}
	if rawVocab := kv["vocab_versions"]; rawVocab != "" {
		if err := json.Unmarshal([]byte(rawVocab), &data.VocabVersions); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"package_id": data.PackageID,
			}).Warn("Malformed vocab_versions in manifest, treating as empty")
			data.VocabVersions = map[string]string{}
		}
	}

	return data, nil
}

func requiredString(kv map[string]string, key string) (string, error) {
	v, ok := kv[key]
	if !ok || v == "" {
		return "", &models.ManifestError{Field: key, Reason: "missing required field"}
	}
	return v, nil
}

func requiredGUID(kv map[string]string, key string) (string, error) {
	v, err := requiredString(kv, key)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return "", &models.ManifestError{Field: key, Reason: "not a valid GUID"}
	}
	return id.String(), nil
}

func requiredDate(kv map[string]string, key string) (time.Time, error) {
	v, err := requiredString(kv, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := parseDate(v)
	if err != nil {
		return time.Time{}, &models.ManifestError{Field: key, Reason: "unparseable date"}
	}
	return t, nil
}

// parseDate accepts RFC3339 and the exporter's space-separated fallback
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func intOrZero(kv map[string]string, key string) int {
	n, _ := strconv.Atoi(kv[key])
	if n < 0 {
		return 0
	}
	return n
}
