package validation

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// runLevel3 checks evidence/ownership consistency on claims: a claim must
// carry a non-zero ownership share, and rental/purchase contract types require
// the contract fields the agreement implies.
func runLevel3(rows *Rows, acc *issues) models.ValidationRunResult {
	start := time.Now()
	before := countIssues(acc)

	for _, c := range rows.Claims {
		if c.OwnershipShare <= 0 {
			acc.addError(c.ID, "ownership_share must be greater than zero")
		} else if c.OwnershipShare > 1 {
			acc.addError(c.ID, "ownership_share must not exceed 1")
		}

		if c.ContractType != nil {
			switch *c.ContractType {
			case models.ContractTypeRental, models.ContractTypePurchase:
				if c.ContractNumber == nil || *c.ContractNumber == "" {
					acc.addError(c.ID, "contract_number is required for this contract type")
				}
				if c.ContractDate == nil {
					acc.addError(c.ID, "contract_date is required for this contract type")
				}
			}
		}
	}

	// evidence without a document number or attachment carries no probative
	// value; flag it for review
	for _, e := range rows.Evidence {
		if (e.DocumentNumber == nil || *e.DocumentNumber == "") && (e.AttachmentRef == nil || *e.AttachmentRef == "") {
			acc.addWarning(e.ID, "evidence has neither a document number nor an attachment")
		}
	}

	errs, warns := countIssuesSince(acc, before)
	return models.ValidationRunResult{
		Level:          3,
		ErrorCount:     errs,
		WarningCount:   warns,
		RecordsChecked: len(rows.Claims) + len(rows.Evidence),
		Duration:       time.Since(start),
	}
}
