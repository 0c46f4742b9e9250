package vocab

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
)

// CheckCompatibility compares each domain version declared by a package
// against the server's current versions. A major difference anywhere makes the
// package incompatible; minor differences and domains unknown to the server
// only break full compatibility. Domains are reported in sorted order so the
// result is stable.
func CheckCompatibility(packageVersions, serverVersions map[string]string) models.CompatReport {
	report := models.CompatReport{
		IsCompatible:    true,
		FullyCompatible: true,
		Items:           make([]models.DomainVerdict, 0, len(packageVersions)),
	}

	domains := make([]string, 0, len(packageVersions))
	for domain := range packageVersions {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		pkgVersion := packageVersions[domain]
		serverVersion, known := serverVersions[domain]

		verdict := models.DomainVerdict{
			Domain:         domain,
			PackageVersion: pkgVersion,
			ServerVersion:  serverVersion,
		}

		if !known {
			verdict.Level = models.CompatUnknownDomain
			report.FullyCompatible = false
			report.Items = append(report.Items, verdict)
			continue
		}

		verdict.Level = CompareVersions(pkgVersion, serverVersion)
		switch verdict.Level {
		case models.CompatMajorDifference:
			report.IsCompatible = false
			report.FullyCompatible = false
		case models.CompatMinorDifference:
			report.FullyCompatible = false
		}
		report.Items = append(report.Items, verdict)
	}

	return report
}
