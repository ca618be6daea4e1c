// Package rules holds the attendance decision rules. This is pure domain
// logic: every function receives the data it needs as arguments and returns a
// verdict, with no I/O and no clock reads.
package rules

import (
	"fmt"

	"rotaclock/internal/attendance/models"
	pstrings "rotaclock/pkg/platform/strings"
)

// Eligibility is the outcome of an eligibility check. Reasons lists every
// violated condition, not just the first.
type Eligibility struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`
}

// EvaluateEligibility checks a program's required credentials against the
// site's accepted requirements and the site's remaining capacity.
// activeRotations is the number of non-cancelled rotations at the site.
func EvaluateEligibility(program *models.Program, site *models.ClinicalSite, activeRotations int) Eligibility {
	reasons := []string{}

	if program == nil {
		reasons = append(reasons, "student is not enrolled in a program")
	} else {
		for _, req := range pstrings.Missing(program.Requirements, site.AcceptedRequirements) {
			reasons = append(reasons, fmt.Sprintf("site does not accept requirement %q", req))
		}
	}

	if activeRotations >= site.Capacity {
		reasons = append(reasons, fmt.Sprintf("site is at capacity (%d of %d)", activeRotations, site.Capacity))
	}

	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons}
}
