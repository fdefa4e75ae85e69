package check

import "github.com/stackhealer/backend-go/internal/domain"

// Tier is one severity band of a numeric check. A value strictly above
// Above lands in the band.
type Tier struct {
	Above    float64
	Status   domain.CheckStatus
	Severity domain.RiskLevel
}

// Tiers are evaluated from the first entry, so list them highest first
type Tiers []Tier

// Classify returns the first tier the value exceeds
func (t Tiers) Classify(v float64) (Tier, bool) {
	for _, tier := range t {
		if v > tier.Above {
			return tier, true
		}
	}
	return Tier{}, false
}
