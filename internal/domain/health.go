package domain

var failPenalty = map[RiskLevel]int{
	RiskLow:      5,
	RiskMedium:   10,
	RiskHigh:     20,
	RiskCritical: 30,
}

const errorPenalty = 5

// ScoreResults derives a health score and status from a diagnosis batch.
// FAIL costs the full severity penalty, WARN half of it and ERROR a flat 5 points.
func ScoreResults(results []CheckResult) (int, HealthStatus) {
	score := 100
	evaluated := 0
	criticalFail := false
	attention := false

	for _, r := range results {
		switch r.Status {
		case CheckFail:
			evaluated++
			attention = true
			score -= penaltyFor(r.Severity)
			if r.Severity == RiskCritical {
				criticalFail = true
			}
		case CheckWarn:
			evaluated++
			attention = true
			score -= penaltyFor(r.Severity) / 2
		case CheckError:
			score -= errorPenalty
		case CheckPass:
			evaluated++
		}
	}

	if score < 0 {
		score = 0
	}
	if evaluated == 0 {
		return score, HealthUnknown
	}

	switch {
	case criticalFail || score < 40:
		return score, HealthDown
	case attention || score < 80:
		return score, HealthDegraded
	default:
		return score, HealthHealthy
	}
}

func penaltyFor(level RiskLevel) int {
	if p, ok := failPenalty[level]; ok {
		return p
	}
	return failPenalty[RiskMedium]
}
