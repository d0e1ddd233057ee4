// Package risk turns weighted risk factors into a score, a level and the
// human readable material shown next to a verdict.
package risk

import "scanguard/internal/common"

const (
	// BaseScore is the neutral prior: no evidence is ambiguous, not safe.
	BaseScore = 50

	SafeThreshold       = 30
	SuspiciousThreshold = 70

	// Factors at or above this weight are critical (negative) or protective
	// (positive).
	notableWeight = WeightHigh
)

// Breakdown partitions a factor list by impact.
type Breakdown struct {
	Positive   []RiskFactor `json:"positive"`
	Negative   []RiskFactor `json:"negative"`
	Neutral    []RiskFactor `json:"neutral"`
	Critical   []RiskFactor `json:"critical"`
	Protective []RiskFactor `json:"protective"`

	PositiveCount   int `json:"positive_count"`
	NegativeCount   int `json:"negative_count"`
	NeutralCount    int `json:"neutral_count"`
	CriticalCount   int `json:"critical_count"`
	ProtectiveCount int `json:"protective_count"`
}

// Total is the number of factors of any impact.
func (b Breakdown) Total() int {
	return b.PositiveCount + b.NegativeCount + b.NeutralCount
}

// Assessment is the output of Score.
type Assessment struct {
	Score          int              `json:"risk_score"`
	Level          common.RiskLevel `json:"risk_level"`
	BaseScore      int              `json:"base_score"`
	PositiveImpact int              `json:"positive_impact"`
	NegativeImpact int              `json:"negative_impact"`
	Breakdown      Breakdown        `json:"factor_breakdown"`
	TotalFactors   int              `json:"total_factors"`
}

// Score applies the one scoring law used by every channel:
// clamp(50 + sum(negative) - sum(positive), 0, 100).
func Score(factors []RiskFactor) Assessment {
	var pos, neg int
	for _, f := range factors {
		switch f.Impact {
		case common.ImpactPositive:
			pos += f.weight()
		case common.ImpactNegative:
			neg += f.weight()
		}
	}

	score := clamp(BaseScore+neg-pos, 0, 100)
	return Assessment{
		Score:          score,
		Level:          LevelFor(score),
		BaseScore:      BaseScore,
		PositiveImpact: pos,
		NegativeImpact: neg,
		Breakdown:      Analyze(factors),
		TotalFactors:   len(factors),
	}
}

// LevelFor buckets a score: <=30 safe, <=70 suspicious, otherwise dangerous.
func LevelFor(score int) common.RiskLevel {
	switch {
	case score <= SafeThreshold:
		return common.RiskSafe
	case score <= SuspiciousThreshold:
		return common.RiskSuspicious
	default:
		return common.RiskDangerous
	}
}

// Analyze builds the factor breakdown without scoring.
func Analyze(factors []RiskFactor) Breakdown {
	var b Breakdown
	for _, f := range factors {
		switch f.Impact {
		case common.ImpactPositive:
			b.Positive = append(b.Positive, f)
			if f.weight() >= notableWeight {
				b.Protective = append(b.Protective, f)
			}
		case common.ImpactNegative:
			b.Negative = append(b.Negative, f)
			if f.weight() >= notableWeight {
				b.Critical = append(b.Critical, f)
			}
		default:
			b.Neutral = append(b.Neutral, f)
		}
	}
	b.PositiveCount = len(b.Positive)
	b.NegativeCount = len(b.Negative)
	b.NeutralCount = len(b.Neutral)
	b.CriticalCount = len(b.Critical)
	b.ProtectiveCount = len(b.Protective)
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
