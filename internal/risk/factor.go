package risk

import "scanguard/internal/common"

// Weight classes used by the channel analyzers.
const (
	WeightCritical = 30
	WeightHigh     = 25
	WeightMedium   = 20
	WeightLow      = 15
	WeightMinimal  = 10
)

// RiskFactor is one weighted piece of evidence. The sign of its effect is
// carried by Impact; Weight is never negative.
type RiskFactor struct {
	Name        string        `json:"name"`
	Impact      common.Impact `json:"impact"`
	Weight      int           `json:"weight"`
	Description string        `json:"description"`
}

// Negative builds a factor that raises the score.
func Negative(name string, weight int, description string) RiskFactor {
	return RiskFactor{Name: name, Impact: common.ImpactNegative, Weight: weight, Description: description}
}

// Positive builds a factor that lowers the score.
func Positive(name string, weight int, description string) RiskFactor {
	return RiskFactor{Name: name, Impact: common.ImpactPositive, Weight: weight, Description: description}
}

// Neutral builds a factor that is reported but does not move the score.
func Neutral(name string, description string) RiskFactor {
	return RiskFactor{Name: name, Impact: common.ImpactNeutral, Description: description}
}

func (f RiskFactor) weight() int {
	if f.Weight < 0 {
		return 0
	}
	return f.Weight
}
