package signals

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"scanguard/internal/detection"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

const (
	FactorMLPhishing   = "ML Phishing Prediction"
	FactorMLLegitimate = "ML Legitimate Prediction"

	PhishingThreshold   = 0.7
	LegitimateThreshold = 0.3
	legitimateWeight    = risk.WeightMinimal
)

//go:embed model.json
var defaultModel []byte

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// Model is a logistic model over lower-cased alphanumeric tokens. Each
// distinct token contributes its weight once.
type Model struct {
	Version string             `json:"version"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// DefaultModel returns the embedded model.
func DefaultModel() *Model {
	m, err := parseModel(defaultModel)
	if err != nil {
		panic(fmt.Sprintf("embedded model: %v", err))
	}
	return m
}

// LoadModel reads a JSON model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	return parseModel(data)
}

func parseModel(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("parsing model: no weights")
	}
	return &m, nil
}

// Predict returns the phishing probability of text.
func (m *Model) Predict(text string) float64 {
	z := m.Bias
	seen := make(map[string]bool)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		z += m.Weights[tok]
	}
	return 1 / (1 + math.Exp(-z))
}

// Classifier turns a model prediction into at most one factor.
type Classifier struct {
	model *Model
}

func NewClassifier(m *Model) *Classifier {
	if m == nil {
		m = DefaultModel()
	}
	return &Classifier{model: m}
}

func (c *Classifier) Name() string { return "classifier" }

func (c *Classifier) Factors(_ context.Context, in normalize.Input, res *detection.AnalysisResult) ([]risk.RiskFactor, error) {
	text := in.Content
	if res != nil && res.NormalizedContent != "" {
		text = res.NormalizedContent
	}
	if text == "" {
		return nil, nil
	}
	return c.factorFor(c.model.Predict(text)), nil
}

func (c *Classifier) factorFor(p float64) []risk.RiskFactor {
	switch {
	case p >= PhishingThreshold:
		return []risk.RiskFactor{risk.Negative(FactorMLPhishing, int(math.Round(p*20)),
			fmt.Sprintf("Classifier phishing probability %.2f", p))}
	case p <= LegitimateThreshold:
		return []risk.RiskFactor{risk.Positive(FactorMLLegitimate, legitimateWeight,
			fmt.Sprintf("Classifier phishing probability %.2f", p))}
	}
	return nil
}
