package detection

import (
	"time"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

// AnalysisResult is produced by one analysis pass and never mutated
// afterwards. Rescore returns a new value.
type AnalysisResult struct {
	Channel           common.Channel       `json:"channel"`
	NormalizedContent string               `json:"normalized_content"`
	Sender            string               `json:"sender,omitempty"`
	RiskScore         int                  `json:"risk_score"`
	RiskLevel         common.RiskLevel     `json:"risk_level"`
	Factors           []risk.RiskFactor    `json:"factors"`
	Breakdown         risk.Breakdown       `json:"factor_breakdown"`
	Explanation       string               `json:"explanation"`
	Recommendations   []string             `json:"recommendations"`
	Confidence        int                  `json:"confidence"`
	ConfidenceLevel   risk.ConfidenceLevel `json:"confidence_level"`
	Details           Details              `json:"details"`
	AnalyzedAt        time.Time            `json:"analyzed_at"`
}

// Details is a tagged variant: exactly one field is set, matching Channel.
type Details struct {
	URL   *URLDetails   `json:"url,omitempty"`
	Email *EmailDetails `json:"email,omitempty"`
	SMS   *SMSDetails   `json:"sms,omitempty"`
	QR    *QRDetails    `json:"qr,omitempty"`
}

// Domain returns the registrable domain the result is about, if any.
func (r *AnalysisResult) Domain() string {
	if u := r.urlDetails(); u != nil {
		return u.Domain
	}
	return ""
}

// URL returns the URL the result is about, if any.
func (r *AnalysisResult) URL() string {
	if u := r.urlDetails(); u != nil {
		return u.URL
	}
	return ""
}

func (r *AnalysisResult) urlDetails() *URLDetails {
	switch {
	case r.Details.URL != nil:
		return r.Details.URL
	case r.Details.QR != nil:
		return r.Details.QR.URLAnalysis
	}
	return nil
}

// Build folds factors through the scorer and fills in the derived fields.
func Build(in normalize.Input, factors []risk.RiskFactor, details Details) *AnalysisResult {
	r := &AnalysisResult{
		Channel:           in.Channel,
		NormalizedContent: in.Content,
		Sender:            in.Sender,
		Factors:           factors,
		Details:           details,
		AnalyzedAt:        time.Now().UTC(),
	}
	r.score()
	return r
}

// Rescore returns a copy of r with extra factors appended and every derived
// field recomputed. r itself is left untouched. A QR result without an
// embedded URL is final and is returned as is.
func Rescore(r *AnalysisResult, extra []risk.RiskFactor) *AnalysisResult {
	if len(extra) == 0 || (r.Details.QR != nil && !r.Details.QR.URLFound) {
		return r
	}
	out := *r
	out.Factors = make([]risk.RiskFactor, 0, len(r.Factors)+len(extra))
	out.Factors = append(out.Factors, r.Factors...)
	out.Factors = append(out.Factors, extra...)
	out.score()
	return &out
}

func (r *AnalysisResult) score() {
	if r.Factors == nil {
		r.Factors = []risk.RiskFactor{}
	}
	a := risk.Score(r.Factors)
	r.RiskScore = a.Score
	r.RiskLevel = a.Level
	r.Breakdown = a.Breakdown
	r.Explanation = risk.Explain(a, string(r.Channel))
	r.Recommendations = risk.Recommendations(a.Level, a.Breakdown.Critical)
	r.Confidence, r.ConfidenceLevel = risk.Confidence(a.Breakdown)
}
