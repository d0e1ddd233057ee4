// Package threat loads threat intelligence indicators from external feeds
// into a local store that the reputation source reads at startup.
package threat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IndicatorType string

const (
	TypeDomain IndicatorType = "domain"
	TypeIP     IndicatorType = "ip"
)

// ThreatIndicator represents a piece of threat intelligence.
type ThreatIndicator struct {
	ID         string        `json:"id"`
	Indicator  string        `json:"indicator"`
	Type       IndicatorType `json:"type"`
	Source     string        `json:"source"`
	Confidence float64       `json:"confidence"`
	Severity   string        `json:"severity"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
}

// NewIndicator builds an indicator with a stable ID derived from its value.
func NewIndicator(value string, typ IndicatorType, source string, seen time.Time) ThreatIndicator {
	value = NormalizeHost(value)
	return ThreatIndicator{
		ID:         uuid.NewSHA1(uuid.NameSpaceDNS, []byte(value)).String(),
		Indicator:  value,
		Type:       typ,
		Source:     source,
		Confidence: 1,
		Severity:   "high",
		FirstSeen:  seen,
		LastSeen:   seen,
	}
}

// NormalizeHost lower-cases a host and drops a trailing dot.
func NormalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}

// ThreatFetcher fetches threat indicators from a source.
type ThreatFetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]ThreatIndicator, error)
}

// ThreatStore persists indicators.
type ThreatStore interface {
	SaveIndicators(ctx context.Context, indicators []ThreatIndicator) error
}

// IndicatorLister reads back every stored indicator.
type IndicatorLister interface {
	Indicators(ctx context.Context) ([]ThreatIndicator, error)
}
