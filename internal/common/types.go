package common

import (
	"fmt"
	"strings"
)

// Channel identifies the kind of content being analyzed.
type Channel string

const (
	ChannelURL   Channel = "url"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelQR    Channel = "qr"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelURL, ChannelEmail, ChannelSMS, ChannelQR}

// ParseChannel maps a user supplied name onto a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelURL, ChannelEmail, ChannelSMS, ChannelQR:
		return c, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// RiskLevel is the three-way bucket derived from a numeric risk score.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "safe"
	RiskSuspicious RiskLevel = "suspicious"
	RiskDangerous  RiskLevel = "dangerous"
)

// Impact carries the sign of a risk factor; weights are always non-negative.
type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
)

// SeverityLevel denotes how loudly a finding should be surfaced to live
// subscribers and in logs.
type SeverityLevel int

const (
	SeverityLow SeverityLevel = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s SeverityLevel) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText lets severities render as words in JSON payloads.
func (s SeverityLevel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SeverityFor maps a score onto a feed severity.
func SeverityFor(score int) SeverityLevel {
	switch {
	case score > 85:
		return SeverityCritical
	case score > 70:
		return SeverityHigh
	case score > 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
