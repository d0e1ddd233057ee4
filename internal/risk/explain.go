package risk

import (
	"fmt"
	"strings"

	"scanguard/internal/common"
)

// ConfidenceLevel buckets the confidence score.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Confidence grows with the amount of evidence and with critical findings.
// It never feeds back into the score.
func Confidence(b Breakdown) (int, ConfidenceLevel) {
	c := b.Total()*10 + b.CriticalCount*15
	if c > 100 {
		c = 100
	}
	switch {
	case c >= 80:
		return c, ConfidenceHigh
	case c >= 50:
		return c, ConfidenceMedium
	default:
		return c, ConfidenceLow
	}
}

// Explain renders a deterministic summary of an assessment. subject names
// the content kind ("url", "email", ...); empty means "content".
func Explain(a Assessment, subject string) string {
	if subject == "" {
		subject = "content"
	}
	b := a.Breakdown
	var sb strings.Builder

	switch a.Level {
	case common.RiskSafe:
		fmt.Fprintf(&sb, "This %s appears safe with a low risk score of %d/100. ", subject, a.Score)
		if b.PositiveCount > 0 {
			fmt.Fprintf(&sb, "Found %d positive indicator(s) suggesting legitimacy. ", b.PositiveCount)
		}
		if b.NegativeCount > 0 {
			fmt.Fprintf(&sb, "While %d minor concern(s) were detected, they do not indicate significant threat.", b.NegativeCount)
		} else {
			sb.WriteString("No significant threat indicators were detected.")
		}

	case common.RiskSuspicious:
		fmt.Fprintf(&sb, "This %s shows suspicious characteristics with a risk score of %d/100. ", subject, a.Score)
		fmt.Fprintf(&sb, "Detected %d warning sign(s)", b.NegativeCount)
		if b.CriticalCount > 0 {
			fmt.Fprintf(&sb, ", including %d critical indicator(s)", b.CriticalCount)
		}
		sb.WriteString(". Exercise extreme caution before interacting with this content.")
		if b.PositiveCount > 0 {
			fmt.Fprintf(&sb, " Note: %d positive factor(s) were found, but they are outweighed by the risks.", b.PositiveCount)
		}

	default:
		fmt.Fprintf(&sb, "This %s is highly suspicious with a risk score of %d/100. ", subject, a.Score)
		fmt.Fprintf(&sb, "Multiple red flags detected: %d total warning(s)", b.NegativeCount)
		if b.CriticalCount > 0 {
			fmt.Fprintf(&sb, " including %d critical threat indicator(s)", b.CriticalCount)
		}
		sb.WriteString(". This appears to be a phishing or social engineering attack. DO NOT interact with this content.")
	}
	return sb.String()
}

var (
	safeAdvice = []string{
		"Content appears safe to interact with",
		"Always verify sender identity for sensitive actions",
		"Keep your security software updated",
		"Report any unexpected or unusual behavior",
	}
	suspiciousAdvice = []string{
		"Do not provide personal or financial information",
		"Verify the source through official channels",
		"Do not click links or download attachments",
		"Check for spelling errors and unusual formatting",
		"Contact the organization directly using known contact info",
	}
	dangerousAdvice = []string{
		"DO NOT interact with this content under any circumstances",
		"DO NOT click any links or open attachments",
		"DO NOT provide any personal, financial, or login information",
		"DO NOT respond to the message",
		"Report this to your IT security team immediately",
		"Delete this message and block the sender",
		"Run a security scan if you've already interacted with it",
		"Change passwords if you've provided any credentials",
	}
)

// Recommendations returns the advice list for a level. Suspicious verdicts
// get extra hints derived from the names of critical factors.
func Recommendations(level common.RiskLevel, critical []RiskFactor) []string {
	switch level {
	case common.RiskSafe:
		return append([]string(nil), safeAdvice...)
	case common.RiskDangerous:
		return append([]string(nil), dangerousAdvice...)
	}

	out := append([]string(nil), suspiciousAdvice...)
	var links, senders bool
	for _, f := range critical {
		name := strings.ToLower(f.Name)
		if strings.Contains(name, "url") || strings.Contains(name, "link") {
			links = true
		}
		if strings.Contains(name, "email") || strings.Contains(name, "sender") {
			senders = true
		}
	}
	if links {
		out = append(out, "Hover over links to see actual destination before clicking")
	}
	if senders {
		out = append(out, "Verify sender email address carefully")
	}
	return out
}
