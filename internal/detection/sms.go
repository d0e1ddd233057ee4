package detection

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

var (
	smsURLRe      = regexp.MustCompile(`(?i)https?://\S+|www\.\S+|bit\.ly/\S+|tinyurl\.com/\S+`)
	phoneRe       = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	senderCleanRe = regexp.MustCompile(`[^\d+]`)
	emojiRe       = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}]`)
)

const (
	shortcodeMaxDigits = 6
	smsCapsRatio       = 0.4
	smsCapsMinLength   = 10
	smsExclamationMax  = 2
)

// SMSDetails is the sms channel sub-report.
type SMSDetails struct {
	Sender           *SMSSenderReport    `json:"sender_analysis,omitempty"`
	Content          SMSContentReport    `json:"content_analysis"`
	Keywords         map[string][]string `json:"keyword_analysis"`
	URLs             EmbeddedURLReport   `json:"url_analysis"`
	ScamPatterns     map[string]bool     `json:"pattern_analysis"`
	ScamPatternCount int                 `json:"scam_pattern_count"`
}

type SMSSenderReport struct {
	Sender          string `json:"sender"`
	IsShortcode     bool   `json:"is_shortcode"`
	IsInternational bool   `json:"is_international"`
	IsEmail         bool   `json:"is_email"`
	Length          int    `json:"length"`
}

type SMSContentReport struct {
	Length               int  `json:"length"`
	URLCount             int  `json:"url_count"`
	PhoneCount           int  `json:"phone_count"`
	ExcessiveCaps        bool `json:"excessive_caps"`
	ExcessivePunctuation bool `json:"excessive_punctuation"`
	HasEmojis            bool `json:"has_emojis"`
}

// SMSAnalyzer scores a text message and optional sender identifier.
type SMSAnalyzer struct {
	kw SMSKeywords
}

func NewSMSAnalyzer(k *Keywords) *SMSAnalyzer {
	return &SMSAnalyzer{kw: k.SMS}
}

func (a *SMSAnalyzer) Channel() common.Channel { return common.ChannelSMS }

func (a *SMSAnalyzer) Analyze(_ context.Context, in normalize.Input) (*AnalysisResult, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidContent)
	}
	var (
		d       = &SMSDetails{}
		factors []risk.RiskFactor
	)

	if in.Sender != "" {
		rep, f := smsSender(in.Sender)
		d.Sender = rep
		factors = append(factors, f...)
	}

	body := in.Content
	d.URLs = embeddedURLs(body, smsURLRe, a.kw.Shorteners)
	d.Content = SMSContentReport{
		Length:               len([]rune(body)),
		URLCount:             d.URLs.Count,
		PhoneCount:           len(phoneRe.FindAllString(body, -1)),
		ExcessiveCaps:        capsRatioAbove(body, smsCapsMinLength, smsCapsRatio),
		ExcessivePunctuation: strings.Count(body, "!") > smsExclamationMax,
		HasEmojis:            emojiRe.MatchString(body),
	}
	if d.Content.URLCount > 0 {
		factors = append(factors, risk.Negative("Contains URLs", 20, fmt.Sprintf("SMS contains %d URL(s)", d.Content.URLCount)))
	}
	if d.Content.PhoneCount > 1 {
		factors = append(factors, risk.Negative("Multiple Phone Numbers", 15, "SMS contains multiple phone numbers"))
	}
	if d.Content.ExcessiveCaps {
		factors = append(factors, risk.Negative("Excessive Capitalization", 10, "Unusual use of capital letters"))
	}
	if d.Content.ExcessivePunctuation {
		factors = append(factors, risk.Negative("Excessive Punctuation", 10, "Excessive use of exclamation marks"))
	}

	lowered := strings.ToLower(body)
	kf, matches := categoryFactors(lowered, a.kw.Categories)
	factors = append(factors, kf...)
	d.Keywords = matches

	if d.URLs.HasShortURL {
		factors = append(factors, risk.Negative("Shortened URLs", 20, "Contains shortened URLs hiding destination"))
	}

	d.ScamPatterns = make(map[string]bool, len(a.kw.ScamPatterns))
	for _, p := range a.kw.ScamPatterns {
		hit := containsAny(lowered, p.Words)
		d.ScamPatterns[p.ID] = hit
		if hit {
			d.ScamPatternCount++
		}
	}

	return Build(in, factors, Details{SMS: d}), nil
}

func smsSender(sender string) (*SMSSenderReport, []risk.RiskFactor) {
	cleaned := senderCleanRe.ReplaceAllString(sender, "")
	rep := &SMSSenderReport{
		Sender:          sender,
		IsShortcode:     cleaned != "" && len(cleaned) <= shortcodeMaxDigits && isDigits(cleaned),
		IsInternational: strings.HasPrefix(sender, "+") && !strings.HasPrefix(sender, "+1"),
		IsEmail:         strings.Contains(sender, "@"),
		Length:          len(cleaned),
	}

	var factors []risk.RiskFactor
	if rep.IsShortcode {
		factors = append(factors, risk.Neutral("Shortcode Sender", "Message from shortcode (could be legitimate service or scam)"))
	}
	if rep.IsInternational {
		factors = append(factors, risk.Negative("International Number", 15, "Message from international number"))
	}
	if rep.IsEmail {
		factors = append(factors, risk.Negative("Email-to-SMS", 10, "Message sent from email address"))
	}
	return rep, factors
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
