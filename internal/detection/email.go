package detection

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	httpLinkRe    = regexp.MustCompile(`https?://[^\s<>"]+`)
	emailURLRe    = regexp.MustCompile(`https?://[^\s<>"]+|www\.[^\s<>"]+`)
	ipv4Re        = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	freemailHosts = []string{"gmail.com", "yahoo.com", "hotmail.com", "outlook.com"}
)

const (
	maxEmailLinks       = 5
	emailCapsRatio      = 0.3
	emailCapsMinLength  = 20
	emailPunctuationMax = 3
	reportedURLs        = 10
)

// EmailDetails is the email channel sub-report.
type EmailDetails struct {
	Sender   *SenderReport       `json:"sender_analysis,omitempty"`
	Content  EmailContentReport  `json:"content_analysis"`
	Keywords map[string][]string `json:"keyword_analysis"`
	URLs     EmbeddedURLReport   `json:"url_analysis"`
}

type SenderReport struct {
	Address    string `json:"address"`
	IsValid    bool   `json:"is_valid"`
	Domain     string `json:"domain,omitempty"`
	IsTrusted  bool   `json:"is_trusted"`
	IsFreemail bool   `json:"is_freemail"`
}

type EmailContentReport struct {
	Length                int  `json:"length"`
	HasHTML               bool `json:"has_html"`
	HasLinks              bool `json:"has_links"`
	LinkCount             int  `json:"link_count"`
	MentionsAttachment    bool `json:"has_attachments_mention"`
	ExcessiveCaps         bool `json:"excessive_caps"`
	ExcessivePunctuation  bool `json:"excessive_punctuation"`
	SuspiciousKeywordHits int  `json:"total_suspicious"`
}

// EmbeddedURLReport describes URLs found inside a message body.
type EmbeddedURLReport struct {
	Count       int      `json:"url_count"`
	URLs        []string `json:"urls"`
	HasIPURLs   bool     `json:"has_ip_urls"`
	HasShortURL bool     `json:"has_shortened_urls"`
}

// EmailAnalyzer scores an email body and optional sender address.
type EmailAnalyzer struct {
	kw       EmailKeywords
	validate *validator.Validate
}

func NewEmailAnalyzer(k *Keywords) *EmailAnalyzer {
	return &EmailAnalyzer{kw: k.Email, validate: validator.New()}
}

func (a *EmailAnalyzer) Channel() common.Channel { return common.ChannelEmail }

func (a *EmailAnalyzer) Analyze(_ context.Context, in normalize.Input) (*AnalysisResult, error) {
	if in.Content == "" {
		return nil, fmt.Errorf("%w: empty email", ErrInvalidContent)
	}
	var (
		d       = &EmailDetails{}
		factors []risk.RiskFactor
	)

	if in.Sender != "" {
		rep, f := a.sender(in.Sender)
		d.Sender = rep
		factors = append(factors, f...)
	}

	content, f := a.content(in.Content)
	factors = append(factors, f...)

	lowered := strings.ToLower(in.Content)
	kf, matches := categoryFactors(lowered, a.kw.Categories)
	factors = append(factors, kf...)
	d.Keywords = matches
	for _, m := range matches {
		content.SuspiciousKeywordHits += len(m)
	}
	d.Content = content

	d.URLs = embeddedURLs(in.Content, emailURLRe, a.kw.Shorteners)
	if d.URLs.HasIPURLs {
		factors = append(factors, risk.Negative("IP-Based URLs", 20, "Email contains URLs with IP addresses"))
	}
	if d.URLs.HasShortURL {
		factors = append(factors, risk.Negative("Shortened URLs", 15, "Email contains shortened URLs"))
	}

	return Build(in, factors, Details{Email: d}), nil
}

func (a *EmailAnalyzer) sender(addr string) (*SenderReport, []risk.RiskFactor) {
	rep := &SenderReport{Address: addr}
	if err := a.validate.Var(addr, "required,email"); err != nil {
		return rep, []risk.RiskFactor{risk.Negative("Invalid Sender Email", 25, "Sender email address is invalid")}
	}
	rep.IsValid = true
	rep.Domain = strings.ToLower(addr[strings.LastIndexByte(addr, '@')+1:])
	rep.IsTrusted = slices.Contains(a.kw.TrustedDomains, rep.Domain)
	rep.IsFreemail = slices.Contains(freemailHosts, rep.Domain)
	if rep.IsTrusted {
		return rep, []risk.RiskFactor{risk.Positive("Trusted Email Domain", 20, "Sender uses trusted domain: "+rep.Domain)}
	}
	return rep, nil
}

func (a *EmailAnalyzer) content(body string) (EmailContentReport, []risk.RiskFactor) {
	lowered := strings.ToLower(body)
	rep := EmailContentReport{
		Length:               len([]rune(body)),
		HasHTML:              htmlTagRe.MatchString(body),
		HasLinks:             strings.Contains(lowered, "http://") || strings.Contains(lowered, "https://"),
		LinkCount:            len(httpLinkRe.FindAllString(body, -1)),
		MentionsAttachment:   containsAny(lowered, []string{"attachment", "attached", "download"}),
		ExcessiveCaps:        capsRatioAbove(body, emailCapsMinLength, emailCapsRatio),
		ExcessivePunctuation: strings.Count(body, "!") > emailPunctuationMax || strings.Count(body, "?") > emailPunctuationMax,
	}

	var factors []risk.RiskFactor
	if rep.LinkCount > maxEmailLinks {
		factors = append(factors, risk.Negative("Excessive Links", 15, fmt.Sprintf("Email contains %d links", rep.LinkCount)))
	}
	if rep.ExcessiveCaps {
		factors = append(factors, risk.Negative("Excessive Capitalization", 10, "Unusual use of capital letters"))
	}
	if rep.ExcessivePunctuation {
		factors = append(factors, risk.Negative("Excessive Punctuation", 10, "Excessive use of exclamation marks or question marks"))
	}
	return rep, factors
}

// embeddedURLs finds URLs in free text and flags IP literals and shortener
// hosts. Callers attach their own weights.
func embeddedURLs(text string, re *regexp.Regexp, shorteners []string) EmbeddedURLReport {
	found := re.FindAllString(text, -1)
	rep := EmbeddedURLReport{Count: len(found)}
	if len(found) > reportedURLs {
		rep.URLs = found[:reportedURLs]
	} else {
		rep.URLs = found
	}
	for _, u := range found {
		if ipv4Re.MatchString(u) {
			rep.HasIPURLs = true
		}
		if hostMatches(embeddedHost(u), shorteners) {
			rep.HasShortURL = true
		}
	}
	return rep
}

// embeddedHost extracts the host part of a loosely matched URL such as
// "bit.ly/x" or "https://user@host:8080/p".
func embeddedHost(raw string) string {
	s := strings.ToLower(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, ".,;!)")
}

// capsRatioAbove reports whether the share of upper case letters in s is
// above ratio, ignoring strings shorter than minLen characters.
func capsRatioAbove(s string, minLen int, ratio float64) bool {
	var total, upper int
	for _, r := range s {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if total < minLen {
		return false
	}
	return float64(upper)/float64(total) > ratio
}
