package detection

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
	"scanguard/internal/risk"
)

const (
	longDomainLabel = 20
	longURL         = 100
	maxHostLabels   = 4
)

var digitRe = regexp.MustCompile(`\d`)

// URLDetails is the url channel sub-report.
type URLDetails struct {
	URL       string          `json:"url"`
	Domain    string          `json:"domain"`
	Subdomain string          `json:"subdomain"`
	Path      string          `json:"path"`
	Domains   DomainReport    `json:"domain_analysis"`
	Patterns  PatternReport   `json:"pattern_analysis"`
	Structure StructureReport `json:"structure_analysis"`
}

type DomainReport struct {
	IsIP             bool   `json:"is_ip"`
	IsTrusted        bool   `json:"is_trusted"`
	HasSuspiciousTLD bool   `json:"has_suspicious_tld"`
	Suffix           string `json:"suffix"`
	DomainLength     int    `json:"domain_length"`
	HasNumbers       bool   `json:"has_numbers"`
	HasHyphens       bool   `json:"has_hyphens"`
}

type PatternReport struct {
	SuspiciousKeywords  []string `json:"suspicious_keywords"`
	KeywordCount        int      `json:"keyword_count"`
	IsShortened         bool     `json:"is_shortened"`
	HasAtSymbol         bool     `json:"has_at_symbol"`
	HasDoubleSlash      bool     `json:"has_double_slash"`
	ExcessiveSubdomains bool     `json:"excessive_subdomains"`
}

type StructureReport struct {
	URLLength   int  `json:"url_length"`
	PathLength  int  `json:"path_length"`
	HasQuery    bool `json:"has_query"`
	QueryParams int  `json:"query_params"`
	HasFragment bool `json:"has_fragment"`
	UsesHTTPS   bool `json:"uses_https"`
}

// URLAnalyzer scores a single URL.
type URLAnalyzer struct {
	kw URLKeywords
}

func NewURLAnalyzer(k *Keywords) *URLAnalyzer {
	return &URLAnalyzer{kw: k.URL}
}

func (a *URLAnalyzer) Channel() common.Channel { return common.ChannelURL }

func (a *URLAnalyzer) Analyze(_ context.Context, in normalize.Input) (*AnalysisResult, error) {
	details, factors, err := a.inspect(in.Content)
	if err != nil {
		return nil, err
	}
	return Build(in, factors, Details{URL: details}), nil
}

// inspect parses raw and collects factors in a fixed order: domain,
// patterns, structure.
func (a *URLAnalyzer) inspect(raw string) (*URLDetails, []risk.RiskFactor, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil, fmt.Errorf("%w: malformed url", ErrInvalidContent)
	}

	d := &URLDetails{URL: raw, Path: u.Path}
	var factors []risk.RiskFactor

	host := strings.ToLower(u.Hostname())
	label, suffix, registrable := splitHost(host)
	d.Domain = registrable
	if registrable != host {
		d.Subdomain = strings.TrimSuffix(host, "."+registrable)
	}

	// domain
	_, ipErr := netip.ParseAddr(host)
	d.Domains = DomainReport{
		IsIP:             ipErr == nil,
		IsTrusted:        slices.Contains(a.kw.TrustedDomains, registrable),
		HasSuspiciousTLD: suffix != "" && slices.Contains(a.kw.SuspiciousTLDs, suffix),
		Suffix:           suffix,
		DomainLength:     len(label),
		HasNumbers:       digitRe.MatchString(label),
		HasHyphens:       strings.Contains(label, "-"),
	}
	if d.Domains.IsIP {
		factors = append(factors, risk.Negative("IP-based URL", 25, "URL uses IP address instead of domain name"))
	}
	if d.Domains.IsTrusted {
		factors = append(factors, risk.Positive("Trusted Domain", 30, "Domain is in trusted whitelist"))
	}
	if d.Domains.HasSuspiciousTLD {
		factors = append(factors, risk.Negative("Suspicious TLD", 20, fmt.Sprintf("TLD %q is commonly used in phishing", "."+suffix)))
	}
	if d.Domains.DomainLength > longDomainLabel {
		factors = append(factors, risk.Negative("Long Domain Name", 10, "Unusually long domain name"))
	}

	// patterns
	lowered := strings.ToLower(raw)
	found := matchWords(lowered, a.kw.Suspicious)
	d.Patterns = PatternReport{
		SuspiciousKeywords:  found,
		KeywordCount:        len(found),
		IsShortened:         hostMatches(host, a.kw.Shorteners),
		HasAtSymbol:         strings.Contains(raw, "@"),
		HasDoubleSlash:      strings.Contains(u.Path, "//"),
		ExcessiveSubdomains: len(strings.Split(u.Host, ".")) > maxHostLabels,
	}
	if len(found) > 0 {
		factors = append(factors, risk.Negative("Suspicious Keywords", 15, "Found keywords: "+evidence(found)))
	}
	if d.Patterns.IsShortened {
		factors = append(factors, risk.Negative("URL Shortener", 15, "URL uses shortening service"))
	}
	if d.Patterns.HasAtSymbol {
		factors = append(factors, risk.Negative("URL Obfuscation", 20, "URL contains @ symbol (obfuscation technique)"))
	}
	if d.Patterns.ExcessiveSubdomains {
		factors = append(factors, risk.Negative("Excessive Subdomains", 15, "Unusually many subdomains"))
	}

	// structure
	d.Structure = StructureReport{
		URLLength:   len(raw),
		PathLength:  len(u.Path),
		HasQuery:    u.RawQuery != "",
		QueryParams: len(u.Query()),
		HasFragment: u.Fragment != "",
		UsesHTTPS:   u.Scheme == "https",
	}
	if d.Structure.URLLength > longURL {
		factors = append(factors, risk.Negative("Long URL", 10, "URL is unusually long"))
	}
	if d.Structure.UsesHTTPS {
		factors = append(factors, risk.Positive("HTTPS Protocol", 15, "URL uses secure HTTPS"))
	} else {
		factors = append(factors, risk.Negative("No HTTPS", 15, "URL does not use secure HTTPS protocol"))
	}

	return d, factors, nil
}

// splitHost returns the registrable label (e.g. "example"), the public
// suffix ("co.uk") and the registrable domain ("example.co.uk"). IP
// literals and bare suffixes are returned whole.
func splitHost(host string) (label, suffix, registrable string) {
	if _, err := netip.ParseAddr(host); err == nil {
		return host, "", host
	}
	suffix, _ = publicsuffix.PublicSuffix(host)
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, suffix, host
	}
	return strings.TrimSuffix(registrable, "."+suffix), suffix, registrable
}
