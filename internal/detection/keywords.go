package detection

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scanguard/internal/risk"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// KeywordCategory is one weighted family of words. A single match anywhere
// in the lowercased content emits the category's factor once.
type KeywordCategory struct {
	ID       string   `yaml:"id" json:"id"`
	Factor   string   `yaml:"factor" json:"factor"`
	Weight   int      `yaml:"weight" json:"weight"`
	Evidence string   `yaml:"evidence" json:"evidence"`
	Words    []string `yaml:"words" json:"words"`
}

// ScamPattern is a named predicate reported by the SMS analyzer. It never
// contributes a factor.
type ScamPattern struct {
	ID    string   `yaml:"id" json:"id"`
	Words []string `yaml:"words" json:"words"`
}

type URLKeywords struct {
	Suspicious     []string `yaml:"suspicious_keywords"`
	SuspiciousTLDs []string `yaml:"suspicious_tlds"`
	TrustedDomains []string `yaml:"trusted_domains"`
	Shorteners     []string `yaml:"shorteners"`
}

type EmailKeywords struct {
	TrustedDomains []string          `yaml:"trusted_domains"`
	Shorteners     []string          `yaml:"shorteners"`
	Categories     []KeywordCategory `yaml:"categories"`
}

type SMSKeywords struct {
	Shorteners   []string          `yaml:"shorteners"`
	Categories   []KeywordCategory `yaml:"categories"`
	ScamPatterns []ScamPattern     `yaml:"scam_patterns"`
}

// Keywords holds every data table the analyzers consult. Tuning these never
// requires touching the scoring law.
type Keywords struct {
	URL   URLKeywords   `yaml:"url"`
	Email EmailKeywords `yaml:"email"`
	SMS   SMSKeywords   `yaml:"sms"`
}

// DefaultKeywords returns a fresh copy of the built-in tables.
func DefaultKeywords() *Keywords {
	var k Keywords
	if err := yaml.Unmarshal(defaultKeywordsYAML, &k); err != nil {
		panic(fmt.Sprintf("detection: embedded keywords: %v", err))
	}
	return &k
}

// LoadKeywords reads an override file on top of the defaults. Lists present
// in the file replace the default list of the same name.
func LoadKeywords(path string) (*Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keywords %s: %w", path, err)
	}
	k := DefaultKeywords()
	if err := yaml.Unmarshal(data, k); err != nil {
		return nil, fmt.Errorf("parsing keywords %s: %w", path, err)
	}
	if err := k.validate(); err != nil {
		return nil, fmt.Errorf("keywords %s: %w", path, err)
	}
	k.lower()
	return k, nil
}

func (k *Keywords) validate() error {
	for _, group := range [][]KeywordCategory{k.Email.Categories, k.SMS.Categories} {
		for _, c := range group {
			if c.Factor == "" {
				return fmt.Errorf("category %q has no factor name", c.ID)
			}
			if c.Weight < 0 {
				return fmt.Errorf("category %q has negative weight", c.ID)
			}
		}
	}
	return nil
}

func (k *Keywords) lower() {
	lowerAll(k.URL.Suspicious)
	lowerAll(k.URL.SuspiciousTLDs)
	lowerAll(k.URL.TrustedDomains)
	lowerAll(k.URL.Shorteners)
	lowerAll(k.Email.TrustedDomains)
	lowerAll(k.Email.Shorteners)
	lowerAll(k.SMS.Shorteners)
	for i := range k.Email.Categories {
		lowerAll(k.Email.Categories[i].Words)
	}
	for i := range k.SMS.Categories {
		lowerAll(k.SMS.Categories[i].Words)
	}
	for i := range k.SMS.ScamPatterns {
		lowerAll(k.SMS.ScamPatterns[i].Words)
	}
}

func lowerAll(s []string) {
	for i := range s {
		s[i] = strings.ToLower(strings.TrimSpace(s[i]))
	}
}

// matchWords returns every word in the list that occurs in lowered, in list
// order.
func matchWords(lowered string, words []string) []string {
	var found []string
	for _, w := range words {
		if w != "" && strings.Contains(lowered, w) {
			found = append(found, w)
		}
	}
	return found
}

func containsAny(lowered string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

// evidence keeps at most the first three matches.
func evidence(found []string) string {
	if len(found) > 3 {
		found = found[:3]
	}
	return strings.Join(found, ", ")
}

// categoryFactors evaluates each category and returns the emitted factors
// together with the per-category matches.
func categoryFactors(lowered string, cats []KeywordCategory) ([]risk.RiskFactor, map[string][]string) {
	var factors []risk.RiskFactor
	matches := make(map[string][]string, len(cats))
	for _, c := range cats {
		found := matchWords(lowered, c.Words)
		matches[c.ID] = found
		if len(found) == 0 {
			continue
		}
		factors = append(factors, risk.Negative(c.Factor, c.Weight, c.Evidence+": "+evidence(found)))
	}
	return factors, matches
}

func hostMatches(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
