package detection

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanguard/internal/common"
	"scanguard/internal/normalize"
)

func TestDefaultKeywords(t *testing.T) {
	t.Parallel()

	k := DefaultKeywords()
	assert.Len(t, k.URL.TrustedDomains, 20)
	assert.Len(t, k.Email.Categories, 4)
	assert.Len(t, k.SMS.Categories, 7)
	assert.Len(t, k.SMS.ScamPatterns, 6)

	weights := map[string]int{}
	for _, c := range k.SMS.Categories {
		weights[c.ID] = c.Weight
	}
	assert.Equal(t, map[string]int{
		"social_engineering": 25, "urgency": 15, "fear": 20, "financial": 20,
		"delivery": 20, "authority": 25, "action": 15,
	}, weights)

	// Each call returns an independent copy.
	k.URL.TrustedDomains[0] = "changed.example"
	assert.Equal(t, "google.com", DefaultKeywords().URL.TrustedDomains[0])
}

func TestLoadKeywordsOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url:\n  trusted_domains: [Example.ORG]\n"), 0o600))

	k, err := LoadKeywords(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.org"}, k.URL.TrustedDomains)
	assert.Len(t, k.URL.SuspiciousTLDs, 17, "sections not in the file keep their defaults")

	res, err := NewURLAnalyzer(k).Analyze(context.Background(), normalize.Input{Channel: common.ChannelURL, Content: "https://example.org/"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.RiskScore)
}

func TestLoadKeywordsErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadKeywords(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sms:\n  categories:\n    - id: x\n      weight: -1\n      factor: X\n"), 0o600))
	_, err = LoadKeywords(path)
	assert.ErrorContains(t, err, "negative weight")
}
