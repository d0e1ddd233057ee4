package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultURLhausHostAPI answers per-host queries.
const DefaultURLhausHostAPI = "https://urlhaus-api.abuse.ch/v1/host/"

// HostReport summarises what URLhaus knows about a host.
type HostReport struct {
	Host          string   `json:"host"`
	Malicious     bool     `json:"malicious"`
	URLCount      int      `json:"url_count"`
	ActiveThreats int      `json:"active_threats"`
	RiskScore     int      `json:"risk_score"`
	Detections    []string `json:"detections,omitempty"`
}

// URLhausClient queries the URLhaus host API.
type URLhausClient struct {
	endpoint string
	client   *http.Client
}

func NewURLhausClient(endpoint string, client *http.Client) *URLhausClient {
	if endpoint == "" {
		endpoint = DefaultURLhausHostAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &URLhausClient{endpoint: endpoint, client: client}
}

type urlhausHostResponse struct {
	QueryStatus string `json:"query_status"`
	URLs        []struct {
		URLStatus string `json:"url_status"`
	} `json:"urls"`
}

// LookupHost reports on host. A host unknown to URLhaus is not malicious and
// is not an error.
func (c *URLhausClient) LookupHost(ctx context.Context, host string) (HostReport, error) {
	report := HostReport{Host: host}
	form := url.Values{"host": {host}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return report, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return report, fmt.Errorf("urlhaus lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("urlhaus lookup: unexpected status %d", resp.StatusCode)
	}

	var body urlhausHostResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return report, fmt.Errorf("urlhaus lookup: decoding response: %w", err)
	}
	if body.QueryStatus != "ok" || len(body.URLs) == 0 {
		return report, nil
	}

	report.Malicious = true
	report.URLCount = len(body.URLs)
	for _, u := range body.URLs {
		if u.URLStatus == "online" {
			report.ActiveThreats++
		}
	}
	report.RiskScore = min(100, report.URLCount*20)
	report.Detections = append(report.Detections,
		fmt.Sprintf("URLhaus database contains %d malicious URL(s) from this domain", report.URLCount))
	if report.ActiveThreats > 0 {
		report.Detections = append(report.Detections,
			fmt.Sprintf("%d currently active malware URL(s)", report.ActiveThreats))
	}
	return report, nil
}
