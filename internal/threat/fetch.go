package threat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultURLhausHostfile is the abuse.ch hosts-format blocklist.
const DefaultURLhausHostfile = "https://urlhaus.abuse.ch/downloads/hostfile/"

// ParseList reads a newline separated blocklist. Accepted line forms are a
// bare host, a URL, or a hosts file entry ("0.0.0.0 host"). Blank lines and
// lines starting with '#' are skipped.
func ParseList(r io.Reader, source string, now time.Time) ([]ThreatIndicator, error) {
	seen := make(map[string]bool)
	var out []ThreatIndicator

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '#'); i > 0 {
			line = strings.TrimSpace(line[:i])
		}

		fields := strings.Fields(line)
		host := fields[0]
		if len(fields) > 1 {
			if _, err := netip.ParseAddr(fields[0]); err == nil {
				host = fields[1]
			}
		}
		if strings.Contains(host, "://") {
			u, err := url.Parse(host)
			if err != nil {
				continue
			}
			host = u.Hostname()
		}

		host = NormalizeHost(host)
		if host == "" || host == "localhost" || seen[host] {
			continue
		}
		seen[host] = true

		typ := TypeDomain
		if _, err := netip.ParseAddr(host); err == nil {
			typ = TypeIP
		}
		out = append(out, NewIndicator(host, typ, source, now))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s list: %w", source, err)
	}
	return out, nil
}

// FileFetcher loads a local blocklist file.
type FileFetcher struct {
	path   string
	source string
	now    func() time.Time
}

func NewFileFetcher(path, source string) *FileFetcher {
	if source == "" {
		source = "file"
	}
	return &FileFetcher{path: path, source: source, now: time.Now}
}

func (f *FileFetcher) Name() string { return f.source }

func (f *FileFetcher) Fetch(context.Context) ([]ThreatIndicator, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("opening blocklist: %w", err)
	}
	defer fh.Close()
	return ParseList(fh, f.source, f.now().UTC())
}

// URLhausFetcher downloads the URLhaus hostfile.
type URLhausFetcher struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewURLhausFetcher uses DefaultURLhausHostfile when url is empty.
func NewURLhausFetcher(url string, client *http.Client) *URLhausFetcher {
	if url == "" {
		url = DefaultURLhausHostfile
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &URLhausFetcher{url: url, client: client, now: time.Now}
}

func (u *URLhausFetcher) Name() string { return "urlhaus" }

func (u *URLhausFetcher) Fetch(ctx context.Context) ([]ThreatIndicator, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading hostfile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading hostfile: unexpected status %d", resp.StatusCode)
	}
	return ParseList(resp.Body, u.Name(), u.now().UTC())
}
