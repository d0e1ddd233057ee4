package threat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ETLController coordinates fetching and storing threat intelligence.
type ETLController struct {
	fetchers []ThreatFetcher
	store    ThreatStore
	logger   *slog.Logger
}

// NewETLController creates a new controller. A nil logger uses the default.
func NewETLController(store ThreatStore, logger *slog.Logger) *ETLController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ETLController{store: store, logger: logger}
}

// Register adds a fetcher to the controller.
func (c *ETLController) Register(f ThreatFetcher) {
	c.fetchers = append(c.fetchers, f)
}

// Run executes all fetchers concurrently and stores what each returns. One
// failing source does not stop the others; their errors are joined.
func (c *ETLController) Run(ctx context.Context) (int, error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		errs  []error
	)
	for _, f := range c.fetchers {
		wg.Add(1)
		go func(fetcher ThreatFetcher) {
			defer wg.Done()
			indicators, err := fetcher.Fetch(ctx)
			if err != nil {
				c.logger.Error("fetch failed", "source", fetcher.Name(), "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", fetcher.Name(), err))
				mu.Unlock()
				return
			}
			if err := c.store.SaveIndicators(ctx, indicators); err != nil {
				c.logger.Error("store failed", "source", fetcher.Name(), "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", fetcher.Name(), err))
				mu.Unlock()
				return
			}
			c.logger.Info("stored indicators", "source", fetcher.Name(), "count", len(indicators))
			mu.Lock()
			total += len(indicators)
			mu.Unlock()
		}(f)
	}
	wg.Wait()
	return total, errors.Join(errs...)
}

// MemoryStore is an in-memory ThreatStore keyed by indicator value.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]ThreatIndicator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]ThreatIndicator)}
}

func (m *MemoryStore) SaveIndicators(_ context.Context, ind []ThreatIndicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range ind {
		if prev, ok := m.data[i.Indicator]; ok && prev.FirstSeen.Before(i.FirstSeen) {
			i.FirstSeen = prev.FirstSeen
		}
		m.data[i.Indicator] = i
	}
	return nil
}

func (m *MemoryStore) Indicators(context.Context) ([]ThreatIndicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ThreatIndicator, 0, len(m.data))
	for _, i := range m.data {
		out = append(out, i)
	}
	return out, nil
}
