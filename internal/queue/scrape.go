package queue

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/ui"
)

type scrapeEntry struct {
	Chapters  []providers.Chapter `json:"chapters"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// ScrapeCache remembers chapter lists per series URL so repeated runs do not
// refetch the series page within ttl.
type ScrapeCache struct {
	path string
	ttl  time.Duration
	log  *ui.Logger
	now  func() time.Time

	mu sync.Mutex
}

func NewScrapeCache(root *cache.Root, ttl time.Duration, log *ui.Logger) *ScrapeCache {
	return &ScrapeCache{path: root.ScrapeCacheFile(), ttl: ttl, log: log, now: time.Now}
}

func (c *ScrapeCache) read() map[string]scrapeEntry {
	b, err := os.ReadFile(c.path)
	if err != nil || strings.TrimSpace(string(b)) == "" {
		return map[string]scrapeEntry{}
	}
	var m map[string]scrapeEntry
	if err := json.Unmarshal(b, &m); err != nil {
		c.log.Warnf("scrape cache is corrupt, starting fresh: %v", err)
		return map[string]scrapeEntry{}
	}
	if m == nil {
		m = map[string]scrapeEntry{}
	}
	return m
}

// Get returns the cached chapter list if it is younger than the TTL.
func (c *ScrapeCache) Get(seriesURL string) ([]providers.Chapter, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.read()[seriesURL]
	if !ok || len(e.Chapters) == 0 || c.now().Sub(e.FetchedAt) > c.ttl {
		return nil, false
	}
	return e.Chapters, true
}

func (c *ScrapeCache) Put(seriesURL string, chapters []providers.Chapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.read()
	m[seriesURL] = scrapeEntry{Chapters: chapters, FetchedAt: c.now().UTC()}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return cache.WriteFileAtomic(c.path, data, 0644)
}

func (c *ScrapeCache) Invalidate(seriesURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.read()
	if _, ok := m[seriesURL]; !ok {
		return nil
	}
	delete(m, seriesURL)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return cache.WriteFileAtomic(c.path, data, 0644)
}
