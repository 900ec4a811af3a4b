package crawl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// fakeFetcher serves a canned link graph.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]string // url -> outbound links
	raw     map[string][]byte   // url -> raw body (sitemaps)
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (*Page, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, pageURL)
	links, ok := f.pages[pageURL]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no such page: %s", pageURL)
	}
	return &Page{
		URL:      pageURL,
		Markdown: "# " + pageURL,
		Links:    links,
	}, nil
}

func (f *fakeFetcher) FetchRaw(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.raw[rawURL]
	if !ok {
		return nil, fmt.Errorf("no such resource: %s", rawURL)
	}
	return body, nil
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func testStrategy(f Fetcher) *Strategy {
	cfg := config.CrawlConfig{
		BatchSize:          50,
		MaxConcurrent:      10,
		MemoryThresholdPct: 80,
		DefaultMaxDepth:    2,
		DefaultMaxPages:    100,
	}
	return NewStrategy(f, cfg, logger.New("error", "text"))
}

func TestRecursiveCrawlDepthLevels(t *testing.T) {
	f := &fakeFetcher{pages: map[string][]string{
		"https://a.test/":       {"https://a.test/1", "https://a.test/2"},
		"https://a.test/1":      {"https://a.test/deep"},
		"https://a.test/2":      {},
		"https://a.test/deep":   {"https://a.test/deeper"},
		"https://a.test/deeper": {},
	}}

	pages, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode:     ModeRecursive,
		URLs:     []string{"https://a.test/"},
		MaxDepth: 2,
		MaxPages: 30,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	// Depth 0: seed; depth 1: /1 and /2; depth 2: /deep. /deeper is depth 3.
	if len(pages) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(pages))
	}
	depthByURL := make(map[string]int)
	for _, p := range pages {
		depthByURL[p.URL] = p.Depth
	}
	if depthByURL["https://a.test/"] != 0 || depthByURL["https://a.test/1"] != 1 || depthByURL["https://a.test/deep"] != 2 {
		t.Errorf("depths wrong: %v", depthByURL)
	}
	if _, ok := depthByURL["https://a.test/deeper"]; ok {
		t.Error("page beyond max_depth was crawled")
	}
}

func TestRecursiveCrawlMaxPages(t *testing.T) {
	pages := map[string][]string{"https://a.test/": nil}
	for i := 0; i < 20; i++ {
		child := fmt.Sprintf("https://a.test/%d", i)
		pages["https://a.test/"] = append(pages["https://a.test/"], child)
		pages[child] = nil
	}
	f := &fakeFetcher{pages: pages}

	got, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode:     ModeRecursive,
		URLs:     []string{"https://a.test/"},
		MaxDepth: 3,
		MaxPages: 5,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(got) > 5 {
		t.Errorf("max_pages exceeded: %d pages", len(got))
	}
}

func TestRecursiveCrawlSameDomainOnly(t *testing.T) {
	f := &fakeFetcher{pages: map[string][]string{
		"https://a.test/":        {"https://a.test/in", "https://other.test/out"},
		"https://a.test/in":      {},
		"https://other.test/out": {},
	}}

	got, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode:           ModeRecursive,
		URLs:           []string{"https://a.test/"},
		MaxDepth:       1,
		MaxPages:       10,
		SameDomainOnly: true,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	for _, p := range got {
		if p.URL == "https://other.test/out" {
			t.Error("cross-domain link crawled despite same_domain_only")
		}
	}
	if len(got) != 2 {
		t.Errorf("expected 2 same-domain pages, got %d", len(got))
	}
}

func TestRecursiveCrawlDeduplicates(t *testing.T) {
	f := &fakeFetcher{pages: map[string][]string{
		"https://a.test/":  {"https://a.test/x", "https://a.test/x"},
		"https://a.test/x": {"https://a.test/"},
	}}

	got, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode:     ModeRecursive,
		URLs:     []string{"https://a.test/"},
		MaxDepth: 3,
		MaxPages: 10,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 unique pages, got %d", len(got))
	}
	if len(f.fetchedURLs()) != 2 {
		t.Errorf("urls fetched more than once: %v", f.fetchedURLs())
	}
}

func TestSingleModeOnlyExplicit(t *testing.T) {
	f := &fakeFetcher{pages: map[string][]string{
		"https://a.test/1": {},
		"https://a.test/2": {},
	}}

	// Batch mode with two URLs fetches both.
	got, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode: ModeBatch,
		URLs: []string{"https://a.test/1", "https://a.test/2"},
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("batch mode should fetch all urls, got %d", len(got))
	}

	// Single mode fetches only the first even when more are given.
	f2 := &fakeFetcher{pages: f.pages}
	got, err = testStrategy(f2).Crawl(context.Background(), Options{
		Mode: ModeSingle,
		URLs: []string{"https://a.test/1", "https://a.test/2"},
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://a.test/1" {
		t.Errorf("single mode should fetch exactly the first url, got %v", got)
	}
}

func TestSitemapModeParsesXML(t *testing.T) {
	sitemap := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://a.test/page1</loc></url>
  <url><loc>https://a.test/page2</loc></url>
</urlset>`)

	f := &fakeFetcher{
		raw: map[string][]byte{"https://a.test/sitemap.xml": sitemap},
		pages: map[string][]string{
			"https://a.test/page1": {},
			"https://a.test/page2": {},
		},
	}

	got, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode:     ModeSitemap,
		URLs:     []string{"https://a.test/sitemap.xml"},
		MaxPages: 1,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	// max_pages=1 still parses the sitemap rather than treating it as the
	// page; the sitemap URL itself is never among the crawled pages.
	if len(got) != 1 {
		t.Fatalf("expected 1 page, got %d", len(got))
	}
	if got[0].URL == "https://a.test/sitemap.xml" {
		t.Error("sitemap itself must not be indexed as a page")
	}
	for _, u := range f.fetchedURLs() {
		if u == "https://a.test/sitemap.xml" {
			t.Error("sitemap was fetched as a page")
		}
	}
}

func TestSitemapIndexRecursion(t *testing.T) {
	index := []byte(`<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://a.test/child.xml</loc></sitemap>
</sitemapindex>`)
	child := []byte(`<?xml version="1.0"?>
<urlset><url><loc>https://a.test/page</loc></url></urlset>`)

	f := &fakeFetcher{
		raw: map[string][]byte{
			"https://a.test/sitemap.xml": index,
			"https://a.test/child.xml":   child,
		},
		pages: map[string][]string{"https://a.test/page": {}},
	}

	got, err := testStrategy(f).Crawl(context.Background(), Options{
		Mode: ModeSitemap,
		URLs: []string{"https://a.test/sitemap.xml"},
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://a.test/page" {
		t.Errorf("sitemap index should resolve through children, got %v", got)
	}
}

func TestCrawlCancellation(t *testing.T) {
	f := &fakeFetcher{pages: map[string][]string{"https://a.test/": {}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testStrategy(f).Crawl(ctx, Options{
		Mode: ModeRecursive,
		URLs: []string{"https://a.test/"},
	})
	if err == nil {
		t.Error("cancelled crawl should report an error")
	}
}

func TestDispatcherMemoryGate(t *testing.T) {
	log := logger.New("error", "text")
	d := NewDispatcher(2, 80, log)

	// Above threshold: dispatch pauses until memory recovers.
	var mu sync.Mutex
	high := true
	d.memPercent = func() float64 {
		mu.Lock()
		defer mu.Unlock()
		if high {
			return 95
		}
		return 10
	}
	d.pollEvery = 5 * time.Millisecond

	ran := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background(), []func(context.Context){
			func(context.Context) { ran <- struct{}{} },
		})
	}()

	select {
	case <-ran:
		t.Fatal("task ran while memory was above threshold")
	default:
	}

	mu.Lock()
	high = false
	mu.Unlock()

	<-ran
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestParseSitemapRejectsHTML(t *testing.T) {
	if _, _, err := ParseSitemap([]byte("<html><body>hi</body></html>")); err == nil {
		t.Error("HTML should not parse as a sitemap")
	}
}
