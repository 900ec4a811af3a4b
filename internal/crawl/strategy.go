package crawl

import (
	"context"
	"net/url"
	"sort"
	"sync"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// Mode selects the crawl behavior. Single is never inferred from the URL
// count; it applies only when explicitly requested.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeBatch     Mode = "batch"
	ModeRecursive Mode = "recursive"
	ModeSitemap   Mode = "sitemap"
)

// Options configure one crawl run.
type Options struct {
	Mode           Mode
	URLs           []string
	MaxDepth       int
	MaxPages       int
	SameDomainOnly bool

	// OnPage is called for each fetched page, in no particular order.
	OnPage func(Page)
}

// Strategy executes crawls with depth-level parallelism under the
// memory-adaptive dispatcher.
type Strategy struct {
	fetcher    Fetcher
	dispatcher *Dispatcher
	cfg        config.CrawlConfig
	log        *logger.Logger
}

// NewStrategy creates a crawl strategy.
func NewStrategy(fetcher Fetcher, cfg config.CrawlConfig, log *logger.Logger) *Strategy {
	return &Strategy{
		fetcher:    fetcher,
		dispatcher: NewDispatcher(cfg.MaxConcurrent, cfg.MemoryThresholdPct, log),
		cfg:        cfg,
		log:        log,
	}
}

// Crawl runs the selected mode and returns the fetched pages.
func (s *Strategy) Crawl(ctx context.Context, opts Options) ([]Page, error) {
	if len(opts.URLs) == 0 {
		return nil, errors.ValidationError("at least one url is required")
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = s.cfg.DefaultMaxPages
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = s.cfg.DefaultMaxDepth
	}

	switch opts.Mode {
	case ModeSingle:
		return s.crawlLevel(ctx, opts.URLs[:1], 0, opts)
	case ModeBatch, "":
		return s.crawlLevel(ctx, opts.URLs, 0, opts)
	case ModeSitemap:
		return s.crawlSitemap(ctx, opts)
	case ModeRecursive:
		return s.crawlRecursive(ctx, opts)
	default:
		return nil, errors.ValidationError("unknown crawl mode: " + string(opts.Mode))
	}
}

// crawlSitemap always parses the sitemap XML for URLs before crawling; the
// sitemap itself is never indexed as a page.
func (s *Strategy) crawlSitemap(ctx context.Context, opts Options) ([]Page, error) {
	seen := make(map[string]bool)
	var pageURLs []string

	queue := append([]string(nil), opts.URLs...)
	for len(queue) > 0 {
		sitemapURL := queue[0]
		queue = queue[1:]
		if seen[sitemapURL] {
			continue
		}
		seen[sitemapURL] = true

		raw, err := s.fetcher.FetchRaw(ctx, sitemapURL)
		if err != nil {
			return nil, errors.CrawlError("fetching sitemap", err)
		}
		pages, children, err := ParseSitemap(raw)
		if err != nil {
			return nil, errors.CrawlError("parsing sitemap", err)
		}
		pageURLs = append(pageURLs, pages...)
		queue = append(queue, children...)
	}

	if len(pageURLs) > opts.MaxPages {
		pageURLs = pageURLs[:opts.MaxPages]
	}
	return s.crawlLevel(ctx, pageURLs, 0, opts)
}

// crawlRecursive proceeds in discrete depth levels. At each level the
// frontier is partitioned into batches; links harvested from each page feed
// the next depth after domain filtering and deduplication.
func (s *Strategy) crawlRecursive(ctx context.Context, opts Options) ([]Page, error) {
	seen := make(map[string]bool)
	for _, u := range opts.URLs {
		seen[u] = true
	}

	allowedHosts := make(map[string]bool)
	if opts.SameDomainOnly {
		for _, u := range opts.URLs {
			if parsed, err := url.Parse(u); err == nil {
				allowedHosts[parsed.Host] = true
			}
		}
	}

	var collected []Page
	frontier := append([]string(nil), opts.URLs...)

	for depth := 0; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return collected, errors.CancelledError("crawl")
		}

		remaining := opts.MaxPages - len(collected)
		if remaining <= 0 {
			break
		}
		if len(frontier) > remaining {
			frontier = frontier[:remaining]
		}

		pages, err := s.crawlLevel(ctx, frontier, depth, opts)
		collected = append(collected, pages...)
		if err != nil {
			return collected, err
		}

		// Harvest the next frontier from the crawler's native link output.
		next := make([]string, 0)
		for _, page := range pages {
			for _, link := range page.Links {
				if seen[link] {
					continue
				}
				if opts.SameDomainOnly {
					parsed, err := url.Parse(link)
					if err != nil || !allowedHosts[parsed.Host] {
						continue
					}
				}
				seen[link] = true
				next = append(next, link)
			}
		}
		sort.Strings(next)
		frontier = next
	}

	return collected, nil
}

// crawlLevel fetches one frontier in batches of BatchSize, each batch run
// under the bounded, memory-adaptive dispatcher. Fetch failures skip the
// page; cancellation aborts between batches.
func (s *Strategy) crawlLevel(ctx context.Context, urls []string, depth int, opts Options) ([]Page, error) {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var mu sync.Mutex
	var pages []Page

	for start := 0; start < len(urls); start += batchSize {
		if err := ctx.Err(); err != nil {
			return pages, errors.CancelledError("crawl")
		}

		end := start + batchSize
		if end > len(urls) {
			end = len(urls)
		}

		tasks := make([]func(context.Context), 0, end-start)
		for _, pageURL := range urls[start:end] {
			tasks = append(tasks, func(taskCtx context.Context) {
				page, err := s.fetcher.Fetch(taskCtx, pageURL)
				if err != nil {
					s.log.Warn("Fetch failed", "url", pageURL, "error", err)
					return
				}
				page.Depth = depth

				mu.Lock()
				pages = append(pages, *page)
				mu.Unlock()

				if opts.OnPage != nil {
					opts.OnPage(*page)
				}
			})
		}

		if err := s.dispatcher.Run(ctx, tasks); err != nil {
			return pages, errors.CancelledError("crawl")
		}
	}

	// Deterministic ordering for callers and tests.
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	return pages, nil
}
