// Package crawl implements the web crawl strategies: single, batch,
// recursive (depth-level parallel with memory-adaptive dispatch), and
// sitemap.
package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/claudecontext/claude-context/internal/config"
)

// Page is a fetched page. Held by the crawl strategy until handed to the
// indexing coordinator; never persisted as its own entity.
type Page struct {
	URL       string    `json:"url"`
	Depth     int       `json:"depth"`
	Title     string    `json:"title,omitempty"`
	Markdown  string    `json:"markdown"`
	Links     []string  `json:"links,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher is the crawler runtime dependency: it fetches a URL and returns
// normalized markdown plus outbound links harvested from the document
// structure (never by regex over the markdown).
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)

	// FetchRaw returns the raw response body, used for sitemap XML.
	FetchRaw(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher fetches pages over HTTP and converts HTML to markdown.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher with the configured page timeout and a
// politeness rate limit.
func NewHTTPFetcher(cfg config.CrawlConfig) *HTTPFetcher {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.PageTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Fetch retrieves a page and extracts title, markdown, and outbound links.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	body, err := f.get(ctx, pageURL, "text/html")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", pageURL, err)
	}

	page := &Page{
		URL:       pageURL,
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		Markdown:  htmlToMarkdown(doc),
		Links:     harvestLinks(doc, base),
		FetchedAt: time.Now(),
	}
	return page, nil
}

// FetchRaw retrieves a raw body (sitemap XML).
func (f *HTTPFetcher) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	return f.get(ctx, rawURL, "")
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", "claude-context-crawler/1.0")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// harvestLinks collects absolute http(s) links from anchor elements.
func harvestLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	return links
}

// htmlToMarkdown renders the main textual structure of a document as
// markdown: headings, paragraphs, list items, and fenced code blocks.
func htmlToMarkdown(doc *goquery.Document) string {
	var b strings.Builder

	doc.Find("script, style, nav, footer, header").Remove()

	doc.Find("h1, h2, h3, h4, h5, h6, p, li, pre").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1":
			b.WriteString("# " + text + "\n\n")
		case "h2":
			b.WriteString("## " + text + "\n\n")
		case "h3":
			b.WriteString("### " + text + "\n\n")
		case "h4", "h5", "h6":
			b.WriteString("#### " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		case "pre":
			b.WriteString("```\n" + text + "\n```\n\n")
		default:
			b.WriteString(text + "\n\n")
		}
	})

	return strings.TrimSpace(b.String())
}
