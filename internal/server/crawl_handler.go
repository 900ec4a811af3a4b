package server

import (
	"context"
	"net/http"
	"time"

	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/scope"
)

// CrawlRequest is the body of POST /projects/{project}/crawl.
type CrawlRequest struct {
	URL               string   `json:"url,omitempty"`
	URLs              []string `json:"urls,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	Dataset           string   `json:"dataset,omitempty"`
	MaxDepth          int      `json:"maxDepth,omitempty"`
	MaxPages          int      `json:"maxPages,omitempty"`
	SameDomainOnly    *bool    `json:"sameDomainOnly,omitempty"`
	WaitForCompletion bool     `json:"waitForCompletion,omitempty"`
}

// CrawlResponse reports a synchronous crawl.
type CrawlResponse struct {
	OperationID string         `json:"operation_id"`
	Pages       int            `json:"pages"`
	Result      *ingest.Result `json:"result,omitempty"`
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req CrawlRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	urls := req.URLs
	if req.URL != "" {
		urls = append([]string{req.URL}, urls...)
	}
	if len(urls) == 0 {
		errors.WriteError(w, errors.InvalidRequestError("url or urls is required"))
		return
	}

	dataset := req.Dataset
	if dataset == "" {
		dataset = "web"
	}
	sc := scope.Scope{Project: project, Dataset: dataset}

	sameDomain := s.Config.Crawl.SameDomainOnlyByDefault
	if req.SameDomainOnly != nil {
		sameDomain = *req.SameDomainOnly
	}

	opts := crawl.Options{
		Mode:           crawl.Mode(req.Mode),
		URLs:           urls,
		MaxDepth:       req.MaxDepth,
		MaxPages:       req.MaxPages,
		SameDomainOnly: sameDomain,
	}

	if req.WaitForCompletion {
		ctx, cancel := context.WithTimeout(r.Context(), WaitForCompletionMax)
		defer cancel()

		opID, pages, result, err := s.runCrawl(ctx, sc, opts)
		if err != nil {
			errors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CrawlResponse{OperationID: opID, Pages: pages, Result: result})
		return
	}

	opID := s.Tracker.Start(sc.Project, sc.Dataset, "crawling")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, _, _, err := s.runCrawlTracked(ctx, opID, sc, opts); err != nil {
			s.Log.Error("Background crawl failed", "project", sc.Project, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, OperationResponse{
		OperationID: opID,
		Project:     sc.Project,
		Dataset:     sc.Dataset,
		Status:      string(progress.StatusStarting),
	})
}

// runCrawl starts a fresh progress record and executes the crawl+index.
func (s *Server) runCrawl(ctx context.Context, sc scope.Scope, opts crawl.Options) (string, int, *ingest.Result, error) {
	opID := s.Tracker.Start(sc.Project, sc.Dataset, "crawling")
	_, pages, result, err := s.runCrawlTracked(ctx, opID, sc, opts)
	return opID, pages, result, err
}

// runCrawlTracked fetches pages and hands them to the indexing coordinator,
// reporting both phases under one progress record.
func (s *Server) runCrawlTracked(ctx context.Context, opID string, sc scope.Scope, opts crawl.Options) (string, int, *ingest.Result, error) {
	fail := func(err error) (string, int, *ingest.Result, error) {
		kind := progress.ErrKindFailure
		if errors.IsCancelled(err) || ctx.Err() != nil {
			kind = progress.ErrKindCancelled
		}
		s.Tracker.Fail(opID, err, kind)
		return opID, 0, nil, err
	}

	opts.OnPage = func(p crawl.Page) {
		s.Tracker.AddStored(opID, 1)
	}

	pages, err := s.Crawler.Crawl(ctx, opts)
	if err != nil {
		return fail(err)
	}

	s.Tracker.SetPhase(opID, "indexing crawled pages")
	docs := make([]ingest.Document, 0, len(pages))
	for _, p := range pages {
		docs = append(docs, ingest.Document{Path: p.URL, Content: pageDocument(p)})
	}

	result, err := s.Coord.Index(ctx, ingest.Request{Scope: sc, Documents: docs, Mode: ingest.ModeIncremental})
	if err != nil {
		return fail(err)
	}

	s.Tracker.Complete(opID)
	return opID, len(pages), result, nil
}

// pageDocument renders a crawled page as the markdown document to index.
func pageDocument(p crawl.Page) string {
	if p.Title == "" {
		return p.Markdown
	}
	return "# " + p.Title + "\n\n" + p.Markdown
}
