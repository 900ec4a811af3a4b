package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/claudecontext/claude-context/internal/llm"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/retrieve"
)

// SearchRequest is the body of POST /projects/{project}/search.
type SearchRequest struct {
	Query     string           `json:"query"`
	Dataset   any              `json:"dataset,omitempty"`
	TopK      int              `json:"top_k,omitempty"`
	Threshold float32          `json:"threshold,omitempty"`
	Filters   retrieve.Filters `json:"filters,omitempty"`
	Smart     bool             `json:"smart,omitempty"`
}

// SmartAnswer augments search results with a synthesized answer.
type SmartAnswer struct {
	Answer    string            `json:"answer"`
	Citations []string          `json:"citations,omitempty"`
	Results   []retrieve.Result `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	resp, err := s.Retrieval.Search(r.Context(), retrieve.Request{
		Project:         project,
		DatasetSelector: req.Dataset,
		Query:           req.Query,
		TopK:            req.TopK,
		Threshold:       req.Threshold,
		Filters:         req.Filters,
	})
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	if !req.Smart {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if s.LLM == nil {
		errors.WriteError(w, errors.New(errors.CodeLLM, "smart query requires a configured LLM"))
		return
	}

	passages := make([]llm.Passage, 0, len(resp.Results))
	for _, res := range resp.Results {
		passages = append(passages, llm.Passage{
			SourcePath: res.SourcePath,
			Dataset:    res.Dataset,
			Content:    res.Content,
		})
	}
	answer, err := s.LLM.Synthesize(r.Context(), req.Query, passages)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SmartAnswer{
		Answer:    answer.Answer,
		Citations: answer.Citations,
		Results:   resp.Results,
	})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	ctx, cancel := context.WithTimeout(r.Context(), StatusDeadline)
	defer cancel()

	listings, err := s.Registry.ListForProject(ctx, project)
	if err != nil {
		if ctx.Err() != nil {
			errors.WriteError(w, errors.TimeoutError("database unreachable, listing datasets"))
			return
		}
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project":  project,
		"datasets": listings,
	})
}

func (s *Server) handleClearDataset(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	dataset := r.PathValue("dataset")
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))

	counts, err := s.Registry.ClearDataset(r.Context(), project, dataset, dryRun)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	if !dryRun {
		// Vector collections are removed after the relational rows; orphaned
		// collections are harmless and re-created deterministically.
		for _, collection := range counts.Collections {
			if err := s.Store.DeleteCollection(r.Context(), collection); err != nil {
				s.Log.Warn("Failed to delete vector collection", "collection", collection, "error", err)
			}
		}
		s.Tracker.Clear(project, dataset)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project": project,
		"dataset": dataset,
		"dry_run": dryRun,
		"counts":  counts,
	})
}
