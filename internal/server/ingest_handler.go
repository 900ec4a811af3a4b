package server

import (
	"context"
	"net/http"
	"time"

	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/scope"
)

// IngestLocalRequest is the body of POST /projects/{project}/ingest/local.
// Repo, branch, and sha annotate a local checkout of a remote repository;
// scope is an alternative spelling of dataset kept for callers that think in
// scopes.
type IngestLocalRequest struct {
	Path              string `json:"path"`
	Dataset           string `json:"dataset,omitempty"`
	Repo              string `json:"repo,omitempty"`
	Branch            string `json:"branch,omitempty"`
	SHA               string `json:"sha,omitempty"`
	Scope             string `json:"scope,omitempty"`
	Force             bool   `json:"force,omitempty"`
	WaitForCompletion bool   `json:"waitForCompletion,omitempty"`
}

// IngestGitHubRequest is the body of POST /projects/{project}/ingest/github.
type IngestGitHubRequest struct {
	URL               string `json:"url"`
	Dataset           string `json:"dataset,omitempty"`
	Branch            string `json:"branch,omitempty"`
	SHA               string `json:"sha,omitempty"`
	Force             bool   `json:"force,omitempty"`
	WaitForCompletion bool   `json:"waitForCompletion,omitempty"`
}

// OperationResponse acknowledges asynchronous work.
type OperationResponse struct {
	OperationID string `json:"operation_id"`
	Project     string `json:"project"`
	Dataset     string `json:"dataset"`
	Status      string `json:"status"`
}

func (s *Server) handleIngestLocal(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req IngestLocalRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.Path == "" {
		errors.WriteError(w, errors.InvalidRequestError("path is required"))
		return
	}
	dataset := req.Dataset
	if dataset == "" {
		dataset = req.Scope
	}
	if dataset == "" {
		dataset = scope.DefaultDataset
	}
	sc := scope.Scope{Project: project, Dataset: dataset}

	mode := ingest.ModeIncremental
	if req.Force {
		mode = ingest.ModeForced
	}

	s.runOperation(w, sc, req.WaitForCompletion, func(ctx context.Context) (*ingest.Result, error) {
		docs, err := ingest.EnumerateLocal(req.Path)
		if err != nil {
			return nil, err
		}
		return s.Coord.Index(ctx, ingest.Request{Scope: sc, Documents: docs, Mode: mode, Repo: req.Repo})
	})
}

func (s *Server) handleIngestGitHub(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	var req IngestGitHubRequest
	if err := decodeJSON(r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if req.URL == "" {
		errors.WriteError(w, errors.InvalidRequestError("url is required"))
		return
	}
	dataset := req.Dataset
	if dataset == "" {
		dataset = "github-main"
		if req.Branch != "" {
			dataset = "github-" + req.Branch
		}
	}
	sc := scope.Scope{Project: project, Dataset: dataset}

	mode := ingest.ModeIncremental
	if req.Force {
		mode = ingest.ModeForced
	}

	s.runOperation(w, sc, req.WaitForCompletion, func(ctx context.Context) (*ingest.Result, error) {
		return s.Coord.IndexGitHub(ctx, sc, req.URL, req.Branch, req.SHA, mode)
	})
}

// runOperation executes an ingest either synchronously (bounded by the wait
// cap) or detached, acknowledging with the scope's progress key.
func (s *Server) runOperation(w http.ResponseWriter, sc scope.Scope, wait bool, fn func(context.Context) (*ingest.Result, error)) {
	if wait {
		ctx, cancel := context.WithTimeout(context.Background(), WaitForCompletionMax)
		defer cancel()

		result, err := fn(ctx)
		if err != nil {
			errors.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := fn(ctx); err != nil {
			s.Log.Error("Background ingest failed", "project", sc.Project, "dataset", sc.Dataset, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, OperationResponse{
		OperationID: scopeOperationKey(sc),
		Project:     sc.Project,
		Dataset:     sc.Dataset,
		Status:      string(progress.StatusStarting),
	})
}

// scopeOperationKey is the progress key callers poll for scope-level work.
func scopeOperationKey(sc scope.Scope) string {
	return sc.String()
}
