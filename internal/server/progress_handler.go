package server

import (
	"net/http"

	"github.com/claudecontext/claude-context/internal/progress"
)

// ProgressResponse is the body of the progress endpoints.
type ProgressResponse struct {
	Project    string            `json:"project,omitempty"`
	Operations []progress.Record `json:"operations"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	activeOnly := r.URL.Query().Get("active") == "true"
	operationID := r.URL.Query().Get("operationId")

	if operationID != "" {
		if rec, ok := s.Tracker.Snapshot(operationID); ok {
			writeJSON(w, http.StatusOK, ProgressResponse{Project: project, Operations: []progress.Record{rec}})
			return
		}
		// Scope keys double as operation ids for ingest acknowledgements.
		prefix := project + "/"
		if len(operationID) > len(prefix) && operationID[:len(prefix)] == prefix {
			if rec, ok := s.Tracker.SnapshotScope(project, operationID[len(prefix):]); ok {
				writeJSON(w, http.StatusOK, ProgressResponse{Project: project, Operations: []progress.Record{rec}})
				return
			}
		}
		writeJSON(w, http.StatusOK, ProgressResponse{Project: project, Operations: []progress.Record{}})
		return
	}

	records := s.Tracker.ForProject(project, activeOnly)
	if records == nil {
		records = []progress.Record{}
	}
	writeJSON(w, http.StatusOK, ProgressResponse{Project: project, Operations: records})
}

func (s *Server) handleAllProgress(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	records := s.Tracker.All(activeOnly)
	if records == nil {
		records = []progress.Record{}
	}
	writeJSON(w, http.StatusOK, ProgressResponse{Operations: records})
}
