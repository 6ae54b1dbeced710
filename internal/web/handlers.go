package web

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rosterflow/rosterflow/internal/importer"
	"github.com/rosterflow/rosterflow/internal/logging"
)

// handleHealth reports liveness plus the number of in-flight sessions.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.service.ActiveSessions(),
	})
}

// handleStartImport accepts a multipart CSV upload and opens a new import
// session. The response carries the session ID, the detected header and a
// short preview so the client can build a column mapping.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	if err := r.ParseMultipartForm(s.maxBody); err != nil {
		s.respondError(w, r, &importer.ParseError{Reason: "file too large or invalid form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, &importer.ParseError{Reason: "no file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, &importer.ParseError{Reason: "failed to read file"})
		return
	}

	owner := r.FormValue("owner")
	if owner == "" {
		owner = r.RemoteAddr
	}

	result, err := s.service.StartImport(r.Context(), owner, header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("upload accepted",
		"session_id", result.SessionID,
		"file", result.FileName,
		"rows", result.TotalRows,
	)
	respondJSON(w, http.StatusCreated, result)
}

// handleSubmitMapping applies a column mapping to the session and returns
// the conflict detection result.
//
// Request body: {"mapping": {"<source column>": "<target field>", ...}}
func (s *Server) handleSubmitMapping(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Mapping importer.Mapping `json:"mapping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, &importer.MappingError{Message: "invalid request body"})
		return
	}

	conflicts, err := s.service.SubmitMapping(r.Context(), sessionID, req.Mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"conflicts": conflicts,
	})
}

// handleSubmitResolutions records the client's decisions for conflicted rows.
//
// Request body: {"resolutions": {"<row index>": {"action": ..., "existingId": ...}}}
func (s *Server) handleSubmitResolutions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Resolutions map[int]importer.Resolution `json:"resolutions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, &importer.ResolutionError{Message: "invalid request body"})
		return
	}

	if err := s.service.SubmitResolutions(r.Context(), sessionID, req.Resolutions); err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"state":     importer.StateResolved,
	})
}

// handleCommitImport runs the final atomic commit for a resolved session.
func (s *Server) handleCommitImport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := s.service.CommitImport(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("import committed",
		"session_id", sessionID,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
	)
	respondJSON(w, http.StatusOK, result)
}

// handleStatus returns the current snapshot of a session.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status, err := s.service.Status(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}
