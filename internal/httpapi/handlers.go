package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/value"
)

type createRequest struct {
	Action  string       `json:"action"`
	UserID  *string      `json:"user_id"`
	Details value.Object `json:"details"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == nil {
		req.UserID = requester(r.Context())
	}

	err := s.engine.Create(r.Context(), engine.CreateRequest{
		Action:  req.Action,
		UserID:  req.UserID,
		Details: req.Details,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Log created"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filterFromQuery(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := pageFromQuery(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.engine.List(r.Context(), f, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := filterFromQuery(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	req := engine.ExportRequest{
		Filter:    f,
		Format:    q.Get("format"),
		Requester: requester(r.Context()),
		Flush:     func() { _ = rc.Flush() },
	}
	format, err := s.engine.ValidateExport(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="logs_export.%s"`, format.Extension()))
	w.WriteHeader(http.StatusOK)

	n, err := s.engine.Export(r.Context(), w, req)
	if err != nil {
		// Headers are sent; the client sees a truncated body.
		s.logger.Error("export aborted", "written", n, "error", err)
		return
	}
	s.logger.Debug("export finished", "written", n, "format", string(format))
}

type archiveRequest struct {
	Days *int `json:"days"`
}

type archiveResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
		return
	}
	days := s.archiveDays
	if req.Days != nil {
		days = *req.Days
	}

	job, err := s.engine.Archive(days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, archiveResponse{
		Message: fmt.Sprintf("Archival task triggered for logs older than %d days.", days),
		JobID:   job.ID,
	})
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.engine.ArchiveStatus(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type verifyResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
}

// handleVerify checks a caller-supplied record against its signature.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var entry logentry.LogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if entry.Details == nil {
		entry.Details = value.Object{}
	}
	writeJSON(w, http.StatusOK, verifyResponse{ID: entry.ID, Valid: s.engine.VerifyEntry(entry)})
}
