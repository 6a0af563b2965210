package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/models"
)

type entryResponse struct {
	EntryID         string    `json:"entry_id"`
	ProjectID       string    `json:"project_id"`
	UserID          string    `json:"user_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Note            string    `json:"note,omitempty"`
}

func toEntryResponse(e *models.TimeEntry) entryResponse {
	return entryResponse{
		EntryID:         e.EntryID.String(),
		ProjectID:       e.ProjectID.String(),
		UserID:          e.UserID.String(),
		StartedAt:       e.StartedAt,
		DurationSeconds: int64(e.Duration / time.Second),
		Note:            e.Note,
	}
}

func (s *Server) routeEntries(mux *http.ServeMux) {
	mux.Handle("GET /api/org/entries", s.guarded(models.RoleViewer, s.listEntries))
	mux.Handle("POST /api/org/entries", s.guarded(models.RoleMember, s.createEntry))
	mux.Handle("DELETE /api/org/entries/{id}", s.guarded(models.RoleMember, s.deleteEntry))
}

// listEntries lists the organization's time entries. With a "project" query
// parameter it filters to that project; otherwise it returns the caller's
// own entries.
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	var (
		entries []*models.TimeEntry
		err     error
	)
	if filter := r.URL.Query().Get("project"); filter != "" {
		projectID, parseErr := uuid.Parse(filter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "project must be a uuid")
			return
		}
		entries, err = s.stores.TimeEntries.ListByProject(r.Context(), projectID)
	} else {
		ident := auth.IdentityFromContext(r.Context())
		entries, err = s.stores.TimeEntries.ListByUser(r.Context(), ident.UserID)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createEntryRequest struct {
	ProjectID       string    `json:"project_id"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Note            string    `json:"note"`
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	ident := auth.IdentityFromContext(r.Context())

	var req createEntryRequest
	if !readJSON(w, r, &req) {
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "project_id must be a uuid")
		return
	}
	if req.StartedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "started_at is required")
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "duration_seconds must be positive")
		return
	}

	entry := &models.TimeEntry{
		EntryID:   uuid.Must(uuid.NewV7()),
		ProjectID: projectID,
		UserID:    ident.UserID,
		StartedAt: req.StartedAt,
		Duration:  time.Duration(req.DurationSeconds) * time.Second,
		Note:      req.Note,
	}
	if err := s.stores.TimeEntries.Create(r.Context(), entry); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.stores.TimeEntries.Delete(r.Context(), entryID); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
