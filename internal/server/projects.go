package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/tenant"
)

type projectResponse struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	ClientID  *string   `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toProjectResponse(p *models.Project) projectResponse {
	resp := projectResponse{
		ProjectID: p.ProjectID.String(),
		Name:      p.Name,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
	}
	if p.ClientID != nil {
		id := p.ClientID.String()
		resp.ClientID = &id
	}
	return resp
}

func (s *Server) routeProjects(mux *http.ServeMux) {
	mux.Handle("GET /api/org/projects", s.guarded(models.RoleViewer, s.listProjects))
	mux.Handle("POST /api/org/projects", s.guarded(models.RoleMember, s.createProject))
	mux.Handle("GET /api/org/projects/{id}", s.guarded(models.RoleViewer, s.getProject))
	mux.Handle("PATCH /api/org/projects/{id}", s.guarded(models.RoleMember, s.updateProject))
}

// listProjects lists the organization's projects, optionally filtered to one
// client with the "client" query parameter.
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	var (
		projects []*models.Project
		err      error
	)
	if filter := r.URL.Query().Get("client"); filter != "" {
		clientID, parseErr := uuid.Parse(filter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "client must be a uuid")
			return
		}
		projects, err = s.stores.Projects.ListByClient(r.Context(), clientID)
	} else {
		projects, err = s.stores.Projects.List(r.Context())
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createProjectRequest struct {
	Name     string  `json:"name"`
	ClientID *string `json:"client_id"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	org, err := tenant.Current(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	existing, err := s.stores.Projects.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !checkProjectLimit(org, len(existing)) {
		writeError(w, http.StatusUnprocessableEntity, "organization project limit reached")
		return
	}

	project := &models.Project{
		ProjectID: uuid.Must(uuid.NewV7()),
		Name:      req.Name,
		Status:    models.ProjectStatusActive,
	}
	if req.ClientID != nil {
		clientID, parseErr := uuid.Parse(*req.ClientID)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "client_id must be a uuid")
			return
		}
		project.ClientID = &clientID
	}

	if err := s.stores.Projects.Create(r.Context(), project); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(project))
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	project, err := s.stores.Projects.Get(r.Context(), projectID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

type updateProjectRequest struct {
	Name     *string `json:"name"`
	Status   *string `json:"status"`
	ClientID *string `json:"client_id"`
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	project, err := s.stores.Projects.Get(r.Context(), projectID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req updateProjectRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		project.Name = *req.Name
	}
	if req.Status != nil {
		switch *req.Status {
		case models.ProjectStatusActive, models.ProjectStatusArchived:
			project.Status = *req.Status
		default:
			writeError(w, http.StatusBadRequest, "status must be active or archived")
			return
		}
	}
	if req.ClientID != nil {
		if *req.ClientID == "" {
			project.ClientID = nil
		} else {
			clientID, parseErr := uuid.Parse(*req.ClientID)
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "client_id must be a uuid")
				return
			}
			project.ClientID = &clientID
		}
	}

	if err := s.stores.Projects.Update(r.Context(), project); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(project))
}
