package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/tenant"
)

type clientResponse struct {
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

func toClientResponse(c *models.Client) clientResponse {
	return clientResponse{
		ClientID:  c.ClientID.String(),
		Name:      c.Name,
		Currency:  c.Currency,
		CreatedAt: c.CreatedAt,
	}
}

func (s *Server) routeClients(mux *http.ServeMux) {
	mux.Handle("GET /api/org/clients", s.guarded(models.RoleViewer, s.listClients))
	mux.Handle("POST /api/org/clients", s.guarded(models.RoleMember, s.createClient))
	mux.Handle("GET /api/org/clients/{id}", s.guarded(models.RoleViewer, s.getClient))
	mux.Handle("PATCH /api/org/clients/{id}", s.guarded(models.RoleMember, s.updateClient))
	mux.Handle("DELETE /api/org/clients/{id}", s.guarded(models.RoleMember, s.deleteClient))
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.stores.Clients.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := make([]clientResponse, 0, len(clients))
	for _, c := range clients {
		resp = append(resp, toClientResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createClientRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if req.Currency == "" {
		org, err := tenant.Current(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		req.Currency = org.Currency
	}

	client := &models.Client{
		ClientID: uuid.Must(uuid.NewV7()),
		Name:     req.Name,
		Currency: req.Currency,
	}
	if err := s.stores.Clients.Create(r.Context(), client); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toClientResponse(client))
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	client, err := s.stores.Clients.Get(r.Context(), clientID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toClientResponse(client))
}

type updateClientRequest struct {
	Name     *string `json:"name"`
	Currency *string `json:"currency"`
}

func (s *Server) updateClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	client, err := s.stores.Clients.Get(r.Context(), clientID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req updateClientRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		client.Name = *req.Name
	}
	if req.Currency != nil {
		client.Currency = *req.Currency
	}

	if err := s.stores.Clients.Update(r.Context(), client); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toClientResponse(client))
}

func (s *Server) deleteClient(w http.ResponseWriter, r *http.Request) {
	clientID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.stores.Clients.Delete(r.Context(), clientID); err != nil {
		writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
