package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tallyhq/tally/internal/auth"
	httpmiddleware "github.com/tallyhq/tally/internal/http"
	"github.com/tallyhq/tally/internal/logger"
	"github.com/tallyhq/tally/internal/models"
	"github.com/tallyhq/tally/internal/store"
	"github.com/tallyhq/tally/internal/tenant"
)

// Options configures the API server.
type Options struct {
	CORSOrigins []string
}

// Server exposes the tenancy API (organizations, members, invitations,
// context switching) and the tenant-scoped business surface (clients,
// projects, time entries).
type Server struct {
	stores *store.Stores
	guard  *auth.Guard
	signer *auth.TokenSigner
	bridge *tenant.Bridge
	opts   Options
}

// NewServer creates an API server.
func NewServer(stores *store.Stores, guard *auth.Guard, signer *auth.TokenSigner, bridge *tenant.Bridge, opts Options) *Server {
	return &Server{
		stores: stores,
		guard:  guard,
		signer: signer,
		bridge: bridge,
		opts:   opts,
	}
}

// Handler returns the HTTP handler with the full middleware chain applied:
// request logging -> client IP -> CORS -> token auth -> (per-route) guard.
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	s.routeOrganizations(mux)
	s.routeMembers(mux)
	s.routeClients(mux)
	s.routeProjects(mux)
	s.routeEntries(mux)

	var handler http.Handler = mux
	handler = s.signer.Middleware()(handler)
	handler = exemptAuth(handler, mux, "/health", "/metrics")

	handler = cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", auth.OrgHeader},
		AllowCredentials: true,
	}).Handler(handler)

	handler = httpmiddleware.ClientIP()(handler)
	handler = logger.Requests(log)(handler)

	return handler
}

// exemptAuth serves the named paths directly from mux, skipping the auth
// middleware wrapped around everything else.
func exemptAuth(authed http.Handler, mux *http.ServeMux, paths ...string) http.Handler {
	exempt := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		exempt[p] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := exempt[r.URL.Path]; ok {
			mux.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// guarded wraps a handler with the access guard at the given minimum role.
func (s *Server) guarded(minRole string, handler http.HandlerFunc) http.Handler {
	return s.guard.Require(minRole)(handler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store and tenancy errors to HTTP responses. Internal
// detail (which layer rejected the operation) is never exposed; cross-tenant
// probes uniformly read as not found.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrOrganizationNotFound),
		errors.Is(err, store.ErrMembershipNotFound),
		errors.Is(err, store.ErrInvitationNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrClientNotFound),
		errors.Is(err, store.ErrProjectNotFound),
		errors.Is(err, store.ErrTimeEntryNotFound),
		errors.Is(err, tenant.ErrPermissionDenied):
		writeError(w, http.StatusNotFound, "not found")

	case errors.Is(err, store.ErrOrganizationAlreadyExists),
		errors.Is(err, store.ErrMembershipConflict),
		errors.Is(err, store.ErrUserAlreadyExists),
		errors.Is(err, store.ErrClientAlreadyExists),
		errors.Is(err, store.ErrProjectAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")

	case errors.Is(err, tenant.ErrCrossOrgReference):
		// the referenced entity is invisible from this organization
		writeError(w, http.StatusNotFound, "referenced entity not found")

	case errors.Is(err, tenant.ErrNoTenantContext):
		// programming error: a route skipped the guard
		log.Error().Err(err).Msg("tenant-scoped operation ran without bound context")
		writeError(w, http.StatusInternalServerError, "internal error")

	case errors.Is(err, store.ErrRowIsolationViolation):
		log.Error().Err(err).Msg("row isolation policy rejection surfaced to API")
		writeError(w, http.StatusInternalServerError, "internal error")

	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// checkMemberLimit reports whether the active organization may add another
// membership under its plan limits. Zero means unlimited.
func checkMemberLimit(org *models.Organization, current int) bool {
	return org.MaxUsers <= 0 || current < int(org.MaxUsers)
}

func checkProjectLimit(org *models.Organization, current int) bool {
	return org.MaxProjects <= 0 || current < int(org.MaxProjects)
}
