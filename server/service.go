package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/miragespace/vpsdash/auth"
	"github.com/miragespace/vpsdash/provider"
	resp "github.com/miragespace/vpsdash/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Lifecycle *Lifecycle
	Logger    *zap.Logger
	// RateLimit, when set, wraps the routes that call the provider on the caller's behalf
	RateLimit func(http.Handler) http.Handler
}

// Service is the server API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the server API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Lifecycle == nil {
		return nil, fmt.Errorf("nil Lifecycle is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) getServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	srv, err := s.Lifecycle.Get(ctx, claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, srv)
}

func (s *Service) listServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	results, err := s.Lifecycle.List(ctx, claims.UserID())
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, results)
}

// NewServerRequest contains the request from client to provision a new server
type NewServerRequest struct {
	Name    string   `json:"name"`
	Region  string   `json:"region"`
	Image   string   `json:"image"`
	Plan    string   `json:"plan"`
	SSHKeys []string `json:"sshKeys"`
}

func (s *Service) newServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req NewServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	srv, err := s.Lifecycle.Create(ctx, CreateRequest{
		UserID:  claims.UserID(),
		Name:    req.Name,
		Region:  req.Region,
		Image:   req.Image,
		Plan:    req.Plan,
		SSHKeys: req.SSHKeys,
	})
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, srv)
}

func (s *Service) syncServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	srv, err := s.Lifecycle.Sync(ctx, claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, srv)
}

// PowerRequest contains the request from client to control an existing server
type PowerRequest struct {
	Action provider.PowerAction `json:"action"`
}

func (s *Service) powerServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req PowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	srv, err := s.Lifecycle.Power(ctx, claims.UserID(), chi.URLParam(r, "id"), req.Action)
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, srv)
}

// RebuildServerRequest optionally selects a new image
type RebuildServerRequest struct {
	Image string `json:"image"`
}

func (s *Service) rebuildServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	var req RebuildServerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			resp.WriteError(w, r, resp.ErrInvalidJson())
			return
		}
	}

	srv, err := s.Lifecycle.Rebuild(ctx, claims.UserID(), chi.URLParam(r, "id"), RebuildRequest{Image: req.Image})
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, srv)
}

func (s *Service) deleteServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	result, err := s.Lifecycle.Delete(ctx, claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	if result.Warning != "" {
		resp.WriteResponse(w, r, result, result.Warning)
		return
	}
	resp.WriteResponse(w, r, result)
}

func (s *Service) serverStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	stats, err := s.Lifecycle.Stats(ctx, claims.UserID(), chi.URLParam(r, "id"))
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, stats)
}

// CatalogHandler serves the regions, images and plans accepted by Create
func (s *Service) CatalogHandler(w http.ResponseWriter, r *http.Request) {
	resp.WriteResponse(w, r, s.Lifecycle.Catalog.Snapshot())
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// Router will return the routes under server API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	limit := passthrough
	if s.RateLimit != nil {
		limit = s.RateLimit
	}
	mutating := r.With(limit)

	r.Get("/", s.listServers)
	mutating.Post("/", s.newServer)
	r.Get("/{id}", s.getServer)
	mutating.Post("/{id}/sync", s.syncServer)
	mutating.Post("/{id}/power", s.powerServer)
	mutating.Post("/{id}/rebuild", s.rebuildServer)
	mutating.Delete("/{id}", s.deleteServer)
	r.Get("/{id}/stats", s.serverStats)

	return r
}
