package wallet

import (
	"fmt"
	"net/http"

	"github.com/miragespace/vpsdash/auth"
	resp "github.com/miragespace/vpsdash/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	WalletManager *Manager
	Logger        *zap.Logger
}

// Service is the read-only wallet API
type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.WalletManager == nil {
		return nil, fmt.Errorf("nil WalletManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) listWallets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	wallets, err := s.WalletManager.List(ctx, claims.UserID())
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, wallets)
}

func (s *Service) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)

	entries, err := s.WalletManager.Entries(ctx, claims.UserID())
	if err != nil {
		resp.WriteError(w, r, resp.FromError(err))
		return
	}
	resp.WriteResponse(w, r, entries)
}

// Router will return the routes under wallet API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listWallets)
	r.Get("/entries", s.listEntries)

	return r
}
